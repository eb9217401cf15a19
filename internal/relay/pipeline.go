package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-relay/internal/audio"
	"github.com/lexiqai/caption-relay/internal/hub"
	"github.com/lexiqai/caption-relay/internal/pool"
	"github.com/lexiqai/caption-relay/internal/stt"
	"github.com/lexiqai/caption-relay/internal/transcript"
	"github.com/lexiqai/caption-relay/internal/translate"
)

// pipeline carries one session's audio through the pool and fans the
// resulting captions out through the hub.
type pipeline struct {
	sessionID  string
	sourceLang string
	opts       Options
	hub        *hub.Hub
	translator translate.Translator
	logger     zerolog.Logger

	pool      *pool.Pool
	segmenter *audio.Segmenter
	state     transcript.State
	emitter   *orderedEmitter

	// touched only by the event loop
	live *transcript.SentenceSegmenter
	next int64 // next sequence to be released

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	fatal     atomic.Bool
	closeOnce sync.Once
}

func newPipeline(ctx context.Context, info hub.Info, h *hub.Hub, dialer stt.Dialer, tr translate.Translator, opts Options, logger zerolog.Logger) (*pipeline, error) {
	pctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{
		sessionID:  info.ID,
		sourceLang: info.SourceLang,
		opts:       opts,
		hub:        h,
		translator: tr,
		logger:     logger,
		ctx:        pctx,
		cancel:     cancel,
	}
	p.emitter = newOrderedEmitter(pctx, opts.MaxInflight)
	p.live = newLiveSegmenter(opts, p.history)

	poolCfg := opts.Pool
	poolCfg.Logger = logger.With().Str("stage", "pool").Logger()
	p.pool = pool.New(dialer, poolCfg)
	if err := p.pool.Initialize(ctx, info.SourceLang, poolCfg.Size); err != nil {
		p.pool.Destroy()
		cancel()
		return nil, fmt.Errorf("failed to start transcription pool: %w", err)
	}

	segCfg := opts.Audio
	segCfg.OnSegment = p.submit
	segCfg.Logger = logger.With().Str("stage", "segmenter").Logger()
	p.segmenter = audio.NewSegmenter(segCfg)

	p.wg.Add(1)
	go p.run()
	if opts.StatsInterval > 0 {
		p.wg.Add(1)
		go p.reportStats()
	}
	return p, nil
}

// WriteAudio feeds host audio. It is a no-op once the pool is unusable.
func (p *pipeline) WriteAudio(pcm []byte) {
	if p.fatal.Load() {
		return
	}
	p.segmenter.Write(pcm)
}

// Flush cuts the current segment immediately.
func (p *pipeline) Flush() {
	p.segmenter.Flush()
}

func (p *pipeline) submit(seg audio.Segment) {
	seq, err := p.pool.Submit(pool.Chunk{
		Payload: seg.Payload,
		Meta: pool.SegmentMeta{
			Duration: seg.Duration,
			Trigger:  seg.Trigger,
			Overlap:  seg.Overlap,
		},
	})
	if err != nil {
		if errors.Is(err, pool.ErrPoolUnusable) {
			p.fatal.Store(true)
		}
		p.logger.Debug().Err(err).Str("trigger", seg.Trigger).Msg("Segment not submitted")
		return
	}
	p.logger.Debug().Int64("seq", seq).Str("trigger", seg.Trigger).Dur("duration", seg.Duration).Msg("Segment submitted")
}

func (p *pipeline) run() {
	defer p.wg.Done()

	for ev := range p.pool.Events() {
		switch ev.Kind {
		case pool.EventInterim:
			p.onInterim(ev)
		case pool.EventFinal:
			p.onFinal(ev)
		case pool.EventGapSkipped:
			p.onGap(ev)
		case pool.EventQueueOverflow:
			p.logger.Warn().Int64("seq", ev.Seq).Msg("Audio segment dropped, transcription is falling behind")
		case pool.EventWarning:
			p.warn(ev.Text)
		case pool.EventWorkerDead:
			p.logger.Debug().Int("worker", ev.WorkerID).Msg("Transcription worker lost")
		case pool.EventFatal:
			p.onFatal(ev)
		}
	}
}

func newLiveSegmenter(opts Options, history func(string)) *transcript.SentenceSegmenter {
	return transcript.NewSentenceSegmenter(transcript.SegmenterConfig{
		MaxLiveChars: opts.LiveMaxChars,
		MaxLiveAge:   opts.LiveMaxAge,
		OnSentence:   history,
	})
}

// onInterim shows live text only for the chunk whose final is released next,
// so live captions come from one worker at a time and sentences flushed early
// reach history in sequence order.
func (p *pipeline) onInterim(ev pool.Event) {
	if ev.ChunkSeq != p.next {
		return
	}
	text := transcript.Merge(p.state.Last(), ev.Text).NewPortion
	live := p.live.ProcessPartial(text)
	if live == "" {
		return
	}
	p.hub.BroadcastToListeners(p.sessionID, hub.TranslationMessage{
		OriginalText:   live,
		TranslatedText: live,
		SourceLang:     p.sourceLang,
		TargetLang:     p.sourceLang,
		Timestamp:      hub.Timestamp(time.Now()),
		SequenceID:     pool.InterimSeq,
		IsPartial:      true,
	}, "")
}

func (p *pipeline) onFinal(ev pool.Event) {
	p.next = ev.Seq + 1

	res := p.state.Apply(ev.Text)
	for _, sentence := range p.live.ProcessFinal(res.NewPortion) {
		p.history(sentence)
	}

	text := strings.TrimSpace(res.NewPortion)
	if text == "" {
		return
	}

	seq := ev.Seq
	logger := p.logger.With().Int64("seq", seq).Logger()
	logger.Debug().Str("text", text).Int("overlap_tokens", res.Overlap).Msg("Final released")

	p.emitter.Go(func(ctx context.Context) func() {
		return p.translateFinal(ctx, seq, text, logger)
	})
}

// translateFinal asks for every subscribed language except the source and
// returns the step that publishes the results.
func (p *pipeline) translateFinal(ctx context.Context, seq int64, text string, logger zerolog.Logger) func() {
	langs := p.hub.SessionLanguages(p.sessionID)
	if len(langs) == 0 {
		return nil
	}

	var targets []string
	for _, lang := range langs {
		if lang != p.sourceLang {
			targets = append(targets, lang)
		}
	}

	translations := map[string]string{}
	failed := map[string]error{}
	if len(targets) > 0 {
		out, err := p.translator.Translate(ctx, text, p.sourceLang, targets)
		if out != nil {
			translations = out
		}
		var partial *translate.PartialFailureError
		switch {
		case errors.As(err, &partial):
			failed = partial.Failed
		case err != nil:
			for _, lang := range targets {
				failed[lang] = err
			}
		}
		if len(failed) > 0 {
			logger.Warn().Err(err).Strs("failed_langs", keys(failed)).Msg("Partial translation failure, sending source text")
		}
	}

	return func() {
		now := hub.Timestamp(time.Now())
		for _, lang := range langs {
			msg := hub.TranslationMessage{
				OriginalText:   text,
				TranslatedText: text,
				SourceLang:     p.sourceLang,
				TargetLang:     lang,
				Timestamp:      now,
				SequenceID:     seq,
			}
			if out, ok := translations[lang]; ok && lang != p.sourceLang {
				msg.TranslatedText = out
			} else if err, ok := failed[lang]; ok {
				msg.TranslationError = "translation unavailable: " + err.Error()
			}
			p.hub.BroadcastToListeners(p.sessionID, msg, lang)
		}
	}
}

func (p *pipeline) history(sentence string) {
	p.hub.BroadcastToListeners(p.sessionID, hub.HistoryMessage{
		Text:       sentence,
		SourceLang: p.sourceLang,
		Timestamp:  hub.Timestamp(time.Now()),
	}, "")
}

func (p *pipeline) onGap(ev pool.Event) {
	p.next = ev.Seq + 1
	p.live.Reset()

	reason := "unknown"
	var gap *pool.GapSkippedError
	if errors.As(ev.Err, &gap) {
		reason = gap.Reason
	}
	p.hub.SendToHost(p.sessionID, hub.GapMessage{SequenceID: ev.Seq, Reason: reason})
}

func (p *pipeline) warn(text string) {
	p.hub.SendToHost(p.sessionID, hub.NewWarning(text))
	p.hub.BroadcastToListeners(p.sessionID, hub.NewWarning(text), "")
}

func (p *pipeline) onFatal(ev pool.Event) {
	p.fatal.Store(true)
	p.logger.Error().Err(ev.Err).Msg("Transcription pool unusable, session stopped")
	p.hub.MarkInactive(p.sessionID)
	p.hub.SendToHost(p.sessionID, hub.NewError("Transcription service unavailable, captions stopped"))
	p.hub.BroadcastToListeners(p.sessionID, hub.NewWarning("Captions are unavailable for this session"), "")
}

func (p *pipeline) reportStats() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.hub.SendToHost(p.sessionID, p.stats())
		}
	}
}

func (p *pipeline) stats() hub.StatsMessage {
	st := p.pool.Stats()
	return hub.StatsMessage{
		Busy:         st.Busy,
		Idle:         st.Idle,
		Reconnecting: st.Reconnecting,
		Dead:         st.Dead,
		QueueDepth:   st.QueueDepth,
		ReorderSize:  st.ReorderSize,
		HighestSeq:   st.HighestSeq,
		Listeners:    p.hub.ListenerCounts(p.sessionID),
	}
}

// close tears the pipeline down without publishing anything still pending.
func (p *pipeline) close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.segmenter.Close()
		p.pool.Destroy()
		p.wg.Wait()
		p.emitter.Wait()
		p.logger.Info().Msg("Session pipeline closed")
	})
}

func keys(m map[string]error) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
