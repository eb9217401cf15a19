package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/caption-relay/internal/observability"
	"github.com/lexiqai/caption-relay/internal/stt"
)

// Pool dispatches audio chunks over a fixed set of upstream workers and
// reorders their finals back into submission order.
//
// Submit and every worker completion path share one mutex guarding the queue,
// worker states, the reorder buffer and the outbox. Events are handed to the
// consumer by a separate goroutine so the lock is never held while it is slow.
type Pool struct {
	cfg    Config
	dialer stt.Dialer
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	sourceLang  string
	initialized bool
	destroyed   bool
	fatal       bool
	nextSeq     int64
	queue       *Queue[Chunk]
	workers     []*worker
	reorder     *reorderBuffer
	holdTimer   *time.Timer
	outbox      []Event

	notify chan struct{}
	events chan Event
}

// New creates a pool. Call Initialize before Submit.
func New(dialer stt.Dialer, cfg Config) *Pool {
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	if cfg.FrameBytes < 1 {
		cfg.FrameBytes = DefaultConfig().FrameBytes
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		dialer:  dialer,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
		queue:   NewQueue[Chunk](cfg.QueueDepth),
		reorder: newReorderBuffer(),
		notify:  make(chan struct{}, 1),
		events:  make(chan Event, 64),
	}

	p.wg.Add(1)
	go p.deliver()
	return p
}

// Events delivers interims, ordered finals and pool notifications. It is
// closed by Destroy.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Initialize opens size upstream connections in parallel, each bounded by the
// handshake timeout. It fails only when none connects; workers that failed
// keep retrying in the background.
func (p *Pool) Initialize(ctx context.Context, sourceLang string, size int) error {
	if size < 1 {
		size = p.cfg.Size
	}
	if size < 1 {
		size = 1
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPoolDestroyed
	}
	if p.initialized {
		p.mu.Unlock()
		return fmt.Errorf("session pool already initialized")
	}
	p.sourceLang = sourceLang
	p.mu.Unlock()

	streams := make([]stt.Stream, size)
	errs := make([]error, size)

	var g errgroup.Group
	for i := 0; i < size; i++ {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, p.cfg.HandshakeTimeout)
			defer cancel()
			streams[i], errs[i] = p.dialer.Dial(dctx, sourceLang)
			return nil
		})
	}
	_ = g.Wait()

	connected := 0
	for _, s := range streams {
		if s != nil {
			connected++
		}
	}
	if connected == 0 {
		return &InitializationError{Size: size, Err: errors.Join(errs...)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		for _, s := range streams {
			if s != nil {
				s.Close()
			}
		}
		return ErrPoolDestroyed
	}

	for i := 0; i < size; i++ {
		w := newWorker(i, p, streams[i])
		w.state = StateReconnecting
		if streams[i] != nil {
			w.state = StateIdle
		} else {
			p.logger.Warn().Err(errs[i]).Int("worker_id", i).Msg("Worker failed initial handshake, retrying in background")
		}
		observability.AddWorkerState(w.state.String(), 1)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go w.run(p.ctx)
	}
	p.initialized = true

	p.logger.Info().Int("size", size).Int("connected", connected).Str("source_lang", sourceLang).Msg("Session pool initialized")
	return nil
}

// Submit assigns the next sequence number to chunk and dispatches it to an
// idle worker, or queues it. A full queue evicts its oldest chunk.
func (p *Pool) Submit(chunk Chunk) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.destroyed:
		return 0, ErrPoolDestroyed
	case p.fatal:
		return 0, ErrPoolUnusable
	case !p.initialized:
		return 0, ErrNotInitialized
	}

	chunk.Seq = p.nextSeq
	p.nextSeq++
	if chunk.ArrivedAt.IsZero() {
		chunk.ArrivedAt = time.Now()
	}
	observability.RecordChunkSubmitted()

	if w := p.idleWorkerLocked(); w != nil {
		p.assignLocked(w, chunk)
		return chunk.Seq, nil
	}

	if dropped, evicted := p.queue.PushBack(chunk); evicted {
		p.logger.Warn().Int64("seq", dropped.Seq).Int("queue_depth", p.queue.Len()).Msg("Pool queue full, dropping oldest chunk")
		observability.RecordQueueOverflow()
		p.emitLocked(Event{
			Kind:      EventQueueOverflow,
			Seq:       dropped.Seq,
			ArrivedAt: dropped.ArrivedAt,
			Meta:      dropped.Meta,
			Err:       &QueueOverflowError{DroppedSeq: dropped.Seq},
		})
		p.reorder.add(pending{seq: dropped.Seq, gap: GapQueueOverflow, heldSince: time.Now(), arrivedAt: dropped.ArrivedAt})
		p.releaseLocked()
	}
	return chunk.Seq, nil
}

// Stats returns worker counts, queue depth, reorder size and the highest
// assigned sequence (-1 before the first Submit).
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		QueueDepth:  p.queue.Len(),
		ReorderSize: p.reorder.size(),
		HighestSeq:  p.nextSeq - 1,
	}
	for _, w := range p.workers {
		switch w.state {
		case StateIdle:
			s.Idle++
		case StateBusy:
			s.Busy++
		case StateReconnecting:
			s.Reconnecting++
		case StateDead:
			s.Dead++
		}
	}
	return s
}

// Destroy closes every connection and discards queued and held results
// without emitting them. Events is closed when Destroy returns.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	if p.holdTimer != nil {
		p.holdTimer.Stop()
	}
	p.queue.Clear()
	p.reorder.reset()
	p.outbox = nil
	for _, w := range p.workers {
		observability.AddWorkerState(w.state.String(), -1)
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Session pool destroyed")
}

// deliver drains the outbox to the events channel in order.
func (p *Pool) deliver() {
	defer p.wg.Done()
	defer close(p.events)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.notify:
		}

		for {
			p.mu.Lock()
			if p.destroyed || len(p.outbox) == 0 {
				p.mu.Unlock()
				break
			}
			batch := p.outbox
			p.outbox = nil
			p.mu.Unlock()

			for _, ev := range batch {
				select {
				case p.events <- ev:
				case <-p.ctx.Done():
					return
				}
			}
		}
	}
}

func (p *Pool) emitLocked(ev Event) {
	p.outbox = append(p.outbox, ev)
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool) idleWorkerLocked() *worker {
	for _, w := range p.workers {
		if w.state == StateIdle {
			return w
		}
	}
	return nil
}

func (p *Pool) setStateLocked(w *worker, state WorkerState) {
	if w.state == state {
		return
	}
	observability.AddWorkerState(w.state.String(), -1)
	observability.AddWorkerState(state.String(), 1)
	w.state = state
}

func (p *Pool) assignLocked(w *worker, chunk Chunk) {
	p.setStateLocked(w, StateBusy)
	w.current = &chunk
	w.assign <- chunk
	w.logger.Debug().Int64("seq", chunk.Seq).Msg("Chunk assigned")
}

// dispatchLocked hands queued chunks to idle workers.
func (p *Pool) dispatchLocked() {
	for p.queue.Len() > 0 {
		w := p.idleWorkerLocked()
		if w == nil {
			return
		}
		chunk, _ := p.queue.PopFront()
		p.assignLocked(w, chunk)
	}
}

// releaseLocked emits every releasable result and re-arms the hold timer.
func (p *Pool) releaseLocked() {
	p.emitReleasedLocked(p.reorder.releaseReady())
	p.armHoldLocked()
}

func (p *Pool) emitReleasedLocked(released []pending) {
	for _, r := range released {
		if r.gap != "" {
			observability.RecordGapSkipped(r.gap)
			p.logger.Warn().Int64("seq", r.seq).Str("reason", r.gap).Msg("Sequence skipped")
			p.emitLocked(Event{
				Kind:      EventGapSkipped,
				Seq:       r.seq,
				ArrivedAt: r.arrivedAt,
				Err:       &GapSkippedError{Seq: r.seq, Reason: r.gap},
			})
			continue
		}
		observability.RecordFinalRelease(r.arrivedAt)
		p.emitLocked(Event{
			Kind:      EventFinal,
			Seq:       r.seq,
			WorkerID:  r.workerID,
			Text:      r.text,
			ArrivedAt: r.arrivedAt,
			Meta:      r.meta,
		})
	}
}

func (p *Pool) armHoldLocked() {
	if p.holdTimer != nil {
		p.holdTimer.Stop()
		p.holdTimer = nil
	}
	oldest, ok := p.reorder.oldest()
	if !ok {
		return
	}
	wait := p.cfg.ReorderHold - time.Since(oldest)
	if wait < 0 {
		wait = 0
	}
	p.holdTimer = time.AfterFunc(wait, p.onHoldExpired)
}

func (p *Pool) onHoldExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	// a stale timer can fire after the buffer moved on
	oldest, ok := p.reorder.oldest()
	if !ok {
		return
	}
	if time.Since(oldest) < p.cfg.ReorderHold {
		p.armHoldLocked()
		return
	}

	p.logger.Warn().Int64("next_seq", p.reorder.next).Int("held", p.reorder.size()).Msg("Reorder hold expired, flushing")
	p.emitReleasedLocked(p.reorder.flush(GapHoldExpired, time.Now()))
	p.armHoldLocked()
}

// workerInterim forwards interim text untouched, tagged with the chunk the
// worker is transcribing.
func (p *Pool) workerInterim(w *worker, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || w.current == nil {
		return
	}
	p.emitLocked(Event{Kind: EventInterim, Seq: InterimSeq, ChunkSeq: w.current.Seq, WorkerID: w.id, Text: text})
}

// workerFinal parks the final for seq in the reorder buffer, frees the worker
// and hands it the next queued chunk.
func (p *Pool) workerFinal(w *worker, seq int64, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	chunk := p.completeLocked(w, seq, text)
	if chunk == nil {
		return
	}
	p.setStateLocked(w, StateIdle)
	p.releaseLocked()
	p.dispatchLocked()
}

// workerTimedOut releases an empty final for seq and parks the worker in
// Reconnecting so its connection is recycled.
func (p *Pool) workerTimedOut(w *worker, seq int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	observability.RecordUpstreamError("timeout")
	w.logger.Warn().Int64("seq", seq).Dur("timeout", p.cfg.ChunkTimeout).Msg("No final before chunk timeout, recycling connection")
	if p.completeLocked(w, seq, "") != nil {
		p.setStateLocked(w, StateReconnecting)
		p.releaseLocked()
	}
}

func (p *Pool) completeLocked(w *worker, seq int64, text string) *Chunk {
	chunk := w.current
	if chunk == nil || chunk.Seq != seq {
		w.logger.Debug().Int64("seq", seq).Msg("Ignoring final for a chunk this worker no longer holds")
		return nil
	}
	w.current = nil

	accepted := p.reorder.add(pending{
		seq:       seq,
		workerID:  w.id,
		text:      text,
		arrivedAt: chunk.ArrivedAt,
		meta:      chunk.Meta,
		heldSince: time.Now(),
	})
	if !accepted {
		observability.RecordLateFinalDropped()
		w.logger.Warn().Int64("seq", seq).Msg("Dropping final for a sequence already skipped")
	}
	return chunk
}

// workerFailed moves w to Reconnecting and puts its chunk back at the front
// of the queue for another worker.
func (p *Pool) workerFailed(w *worker, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}

	observability.RecordUpstreamError(stt.ErrorClass(err))
	ev := w.logger.Warn().Err(err).Str("state", w.state.String())

	if chunk := w.current; chunk != nil {
		w.current = nil
		select {
		case <-w.assign:
		default:
		}
		p.queue.PushFront(*chunk)
		ev = ev.Int64("requeued_seq", chunk.Seq)
	}
	ev.Msg("Worker connection failed")

	p.setStateLocked(w, StateReconnecting)
	p.dispatchLocked()
}

// workerReady returns a reconnected worker to service.
func (p *Pool) workerReady(w *worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return false
	}
	observability.RecordWorkerReconnect("success")
	w.logger.Info().Msg("Worker reconnected")
	p.setStateLocked(w, StateIdle)
	p.dispatchLocked()
	return true
}

// workerDead retires w. Losing the last live worker is fatal for the session.
func (p *Pool) workerDead(w *worker, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}

	observability.RecordWorkerReconnect("dead")
	w.logger.Error().Err(err).Msg("Worker exhausted reconnection attempts")
	p.setStateLocked(w, StateDead)
	p.emitLocked(Event{Kind: EventWorkerDead, WorkerID: w.id, Err: err})
	if stt.IsQuotaOrAuth(err) {
		p.emitLocked(Event{
			Kind:     EventWarning,
			WorkerID: w.id,
			Text:     "Transcription service rejected the connection (quota or credentials)",
			Err:      err,
		})
	}

	for _, other := range p.workers {
		if other.state != StateDead {
			return
		}
	}

	p.fatal = true
	p.logger.Error().Int("dropped_chunks", p.queue.Len()).Msg("All pool workers dead, session unusable")
	p.queue.Clear()
	p.emitReleasedLocked(p.reorder.flush(GapPoolFatal, time.Now()))
	p.armHoldLocked()
	p.emitLocked(Event{Kind: EventFatal, Err: fmt.Errorf("%w: %w", ErrPoolUnusable, err)})
}
