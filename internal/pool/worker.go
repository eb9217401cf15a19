package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-relay/internal/resilience"
	"github.com/lexiqai/caption-relay/internal/stt"
)

// worker owns one upstream stream. Fields other than stream and
// quotaFailures are guarded by the pool mutex; those two belong to the
// worker goroutine.
type worker struct {
	id     int
	pool   *Pool
	logger zerolog.Logger

	state   WorkerState
	current *Chunk
	assign  chan Chunk

	stream        stt.Stream
	quotaFailures int
}

func newWorker(id int, p *Pool, stream stt.Stream) *worker {
	return &worker{
		id:     id,
		pool:   p,
		logger: p.logger.With().Int("worker_id", id).Logger(),
		assign: make(chan Chunk, 1),
		stream: stream,
	}
}

func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()
	defer w.closeStream()

	for {
		if w.stream == nil && !w.reconnect(ctx) {
			return
		}

		select {
		case <-ctx.Done():
			return

		case chunk := <-w.assign:
			err := w.process(ctx, chunk)
			switch {
			case err == nil:
				w.quotaFailures = 0
			case ctx.Err() != nil:
				return
			case errors.Is(err, errChunkTimeout):
				w.closeStream()
			default:
				w.fail(err)
			}

		case ev, ok := <-w.stream.Events():
			// idle: only failures matter, anything else is stale
			if !ok {
				w.fail(fmt.Errorf("%w: upstream closed the stream", stt.ErrTransport))
			} else if ev.Kind == stt.EventError {
				w.fail(ev.Err)
			}
		}
	}
}

// process streams chunk in frames, ends the segment and waits for its final.
func (w *worker) process(ctx context.Context, chunk Chunk) error {
	frameBytes := w.pool.cfg.FrameBytes
	for off := 0; off < len(chunk.Payload); off += frameBytes {
		end := min(off+frameBytes, len(chunk.Payload))
		if err := w.stream.SendAudio(chunk.Payload[off:end]); err != nil {
			return err
		}
		if err := w.drainPending(); err != nil {
			return err
		}
	}
	if err := w.stream.EndSegment(); err != nil {
		return err
	}

	timeout := w.pool.cfg.ChunkTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ChunkTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			w.pool.workerTimedOut(w, chunk.Seq)
			return errChunkTimeout

		case ev, ok := <-w.stream.Events():
			if !ok {
				return fmt.Errorf("%w: upstream closed the stream", stt.ErrTransport)
			}
			switch ev.Kind {
			case stt.EventInterim:
				w.pool.workerInterim(w, ev.Text)
			case stt.EventFinal:
				w.pool.workerFinal(w, chunk.Seq, ev.Text)
				return nil
			case stt.EventError:
				return ev.Err
			}
		}
	}
}

// drainPending handles events that arrived while audio was being sent.
func (w *worker) drainPending() error {
	for {
		select {
		case ev, ok := <-w.stream.Events():
			if !ok {
				return fmt.Errorf("%w: upstream closed the stream", stt.ErrTransport)
			}
			switch ev.Kind {
			case stt.EventInterim:
				w.pool.workerInterim(w, ev.Text)
			case stt.EventError:
				return ev.Err
			}
		default:
			return nil
		}
	}
}

func (w *worker) fail(err error) {
	if stt.IsQuotaOrAuth(err) {
		w.quotaFailures++
	}
	w.pool.workerFailed(w, err)
	w.closeStream()
}

// reconnect dials until a stream is ready. It returns false when the worker
// is finished, either dead or cancelled.
func (w *worker) reconnect(ctx context.Context) bool {
	cfg := w.pool.cfg
	limit := cfg.QuotaRetryLimit
	if limit < 1 {
		limit = 1
	}

	err := resilience.Reconnect(ctx, func(ctx context.Context) error {
		dctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()

		stream, err := w.pool.dialer.Dial(dctx, w.pool.sourceLang)
		if err != nil {
			if stt.IsQuotaOrAuth(err) {
				w.quotaFailures++
			}
			return err
		}
		w.stream = stream
		return nil
	}, &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     cfg.ReconnectBackoff,
		Multiplier:  2.0,
		MaxBackoff:  cfg.ReconnectMaxBackoff,
		Permanent: func(err error) bool {
			return stt.IsQuotaOrAuth(err) && w.quotaFailures >= limit
		},
		Logger: w.logger,
	})

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		w.pool.workerDead(w, err)
		return false
	}

	if !w.pool.workerReady(w) {
		return false
	}
	return true
}

func (w *worker) closeStream() {
	if w.stream != nil {
		w.stream.Close()
		w.stream = nil
	}
}
