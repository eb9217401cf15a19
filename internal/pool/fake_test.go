package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/caption-relay/internal/stt"
)

// behavior decides how the fake upstream answers one segment, identified by
// the first payload byte. attempt counts how often that segment was seen.
type behavior func(id byte, attempt int) (delay time.Duration, err error)

type fakeDialer struct {
	behave  behavior
	dialErr func(n int) error

	mu       sync.Mutex
	dials    int
	attempts map[byte]int
	order    []byte
	streams  []*fakeStream

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeDialer(behave behavior) *fakeDialer {
	if behave == nil {
		behave = func(byte, int) (time.Duration, error) { return 10 * time.Millisecond, nil }
	}
	return &fakeDialer{behave: behave, attempts: make(map[byte]int)}
}

func (d *fakeDialer) Dial(ctx context.Context, sourceLang string) (stt.Stream, error) {
	d.mu.Lock()
	n := d.dials
	d.dials++
	d.mu.Unlock()

	if d.dialErr != nil {
		if err := d.dialErr(n); err != nil {
			return nil, err
		}
	}

	s := &fakeStream{
		dialer: d,
		events: make(chan stt.Event, 16),
		done:   make(chan struct{}),
	}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) processed() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.order...)
}

func (d *fakeDialer) allClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.streams {
		select {
		case <-s.done:
		default:
			return false
		}
	}
	return true
}

type fakeStream struct {
	dialer *fakeDialer
	events chan stt.Event
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	buf []byte
}

func (s *fakeStream) Events() <-chan stt.Event { return s.events }

func (s *fakeStream) SendAudio(frame []byte) error {
	select {
	case <-s.done:
		return stt.ErrTransport
	default:
	}
	s.mu.Lock()
	if len(s.buf) == 0 {
		n := s.dialer.active.Add(1)
		for {
			cur := s.dialer.maxActive.Load()
			if n <= cur || s.dialer.maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
	}
	s.buf = append(s.buf, frame...)
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) EndSegment() error {
	s.mu.Lock()
	payload := s.buf
	s.buf = nil
	s.mu.Unlock()

	id := payload[0]
	d := s.dialer
	d.mu.Lock()
	attempt := d.attempts[id]
	d.attempts[id]++
	d.order = append(d.order, id)
	d.mu.Unlock()

	delay, err := d.behave(id, attempt)
	go func() {
		select {
		case <-time.After(delay):
			d.active.Add(-1)
		case <-s.done:
			d.active.Add(-1)
			return
		}
		if err != nil {
			s.send(stt.Event{Kind: stt.EventError, Err: err})
			return
		}
		s.send(stt.Event{Kind: stt.EventInterim, Text: fmt.Sprintf("chunk %d partial", id)})
		s.send(stt.Event{Kind: stt.EventFinal, Text: fmt.Sprintf("chunk %d", id)})
	}()
	return nil
}

func (s *fakeStream) send(ev stt.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Size = 2
	cfg.QueueDepth = 8
	cfg.HandshakeTimeout = time.Second
	cfg.ReorderHold = 2 * time.Second
	cfg.ChunkTimeout = 2 * time.Second
	cfg.FrameBytes = 4
	cfg.ReconnectMaxAttempts = 3
	cfg.ReconnectBackoff = 5 * time.Millisecond
	cfg.ReconnectMaxBackoff = 20 * time.Millisecond
	cfg.QuotaRetryLimit = 2
	return cfg
}

func startPool(t *testing.T, d stt.Dialer, cfg Config) *Pool {
	t.Helper()
	p := New(d, cfg)
	if err := p.Initialize(context.Background(), "en", cfg.Size); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(p.Destroy)
	return p
}

func chunkFor(id byte) Chunk {
	return Chunk{Payload: []byte{id, 1, 2, 3, 4, 5}}
}

func submit(t *testing.T, p *Pool, ids ...byte) {
	t.Helper()
	for _, id := range ids {
		seq, err := p.Submit(chunkFor(id))
		if err != nil {
			t.Fatalf("Submit(%d) failed: %v", id, err)
		}
		if seq != int64(id) {
			t.Fatalf("Expected seq %d, got %d", id, seq)
		}
	}
}

// nextOrdered returns the next non-interim event.
func nextOrdered(t *testing.T, p *Pool) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			if ev.Kind != EventInterim {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

var errQuota = fmt.Errorf("%w: quota exceeded", stt.ErrQuotaOrAuth)
