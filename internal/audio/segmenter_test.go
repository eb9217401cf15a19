package audio

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// At 1kHz one millisecond is one sample, and a 20ms frame is 40 bytes.
const testRate = 1000

func tone(ms int) []byte    { return frameOf(5000, ms) }
func silence(ms int) []byte { return frameOf(0, ms) }

type segmentSink struct {
	mu       sync.Mutex
	segments []Segment
	ch       chan Segment
}

func newSink() *segmentSink {
	return &segmentSink{ch: make(chan Segment, 16)}
}

func (s *segmentSink) add(seg Segment) {
	s.mu.Lock()
	s.segments = append(s.segments, seg)
	s.mu.Unlock()
	s.ch <- seg
}

func (s *segmentSink) all() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Segment(nil), s.segments...)
}

func newTestSegmenter(sink *segmentSink, idle time.Duration) *Segmenter {
	return NewSegmenter(SegmenterConfig{
		SampleRate:  testRate,
		MinDuration: 300 * time.Millisecond,
		MaxDuration: time.Second,
		Overlap:     100 * time.Millisecond,
		Idle:        idle,
		VAD: &VADConfig{
			EnergyThreshold: 500,
			SilenceFrames:   5,
		},
		OnSegment: sink.add,
		Logger:    zerolog.Nop(),
	})
}

func TestSegmenter_CutsOnSilence(t *testing.T) {
	sink := newSink()
	s := newTestSegmenter(sink, 0)
	defer s.Close()

	s.Write(silence(200))
	s.Write(tone(400))
	s.Write(silence(100))

	segs := sink.all()
	if len(segs) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(segs))
	}
	seg := segs[0]
	if seg.Trigger != TriggerSilence {
		t.Errorf("Expected silence trigger, got %s", seg.Trigger)
	}
	// 100ms pre-roll + 400ms speech + 100ms trailing silence
	if seg.Duration != 600*time.Millisecond {
		t.Errorf("Expected 600ms segment, got %v", seg.Duration)
	}
	if seg.Overlap != 0 {
		t.Errorf("Expected no overlap on the first segment, got %v", seg.Overlap)
	}
}

func TestSegmenter_PrefixesOverlap(t *testing.T) {
	sink := newSink()
	s := newTestSegmenter(sink, 0)
	defer s.Close()

	s.Write(tone(400))
	s.Write(silence(100))
	s.Write(tone(300))
	s.Write(silence(100))

	segs := sink.all()
	if len(segs) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(segs))
	}
	second := segs[1]
	if second.Overlap != 100*time.Millisecond {
		t.Errorf("Expected 100ms overlap, got %v", second.Overlap)
	}
	if second.Duration != 500*time.Millisecond {
		t.Errorf("Expected 100ms overlap + 400ms audio, got %v", second.Duration)
	}
	// overlap repeats the tail of the first segment: its trailing silence
	if FrameRMS(second.Payload[:200]) != 0 {
		t.Error("Expected overlap prefix to be the previous segment's tail")
	}
	if FrameRMS(second.Payload[200:240]) == 0 {
		t.Error("Expected new speech right after the overlap")
	}
}

func TestSegmenter_CutsAtMaxDuration(t *testing.T) {
	sink := newSink()
	s := newTestSegmenter(sink, 0)
	defer s.Close()

	s.Write(tone(1200))

	segs := sink.all()
	if len(segs) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(segs))
	}
	if segs[0].Trigger != TriggerMaxDuration || segs[0].Duration != time.Second {
		t.Errorf("Expected 1s max_duration segment, got %s %v", segs[0].Trigger, segs[0].Duration)
	}

	s.Flush()
	segs = sink.all()
	if len(segs) != 2 || segs[1].Trigger != TriggerFlush {
		t.Fatalf("Expected flushed remainder, got %d segments", len(segs))
	}
	if segs[1].Duration != 300*time.Millisecond {
		t.Errorf("Expected 100ms overlap + 200ms remainder, got %v", segs[1].Duration)
	}
}

func TestSegmenter_ShortSpeechWaitsForMinimum(t *testing.T) {
	sink := newSink()
	s := newTestSegmenter(sink, 0)
	defer s.Close()

	s.Write(tone(100))
	s.Write(silence(100))
	if n := len(sink.all()); n != 0 {
		t.Fatalf("Expected no cut below the minimum duration, got %d", n)
	}

	s.Flush()
	segs := sink.all()
	if len(segs) != 1 || segs[0].Trigger != TriggerFlush {
		t.Errorf("Expected a single flush segment, got %+v", segs)
	}
}

func TestSegmenter_DiscardsSilence(t *testing.T) {
	sink := newSink()
	s := newTestSegmenter(sink, 0)
	defer s.Close()

	s.Write(silence(3000))
	s.Flush()

	if n := len(sink.all()); n != 0 {
		t.Errorf("Expected silent audio to produce no segments, got %d", n)
	}
}

func TestSegmenter_PartialFramesCarryOver(t *testing.T) {
	sink := newSink()
	s := newTestSegmenter(sink, 0)
	defer s.Close()

	loud := tone(400)
	for i := 0; i < len(loud); i += 30 {
		s.Write(loud[i:min(i+30, len(loud))])
	}
	s.Write(silence(100))

	segs := sink.all()
	if len(segs) != 1 || segs[0].Duration != 500*time.Millisecond {
		t.Errorf("Expected one 500ms segment from uneven writes, got %+v", segs)
	}
}

func TestSegmenter_IdleTimeoutCuts(t *testing.T) {
	sink := newSink()
	s := newTestSegmenter(sink, 30*time.Millisecond)
	defer s.Close()

	s.Write(tone(200))

	select {
	case seg := <-sink.ch:
		if seg.Trigger != TriggerIdle {
			t.Errorf("Expected idle trigger, got %s", seg.Trigger)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected idle cut")
	}
}

func TestSegmenter_CloseStopsEverything(t *testing.T) {
	sink := newSink()
	s := newTestSegmenter(sink, 20*time.Millisecond)

	s.Write(tone(200))
	s.Close()
	s.Write(tone(2000))
	s.Flush()

	time.Sleep(60 * time.Millisecond)
	if n := len(sink.all()); n != 0 {
		t.Errorf("Expected nothing after Close, got %d segments", n)
	}
}
