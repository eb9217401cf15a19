package audio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-relay/internal/observability"
)

// Segment triggers.
const (
	TriggerSilence     = "silence"
	TriggerMaxDuration = "max_duration"
	TriggerIdle        = "idle"
	TriggerFlush       = "flush"
)

// Segment is one bounded span of captured audio. Payload starts with Overlap
// worth of audio repeated from the previous segment.
type Segment struct {
	Payload  []byte
	Duration time.Duration
	Trigger  string
	Overlap  time.Duration
}

// SegmenterConfig configures a Segmenter.
type SegmenterConfig struct {
	SampleRate  int
	MinDuration time.Duration // speech must run this long before a silence cut
	MaxDuration time.Duration
	Overlap     time.Duration
	Idle        time.Duration // no audio for this long cuts the segment; 0 disables
	VAD         *VADConfig

	// OnSegment receives every cut segment. It is called with the segmenter
	// lock held and must not call back into the Segmenter.
	OnSegment func(Segment)
	Logger    zerolog.Logger
}

// Segmenter cuts a continuous PCM16 stream into speech segments using VAD.
type Segmenter struct {
	cfg        SegmenterConfig
	vad        *VADDetector
	frameBytes int
	preRoll    int

	mu           sync.Mutex
	pending      []byte // partial frame carried to the next Write
	current      []byte
	speechFrames int
	tail         *RingBuffer
	idleTimer    *time.Timer
	closed       bool
}

// NewSegmenter creates a segmenter. A nil VAD config derives the frame size
// from the sample rate.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	vadCfg := cfg.VAD
	if vadCfg == nil {
		vadCfg = DefaultVADConfig()
	}
	if vadCfg.FrameSize <= 0 {
		copied := *vadCfg
		copied.FrameSize = FrameSizeFor(cfg.SampleRate)
		vadCfg = &copied
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 8 * time.Second
	}

	vad := NewVADDetector(vadCfg)
	overlap := BytesFor(cfg.Overlap, cfg.SampleRate)
	return &Segmenter{
		cfg:        cfg,
		vad:        vad,
		frameBytes: vad.FrameBytes(),
		preRoll:    max(overlap, vad.FrameBytes()),
		tail:       NewRingBuffer(overlap),
	}
}

// Write feeds audio. Complete frames go through VAD immediately; a trailing
// partial frame waits for the next call.
func (s *Segmenter) Write(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.armIdleLocked()

	s.pending = append(s.pending, pcm...)
	for len(s.pending) >= s.frameBytes {
		frame := s.pending[:s.frameBytes]
		s.processFrameLocked(frame)
		s.pending = s.pending[s.frameBytes:]
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
}

func (s *Segmenter) processFrameLocked(frame []byte) {
	res := s.vad.ProcessFrame(frame)
	s.current = append(s.current, frame...)
	if res.Speech {
		s.speechFrames++
	}

	if s.speechFrames == 0 {
		// keep only a short pre-roll until speech starts
		if extra := len(s.current) - s.preRoll; extra > 0 {
			s.current = append(s.current[:0], s.current[extra:]...)
		}
		return
	}

	duration := Duration(len(s.current), s.cfg.SampleRate)
	switch {
	case res.SpeechEnded && duration >= s.cfg.MinDuration:
		s.cutLocked(TriggerSilence)
	case duration >= s.cfg.MaxDuration:
		s.cutLocked(TriggerMaxDuration)
	}
}

// Flush cuts whatever has been buffered, including a partial frame.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.pending) > 0 {
		s.current = append(s.current, s.pending...)
		s.pending = nil
	}
	s.cutLocked(TriggerFlush)
	s.vad.Reset()
}

// Close stops the idle timer and discards buffered audio.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.current = nil
	s.pending = nil
	s.tail.Clear()
}

func (s *Segmenter) armIdleLocked() {
	if s.cfg.Idle <= 0 {
		return
	}
	if s.idleTimer == nil {
		s.idleTimer = time.AfterFunc(s.cfg.Idle, s.onIdle)
		return
	}
	s.idleTimer.Reset(s.cfg.Idle)
}

func (s *Segmenter) onIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cutLocked(TriggerIdle)
	s.vad.Reset()
}

// cutLocked emits the current segment. Segments without speech are dropped.
func (s *Segmenter) cutLocked(trigger string) {
	current := s.current
	speech := s.speechFrames
	s.current = nil
	s.speechFrames = 0

	if speech == 0 || len(current) == 0 {
		return
	}

	var payload []byte
	var overlap time.Duration
	if !s.tail.IsEmpty() {
		prefix := s.tail.Snapshot()
		overlap = Duration(len(prefix), s.cfg.SampleRate)
		payload = make([]byte, 0, len(prefix)+len(current))
		payload = append(payload, prefix...)
	}
	payload = append(payload, current...)

	s.tail.Clear()
	s.tail.Write(current)

	seg := Segment{
		Payload:  payload,
		Duration: Duration(len(payload), s.cfg.SampleRate),
		Trigger:  trigger,
		Overlap:  overlap,
	}
	observability.RecordSegment(trigger)
	s.cfg.Logger.Debug().
		Str("trigger", trigger).
		Dur("duration", seg.Duration).
		Dur("overlap", overlap).
		Msg("Audio segment cut")

	if s.cfg.OnSegment != nil {
		s.cfg.OnSegment(seg)
	}
}
