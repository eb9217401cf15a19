package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"
)

// DeepgramConfig configures the Deepgram live provider.
type DeepgramConfig struct {
	APIKey     string
	Model      string
	SampleRate int
	Logger     zerolog.Logger
}

// DeepgramClient dials Deepgram live transcription sessions.
type DeepgramClient struct {
	cfg DeepgramConfig
}

// NewDeepgramClient creates a Dialer backed by Deepgram's streaming API.
func NewDeepgramClient(cfg DeepgramConfig) *DeepgramClient {
	return &DeepgramClient{cfg: cfg}
}

// messageCallbackHandler embeds the default handler and overrides only the
// callbacks the stream needs.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	stream *deepgramStream
}

func (m *messageCallbackHandler) Open(or *msginterfaces.OpenResponse) error {
	m.stream.opened()
	return nil
}

func (m *messageCallbackHandler) Message(mr *msginterfaces.MessageResponse) error {
	m.stream.handleMessage(mr)
	return nil
}

func (m *messageCallbackHandler) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	m.stream.handleUtteranceEnd()
	return nil
}

func (m *messageCallbackHandler) Error(er *msginterfaces.ErrorResponse) error {
	m.stream.handleError(fmt.Sprintf("%+v", er))
	return nil
}

func (m *messageCallbackHandler) Close(cr *msginterfaces.CloseResponse) error {
	m.stream.handleClosed()
	return nil
}

// Dial opens a live session and waits for Deepgram to confirm the socket.
func (d *DeepgramClient) Dial(ctx context.Context, sourceLang string) (Stream, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       sourceLang,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.cfg.SampleRate,
	}

	// The session outlives the dial context, which only bounds the handshake.
	streamCtx, cancel := context.WithCancel(context.Background())
	s := &deepgramStream{
		events: make(chan Event, 64),
		ready:  make(chan struct{}),
		cancel: cancel,
		logger: d.cfg.Logger,
	}

	client, err := listenClient.NewWSUsingCallback(
		streamCtx,
		d.cfg.APIKey,
		nil, // ClientOptions - nil uses defaults
		tOptions,
		&messageCallbackHandler{
			DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
			stream:                 s,
		},
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to create Deepgram client: %w", ErrTransport, err)
	}
	s.client = client

	client.Connect()

	select {
	case <-s.ready:
		d.cfg.Logger.Debug().Str("model", d.cfg.Model).Str("language", sourceLang).Msg("Deepgram stream open")
		return s, nil
	case err := <-s.failed():
		s.Close()
		return nil, err
	case <-ctx.Done():
		s.Close()
		return nil, fmt.Errorf("%w: Deepgram handshake: %w", ErrTransport, ctx.Err())
	}
}

type deepgramStream struct {
	client *listenClient.WSCallback
	cancel context.CancelFunc
	logger zerolog.Logger

	readyOnce sync.Once
	ready     chan struct{}

	mu         sync.Mutex
	events     chan Event
	closed     bool
	dialErr    chan error
	committed  []string // is_final fragments of the current segment
	ending     bool     // EndSegment called, waiting for the endpoint
	lastWasEnd bool     // last result was speech_final
}

func (s *deepgramStream) opened() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *deepgramStream) failed() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialErr == nil {
		s.dialErr = make(chan error, 1)
	}
	return s.dialErr
}

func (s *deepgramStream) Events() <-chan Event {
	return s.events
}

func (s *deepgramStream) SendAudio(frame []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.lastWasEnd = false
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: stream closed", ErrTransport)
	}

	if _, err := s.client.Write(frame); err != nil {
		return fmt.Errorf("%w: failed to send audio to Deepgram: %w", ErrTransport, err)
	}
	return nil
}

// EndSegment marks the segment complete. Deepgram has no per-segment close,
// so the final is emitted at the next speech_final or UtteranceEnd.
func (s *deepgramStream) EndSegment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: stream closed", ErrTransport)
	}
	s.ending = true
	if s.lastWasEnd {
		s.releaseLocked()
	}
	return nil
}

func (s *deepgramStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	if s.client != nil {
		s.client.Finish()
	}
	s.cancel()
	return nil
}

func (s *deepgramStream) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.IsFinal {
		if text != "" {
			s.committed = append(s.committed, text)
		}
		s.lastWasEnd = msg.SpeechFinal
		if msg.SpeechFinal && s.ending {
			s.releaseLocked()
			return
		}
	}

	live := strings.Join(s.committed, " ")
	if !msg.IsFinal && text != "" {
		live = strings.TrimSpace(live + " " + text)
	}
	if live != "" {
		s.emitLocked(Event{Kind: EventInterim, Text: live})
	}
}

func (s *deepgramStream) handleUtteranceEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastWasEnd = true
	if s.ending {
		s.releaseLocked()
	}
}

func (s *deepgramStream) handleError(description string) {
	s.logger.Warn().Str("error", description).Msg("Deepgram error")

	class := ErrTransport
	lower := strings.ToLower(description)
	for _, marker := range []string{"401", "403", "429", "unauthorized", "forbidden", "insufficient", "quota"} {
		if strings.Contains(lower, marker) {
			class = ErrQuotaOrAuth
			break
		}
	}
	err := fmt.Errorf("%w: deepgram: %s", class, description)

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ready:
		s.emitLocked(Event{Kind: EventError, Err: err})
	default:
		if s.dialErr == nil {
			s.dialErr = make(chan error, 1)
		}
		select {
		case s.dialErr <- err:
		default:
		}
	}
}

func (s *deepgramStream) handleClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(Event{Kind: EventError, Err: fmt.Errorf("%w: Deepgram closed the stream", ErrTransport)})
}

// releaseLocked emits the accumulated final for the current segment.
func (s *deepgramStream) releaseLocked() {
	final := strings.Join(s.committed, " ")
	s.committed = s.committed[:0]
	s.ending = false
	s.lastWasEnd = false
	s.emitLocked(Event{Kind: EventFinal, Text: final})
}

func (s *deepgramStream) emitLocked(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Str("kind", ev.Kind.String()).Msg("Deepgram event channel full, dropping event")
	}
}

var _ Dialer = (*DeepgramClient)(nil)
