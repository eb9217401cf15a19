package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebsocketDialer is the subset of *websocket.Dialer used to reach the upstream.
type WebsocketDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Wire messages of the realtime protocol.
type controlMessage struct {
	Type       string `json:"type"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
}

type serverMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	msgSetup        = "setup"
	msgReady        = "ready"
	msgEndOfSegment = "end_of_segment"
	msgTerminate    = "terminate"
	msgInterim      = "interim"
	msgFinal        = "final"
	msgError        = "error"

	encodingPCM16 = "pcm_s16le"
	writeTimeout  = 5 * time.Second
)

// WebSocketConfig configures the generic realtime upstream.
type WebSocketConfig struct {
	URL        string
	APIKey     string
	SampleRate int
	Dialer     WebsocketDialer // defaults to websocket.DefaultDialer
	Logger     zerolog.Logger
}

// WebSocketClient dials the generic realtime streaming protocol.
type WebSocketClient struct {
	cfg WebSocketConfig
}

// NewWebSocketClient creates a Dialer for the generic protocol.
func NewWebSocketClient(cfg WebSocketConfig) *WebSocketClient {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &WebSocketClient{cfg: cfg}
}

// Dial connects, sends setup and waits for the ready acknowledgment.
func (c *WebSocketClient) Dial(ctx context.Context, sourceLang string) (Stream, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upstream URL: %w", err)
	}
	q := u.Query()
	q.Set("language", sourceLang)
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, fmt.Errorf("failed to connect to upstream: %w", NewUpstreamError(resp.StatusCode, resp.Status))
		}
		return nil, fmt.Errorf("%w: failed to connect to upstream: %w", ErrTransport, err)
	}

	if err := c.handshake(ctx, conn, sourceLang); err != nil {
		conn.Close()
		return nil, err
	}

	s := &wsStream{
		conn:   conn,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
		logger: c.cfg.Logger,
	}
	go s.readLoop()
	return s, nil
}

func (c *WebSocketClient) handshake(ctx context.Context, conn *websocket.Conn, sourceLang string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)
	defer conn.SetWriteDeadline(time.Time{})
	defer conn.SetReadDeadline(time.Time{})

	setup := controlMessage{
		Type:       msgSetup,
		Language:   sourceLang,
		SampleRate: c.cfg.SampleRate,
		Encoding:   encodingPCM16,
	}
	if err := conn.WriteJSON(setup); err != nil {
		return fmt.Errorf("%w: failed to send setup: %w", ErrTransport, err)
	}

	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%w: waiting for ready: %w", ErrTransport, err)
		}
		switch msg.Type {
		case msgReady:
			return nil
		case msgError:
			return fmt.Errorf("setup rejected: %w", NewUpstreamError(msg.Code, msg.Message))
		default:
			c.cfg.Logger.Debug().Str("type", msg.Type).Msg("Ignoring message before ready")
		}
	}
}

type wsStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
	once    sync.Once
	logger  zerolog.Logger
}

func (s *wsStream) Events() <-chan Event {
	return s.events
}

func (s *wsStream) SendAudio(frame []byte) error {
	return s.write(websocket.BinaryMessage, frame)
}

func (s *wsStream) EndSegment() error {
	data, _ := json.Marshal(controlMessage{Type: msgEndOfSegment})
	return s.write(websocket.TextMessage, data)
}

func (s *wsStream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return fmt.Errorf("%w: stream closed", ErrTransport)
	default:
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

// Close sends terminate and closes the socket. Safe to call more than once.
func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		data, _ := json.Marshal(controlMessage{Type: msgTerminate})
		s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.TextMessage, data)
		close(s.done)
		err = s.conn.Close()
		s.writeMu.Unlock()
	})
	return err
}

func (s *wsStream) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: read: %w", ErrTransport, err)})
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("Error parsing upstream message")
			continue
		}

		switch msg.Type {
		case msgInterim:
			s.emit(Event{Kind: EventInterim, Text: msg.Text})
		case msgFinal:
			s.emit(Event{Kind: EventFinal, Text: msg.Text})
		case msgError:
			s.emit(Event{Kind: EventError, Err: NewUpstreamError(msg.Code, msg.Message)})
		case msgReady:
		default:
			s.logger.Debug().Str("type", msg.Type).Msg("Unknown upstream message type")
		}
	}
}

func (s *wsStream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

var _ Dialer = (*WebSocketClient)(nil)
