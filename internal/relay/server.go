package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-relay/internal/hub"
	"github.com/lexiqai/caption-relay/internal/observability"
	"github.com/lexiqai/caption-relay/internal/stt"
	"github.com/lexiqai/caption-relay/internal/translate"
)

// Server exposes the host and listener WebSocket endpoints.
type Server struct {
	opts       Options
	hub        *hub.Hub
	dialer     stt.Dialer
	translator translate.Translator
	upgrader   websocket.Upgrader
	logger     zerolog.Logger

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

// New creates a relay server.
func New(h *hub.Hub, dialer stt.Dialer, tr translate.Translator, opts Options, logger zerolog.Logger) *Server {
	if opts.DefaultSourceLang == "" {
		opts.DefaultSourceLang = "en"
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 4
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Server{
		opts:       opts,
		hub:        h,
		dialer:     dialer,
		translator: tr,
		upgrader: websocket.Upgrader{
			// Browsers connect from arbitrary event pages.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:    logger,
		pipelines: make(map[string]*pipeline),
	}
}

// HandleHost accepts the speaker's audio connection. Query parameters: lang
// (source language) and session, to take over an existing session.
func (s *Server) HandleHost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sourceLang := strings.TrimSpace(q.Get("lang"))
		if sourceLang == "" {
			sourceLang = s.opts.DefaultSourceLang
		}

		resume := q.Get("session")
		var info hub.Info
		if resume != "" {
			var err error
			if info, err = s.hub.Session(resume); err != nil {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
		}

		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to upgrade host connection")
			return
		}
		conn := hub.NewWSConn(ws, s.opts.SendBuffer, s.logger)

		if resume == "" {
			if info, err = s.hub.CreateSession(sourceLang); err != nil {
				s.logger.Error().Err(err).Msg("Failed to create session")
				conn.Send(hub.NewError("could not create session"))
				conn.Close()
				return
			}
		}

		logger := observability.WithCorrelationID(s.logger, observability.NewCorrelationID()).With().
			Str("session_id", info.ID).
			Str("host_conn", conn.ID()).
			Logger()

		if err := s.hub.SetHost(info.ID, conn); err != nil {
			conn.Send(hub.NewError(err.Error()))
			conn.Close()
			return
		}

		p, err := s.pipelineFor(r.Context(), info, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to start session pipeline")
			conn.Send(hub.NewError("Transcription service unavailable"))
			s.hub.CloseSession(info.ID)
			return
		}

		conn.Send(hub.SessionMessage{
			SessionID:  info.ID,
			Code:       info.Code,
			SourceLang: info.SourceLang,
		})
		logger.Info().Str("code", info.Code).Str("source_lang", info.SourceLang).Msg("Host connected")

		s.readHost(ws, p, info.ID, logger)
		s.hub.HostDisconnected(info.ID, conn.ID())
		conn.Close()
		logger.Info().Msg("Host disconnected")
	}
}

// pipelineFor returns the session's running pipeline or starts one.
func (s *Server) pipelineFor(ctx context.Context, info hub.Info, logger zerolog.Logger) (*pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pipelines[info.ID]; ok {
		return p, nil
	}

	p, err := newPipeline(ctx, info, s.hub, s.dialer, s.translator, s.opts, logger)
	if err != nil {
		return nil, err
	}
	s.pipelines[info.ID] = p

	id := info.ID
	s.hub.OnClose(id, func() {
		s.mu.Lock()
		delete(s.pipelines, id)
		s.mu.Unlock()
		p.close()
	})
	return p, nil
}

func (s *Server) readHost(ws *websocket.Conn, p *pipeline, sessionID string, logger zerolog.Logger) {
	metrics := s.hub.Metrics(sessionID)
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("Host read error")
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			if metrics != nil {
				metrics.RecordAudioBytes("in", len(data))
			}
			p.WriteAudio(data)

		case websocket.TextMessage:
			msg, err := parseControl(data)
			if err != nil {
				logger.Debug().Err(err).Msg("Ignoring malformed host message")
				continue
			}
			switch msg.Type {
			case ControlFlush:
				p.Flush()
			case ControlStop:
				p.Flush()
				return
			default:
				logger.Debug().Str("type", msg.Type).Msg("Unknown host message")
			}
		}
	}
}

// HandleListen accepts an audience connection. Query parameters: code or
// session, lang (target language, defaults to the source) and name.
func (s *Server) HandleListen() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		id := q.Get("session")
		if code := q.Get("code"); code != "" {
			var err error
			if id, err = s.hub.ResolveCode(code); err != nil {
				http.Error(w, "unknown join code", http.StatusNotFound)
				return
			}
		}
		info, err := s.hub.Session(id)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		targetLang := strings.TrimSpace(q.Get("lang"))
		if targetLang == "" {
			targetLang = info.SourceLang
		}

		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to upgrade listener connection")
			return
		}
		conn := hub.NewWSConn(ws, s.opts.SendBuffer, s.logger)
		defer conn.Close()

		logger := s.logger.With().Str("session_id", info.ID).Str("listener_id", conn.ID()).Logger()

		if _, err := s.hub.AddListener(info.ID, conn, targetLang, q.Get("name")); err != nil {
			conn.Send(hub.NewError(err.Error()))
			return
		}
		defer s.hub.RemoveListener(info.ID, conn.ID())

		conn.Send(s.sessionMessage(info, conn.ID(), targetLang))
		if !info.Active {
			conn.Send(hub.NewWarning("Captions are unavailable for this session"))
		}
		logger.Info().Str("target_lang", targetLang).Msg("Listener joined")

		s.readListener(ws, conn, info, logger)
		logger.Info().Msg("Listener left")
	}
}

func (s *Server) readListener(ws *websocket.Conn, conn *hub.WSConn, info hub.Info, logger zerolog.Logger) {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("Listener read error")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := parseControl(data)
		if err != nil || msg.Type != ControlSetLanguage {
			continue
		}
		lang := strings.TrimSpace(msg.Lang)
		if lang == "" {
			conn.Send(hub.NewWarning("language is required"))
			continue
		}
		if err := s.hub.SetListenerLanguage(info.ID, conn.ID(), lang); err != nil {
			if errors.Is(err, hub.ErrSessionNotFound) {
				return
			}
			conn.Send(hub.NewWarning(err.Error()))
			continue
		}
		conn.Send(s.sessionMessage(info, conn.ID(), lang))
		logger.Info().Str("target_lang", lang).Msg("Listener switched language")
	}
}

func (s *Server) sessionMessage(info hub.Info, listenerID, targetLang string) hub.SessionMessage {
	return hub.SessionMessage{
		SessionID:  info.ID,
		SourceLang: info.SourceLang,
		TargetLang: targetLang,
		ListenerID: listenerID,
	}
}

// Sessions reports how many sessions have a running pipeline.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipelines)
}

// Shutdown closes every session and its pipeline.
func (s *Server) Shutdown() {
	s.hub.CloseAll()
}
