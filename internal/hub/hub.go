package hub

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pion/randutil"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-relay/internal/observability"
)

const (
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength      = 6
	maxCodeAttempts = 10
)

var (
	// ErrSessionNotFound is returned for unknown session ids or codes.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCodeSpace is returned when no free join code could be generated.
	ErrCodeSpace = errors.New("could not allocate a unique join code")
)

// Listener is one audience connection subscribed to a target language.
type Listener struct {
	ID         string
	Conn       Conn
	TargetLang string
	Name       string
	JoinedAt   time.Time
}

// Info is a snapshot of a session's public state.
type Info struct {
	ID         string
	Code       string
	SourceLang string
	CreatedAt  time.Time
	Active     bool
	HostID     string
}

// session is guarded by the hub mutex.
type session struct {
	info    Info
	host    Conn
	byLang  map[string]map[string]*Listener
	byConn  map[string]*Listener
	onClose []func()
	metrics *observability.SessionMetrics
}

// Hub is the registry of live sessions and the fan-out point for captions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	codes    map[string]string
	logger   zerolog.Logger
	newCode  func() (string, error)
}

// New creates an empty hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		codes:    make(map[string]string),
		logger:   logger,
		newCode: func() (string, error) {
			return randutil.GenerateCryptoRandomString(codeLength, codeAlphabet)
		},
	}
}

// CreateSession registers a session with a fresh id and join code.
func (h *Hub) CreateSession(sourceLang string) (Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var code string
	for attempt := 0; ; attempt++ {
		if attempt == maxCodeAttempts {
			return Info{}, ErrCodeSpace
		}
		c, err := h.newCode()
		if err != nil {
			return Info{}, fmt.Errorf("failed to generate join code: %w", err)
		}
		if _, taken := h.codes[c]; !taken {
			code = c
			break
		}
	}

	info := Info{
		ID:         ulid.Make().String(),
		Code:       code,
		SourceLang: sourceLang,
		CreatedAt:  time.Now(),
		Active:     true,
	}
	s := &session{
		info:    info,
		byLang:  make(map[string]map[string]*Listener),
		byConn:  make(map[string]*Listener),
		metrics: observability.NewSessionMetrics(info.ID),
	}
	s.metrics.RecordSessionStart()
	h.sessions[info.ID] = s
	h.codes[code] = info.ID

	h.logger.Info().Str("session_id", info.ID).Str("code", code).Str("source_lang", sourceLang).Msg("Session created")
	return info, nil
}

// Session returns a snapshot of the session.
func (h *Hub) Session(id string) (Info, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	return s.info, nil
}

// Metrics returns the session's metrics tracker, or nil for unknown ids.
func (h *Hub) Metrics(id string) *observability.SessionMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s, ok := h.sessions[id]; ok {
		return s.metrics
	}
	return nil
}

// ResolveCode maps a join code to its session id. Codes are case-insensitive.
func (h *Hub) ResolveCode(code string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.codes[normalizeCode(code)]
	if !ok {
		return "", ErrSessionNotFound
	}
	return id, nil
}

// SetHost binds conn as the session's host. A second call replaces, and
// closes, the previous host connection.
func (h *Hub) SetHost(id string, conn Conn) error {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if !ok {
		h.mu.Unlock()
		return ErrSessionNotFound
	}
	prev := s.host
	s.host = conn
	s.info.HostID = conn.ID()
	h.mu.Unlock()

	if prev != nil && prev.ID() != conn.ID() {
		h.logger.Info().Str("session_id", id).Str("previous_host", prev.ID()).Msg("Host replaced")
		prev.Close()
	}
	return nil
}

// HostDisconnected closes the session when connID is still its host. A stale
// connection that was already replaced is ignored.
func (h *Hub) HostDisconnected(id, connID string) {
	h.mu.RLock()
	s, ok := h.sessions[id]
	current := ok && s.host != nil && s.host.ID() == connID
	h.mu.RUnlock()

	if current {
		h.CloseSession(id)
	}
}

// SendToHost sends msg to the session's host, if one is bound.
func (h *Hub) SendToHost(id string, msg Message) error {
	h.mu.RLock()
	s, ok := h.sessions[id]
	var host Conn
	if ok {
		host = s.host
	}
	h.mu.RUnlock()

	if !ok {
		return ErrSessionNotFound
	}
	if host == nil {
		return ErrConnClosed
	}
	return host.Send(msg)
}

// AddListener subscribes conn to targetLang. A connection already in the
// session is moved to the new language.
func (h *Hub) AddListener(id string, conn Conn, targetLang, name string) (*Listener, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if existing, ok := s.byConn[conn.ID()]; ok {
		if name == "" {
			name = existing.Name
		}
		s.removeLocked(conn.ID())
	}

	l := &Listener{
		ID:         conn.ID(),
		Conn:       conn,
		TargetLang: targetLang,
		Name:       name,
		JoinedAt:   time.Now(),
	}
	group, ok := s.byLang[targetLang]
	if !ok {
		group = make(map[string]*Listener)
		s.byLang[targetLang] = group
	}
	group[l.ID] = l
	s.byConn[l.ID] = l
	observability.ListenerJoined(targetLang)

	h.logger.Info().Str("session_id", id).Str("listener_id", l.ID).Str("target_lang", targetLang).Str("name", name).Msg("Listener joined")
	return l, nil
}

// SetListenerLanguage moves a listener to another language group.
func (h *Hub) SetListenerLanguage(id, connID, targetLang string) error {
	h.mu.RLock()
	s, ok := h.sessions[id]
	var l *Listener
	if ok {
		l = s.byConn[connID]
	}
	h.mu.RUnlock()

	if !ok || l == nil {
		return ErrSessionNotFound
	}
	if l.TargetLang == targetLang {
		return nil
	}
	_, err := h.AddListener(id, l.Conn, targetLang, l.Name)
	return err
}

// RemoveListener unsubscribes a connection. The connection is not closed.
func (h *Hub) RemoveListener(id, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		if s.removeLocked(connID) {
			h.logger.Info().Str("session_id", id).Str("listener_id", connID).Msg("Listener left")
		}
	}
}

func (s *session) removeLocked(connID string) bool {
	l, ok := s.byConn[connID]
	if !ok {
		return false
	}
	delete(s.byConn, connID)
	if group, ok := s.byLang[l.TargetLang]; ok {
		delete(group, connID)
		if len(group) == 0 {
			delete(s.byLang, l.TargetLang)
		}
	}
	observability.ListenerLeft(l.TargetLang)
	return true
}

// SessionLanguages returns the distinct subscribed target languages, sorted.
// It is empty when nobody listens.
func (h *Hub) SessionLanguages(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil
	}
	langs := make([]string, 0, len(s.byLang))
	for lang := range s.byLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// ListenerCounts returns listeners per target language.
func (h *Hub) ListenerCounts(id string) map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[string]int)
	if s, ok := h.sessions[id]; ok {
		for lang, group := range s.byLang {
			counts[lang] = len(group)
		}
	}
	return counts
}

// BroadcastToListeners sends msg to the targetLang group, or to every
// listener when targetLang is empty. It returns the number of successful
// sends. Connections that fail are dropped from the session.
func (h *Hub) BroadcastToListeners(id string, msg Message, targetLang string) int {
	h.mu.RLock()
	s, ok := h.sessions[id]
	if !ok {
		h.mu.RUnlock()
		return 0
	}
	var recipients []*Listener
	if targetLang != "" {
		for _, l := range s.byLang[targetLang] {
			recipients = append(recipients, l)
		}
	} else {
		for _, l := range s.byConn {
			recipients = append(recipients, l)
		}
	}
	h.mu.RUnlock()

	sent := 0
	var failed []*Listener
	for _, l := range recipients {
		if err := l.Conn.Send(msg); err != nil {
			reason := "closed"
			if errors.Is(err, ErrSlowConsumer) {
				reason = "slow_consumer"
			}
			observability.RecordBroadcastFailure(reason)
			h.logger.Warn().Err(err).Str("session_id", id).Str("listener_id", l.ID).Msg("Dropping unreachable listener")
			failed = append(failed, l)
			continue
		}
		sent++
	}
	observability.RecordBroadcast(msg.MessageType(), sent)

	if len(failed) > 0 {
		h.prune(id, failed)
	}
	return sent
}

// prune removes failed listeners unless they rejoined meanwhile.
func (h *Hub) prune(id string, failed []*Listener) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		for _, l := range failed {
			if cur, ok := s.byConn[l.ID]; ok && cur == l {
				s.removeLocked(l.ID)
			}
		}
	}
	h.mu.Unlock()

	for _, l := range failed {
		l.Conn.Close()
	}
}

// MarkInactive flags the session as no longer accepting audio.
func (h *Hub) MarkInactive(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		s.info.Active = false
	}
}

// OnClose registers fn to run when the session closes.
func (h *Hub) OnClose(id string, fn func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.onClose = append(s.onClose, fn)
	return nil
}

// CloseSession disconnects the host and every listener, runs the close hooks
// and forgets the session.
func (h *Hub) CloseSession(id string) error {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if !ok {
		h.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(h.sessions, id)
	delete(h.codes, s.info.Code)
	listeners := make([]*Listener, 0, len(s.byConn))
	for _, l := range s.byConn {
		listeners = append(listeners, l)
		observability.ListenerLeft(l.TargetLang)
	}
	clear(s.byConn)
	clear(s.byLang)
	host := s.host
	hooks := s.onClose
	h.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	if host != nil {
		host.Close()
	}
	for _, l := range listeners {
		l.Conn.Close()
	}
	s.metrics.RecordSessionEnd()

	h.logger.Info().Str("session_id", id).Int("listeners", len(listeners)).Msg("Session closed")
	return nil
}

// CloseAll closes every session, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.CloseSession(id)
	}
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
