package hub

import (
	"encoding/json"
	"time"
)

// Message kinds written to hosts and listeners.
const (
	TypeTranslation = "translation"
	TypeHistory     = "history"
	TypeWarning     = "warning"
	TypeError       = "error"
	TypeStats       = "stats"
	TypeSession     = "session"
	TypeGap         = "gap"
)

// Message is one outbound frame. Each kind is its own struct carrying a JSON
// "type" discriminator that is filled in on marshal.
type Message interface {
	MessageType() string
}

// TranslationMessage carries a caption for one target language. SequenceID
// is -1 for live, untranslated captions.
type TranslationMessage struct {
	Type             string `json:"type"`
	OriginalText     string `json:"originalText"`
	TranslatedText   string `json:"translatedText"`
	SourceLang       string `json:"sourceLang"`
	TargetLang       string `json:"targetLang"`
	Timestamp        int64  `json:"timestamp"`
	SequenceID       int64  `json:"sequenceId"`
	IsPartial        bool   `json:"isPartial"`
	TranslationError string `json:"translationError,omitempty"`
}

func (TranslationMessage) MessageType() string { return TypeTranslation }

func (m TranslationMessage) MarshalJSON() ([]byte, error) {
	type plain TranslationMessage
	m.Type = TypeTranslation
	return json.Marshal(plain(m))
}

// HistoryMessage is a finished source-language sentence.
type HistoryMessage struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	SourceLang string `json:"sourceLang"`
	Timestamp  int64  `json:"timestamp"`
}

func (HistoryMessage) MessageType() string { return TypeHistory }

func (m HistoryMessage) MarshalJSON() ([]byte, error) {
	type plain HistoryMessage
	m.Type = TypeHistory
	return json.Marshal(plain(m))
}

// NoticeMessage is a warning or an error.
type NoticeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m NoticeMessage) MessageType() string { return m.Type }

// StatsMessage reports pool and audience state to the host.
type StatsMessage struct {
	Type         string         `json:"type"`
	Busy         int            `json:"busy"`
	Idle         int            `json:"idle"`
	Reconnecting int            `json:"reconnecting"`
	Dead         int            `json:"dead"`
	QueueDepth   int            `json:"queueDepth"`
	ReorderSize  int            `json:"reorderSize"`
	HighestSeq   int64          `json:"highestSeq"`
	Listeners    map[string]int `json:"listeners"`
}

func (StatsMessage) MessageType() string { return TypeStats }

func (m StatsMessage) MarshalJSON() ([]byte, error) {
	type plain StatsMessage
	m.Type = TypeStats
	return json.Marshal(plain(m))
}

// SessionMessage tells a client which session it is attached to.
type SessionMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	Code       string `json:"code,omitempty"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang,omitempty"`
	ListenerID string `json:"listenerId,omitempty"`
}

func (SessionMessage) MessageType() string { return TypeSession }

func (m SessionMessage) MarshalJSON() ([]byte, error) {
	type plain SessionMessage
	m.Type = TypeSession
	return json.Marshal(plain(m))
}

// GapMessage reports a sequence that will never be captioned.
type GapMessage struct {
	Type       string `json:"type"`
	SequenceID int64  `json:"sequenceId"`
	Reason     string `json:"reason"`
}

func (GapMessage) MessageType() string { return TypeGap }

func (m GapMessage) MarshalJSON() ([]byte, error) {
	type plain GapMessage
	m.Type = TypeGap
	return json.Marshal(plain(m))
}

// NewWarning builds a warning notice.
func NewWarning(msg string) NoticeMessage {
	return NoticeMessage{Type: TypeWarning, Message: msg}
}

// NewError builds an error notice.
func NewError(msg string) NoticeMessage {
	return NoticeMessage{Type: TypeError, Message: msg}
}

// Timestamp returns t in Unix milliseconds, the wire format for timestamps.
func Timestamp(t time.Time) int64 {
	return t.UnixMilli()
}
