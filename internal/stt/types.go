// Package stt talks to the upstream streaming recognition service. Each
// Stream is one long-lived connection that transcribes a sequence of audio
// segments, one at a time.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport marks upstream disconnects and read/write failures.
	ErrTransport = errors.New("upstream transport error")

	// ErrQuotaOrAuth marks rejected credentials and exhausted quota.
	ErrQuotaOrAuth = errors.New("upstream quota or auth error")
)

// EventKind identifies what an Event carries.
type EventKind int

const (
	EventReady EventKind = iota
	EventInterim
	EventFinal
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one message received from the upstream.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Stream is a connected upstream session that has completed its handshake.
type Stream interface {
	// SendAudio sends one fixed-format audio frame.
	SendAudio(frame []byte) error

	// EndSegment signals that the current segment is complete. The upstream
	// answers with exactly one EventFinal for it.
	EndSegment() error

	// Events delivers interim, final and error events. It is closed when the
	// connection ends.
	Events() <-chan Event

	// Close terminates the session.
	Close() error
}

// Dialer opens Streams. Dial returns only after the setup handshake
// completed; ctx bounds the handshake.
type Dialer interface {
	Dial(ctx context.Context, sourceLang string) (Stream, error)
}

// UpstreamError is an error reported by the upstream in-band or through the
// handshake HTTP status.
type UpstreamError struct {
	Code    int
	Message string
	class   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Code, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.class
}

// NewUpstreamError classifies code into ErrQuotaOrAuth or ErrTransport.
func NewUpstreamError(code int, message string) *UpstreamError {
	return &UpstreamError{Code: code, Message: message, class: classifyCode(code)}
}

func classifyCode(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests:
		return ErrQuotaOrAuth
	}
	return ErrTransport
}

// IsQuotaOrAuth reports whether err is in the non-transient class.
func IsQuotaOrAuth(err error) bool {
	return errors.Is(err, ErrQuotaOrAuth)
}

// ErrorClass returns a short label for metrics.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsQuotaOrAuth(err):
		return "quota_auth"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "transport"
}
