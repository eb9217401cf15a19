// Package pool runs several upstream streaming connections in parallel and
// releases their final transcripts in the order the audio arrived.
package pool

import (
	"time"

	"github.com/rs/zerolog"
)

// WorkerState is the lifecycle state of one upstream connection.
type WorkerState int

const (
	StateIdle WorkerState = iota
	StateBusy
	StateReconnecting
	StateDead
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateReconnecting:
		return "reconnecting"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// SegmentMeta describes how a chunk was cut from the audio stream.
type SegmentMeta struct {
	Duration time.Duration
	Trigger  string
	Overlap  time.Duration
}

// Chunk is one audio segment. Seq is assigned by Submit.
type Chunk struct {
	Seq       int64
	Payload   []byte
	ArrivedAt time.Time
	Meta      SegmentMeta
}

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventGapSkipped
	EventQueueOverflow
	EventWarning
	EventWorkerDead
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventGapSkipped:
		return "gap_skipped"
	case EventQueueOverflow:
		return "queue_overflow"
	case EventWarning:
		return "warning"
	case EventWorkerDead:
		return "worker_dead"
	case EventFatal:
		return "fatal"
	}
	return "unknown"
}

// InterimSeq tags interim events, which are not ordered.
const InterimSeq int64 = -1

// Event is delivered on Pool.Events. Finals and gaps arrive in increasing Seq.
type Event struct {
	Kind     EventKind
	Seq      int64
	WorkerID int
	// ChunkSeq is the sequence an interim belongs to.
	ChunkSeq  int64
	Text      string
	ArrivedAt time.Time
	Meta      SegmentMeta
	Err       error
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Busy         int   `json:"busy"`
	Idle         int   `json:"idle"`
	Reconnecting int   `json:"reconnecting"`
	Dead         int   `json:"dead"`
	QueueDepth   int   `json:"queueDepth"`
	ReorderSize  int   `json:"reorderSize"`
	HighestSeq   int64 `json:"highestSeq"`
}

// Config holds the pool tunables.
type Config struct {
	Size             int
	QueueDepth       int
	HandshakeTimeout time.Duration
	ReorderHold      time.Duration
	ChunkTimeout     time.Duration
	FrameBytes       int

	ReconnectMaxAttempts int
	ReconnectBackoff     time.Duration
	ReconnectMaxBackoff  time.Duration
	QuotaRetryLimit      int

	Logger zerolog.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Size:                 3,
		QueueDepth:           8,
		HandshakeTimeout:     5 * time.Second,
		ReorderHold:          3 * time.Second,
		ChunkTimeout:         15 * time.Second,
		FrameBytes:           3200,
		ReconnectMaxAttempts: 5,
		ReconnectBackoff:     time.Second,
		ReconnectMaxBackoff:  30 * time.Second,
		QuotaRetryLimit:      3,
		Logger:               zerolog.Nop(),
	}
}
