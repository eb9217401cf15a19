package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolUnusable is returned once every worker is dead.
	ErrPoolUnusable = errors.New("session pool unusable: no live workers")

	// ErrPoolDestroyed is returned after Destroy.
	ErrPoolDestroyed = errors.New("session pool destroyed")

	// ErrNotInitialized is returned by Submit before Initialize succeeded.
	ErrNotInitialized = errors.New("session pool not initialized")

	errChunkTimeout = errors.New("chunk timed out waiting for final")
)

// InitializationError means no worker completed the upstream handshake.
type InitializationError struct {
	Size int
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("session pool: none of %d workers connected: %v", e.Size, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// QueueOverflowError reports the chunk dropped to make room for a newer one.
type QueueOverflowError struct {
	DroppedSeq int64
}

func (e *QueueOverflowError) Error() string {
	return fmt.Sprintf("queue full: dropped chunk %d", e.DroppedSeq)
}

// Gap reasons.
const (
	GapHoldExpired   = "hold_expired"
	GapQueueOverflow = "queue_overflow"
	GapPoolFatal     = "pool_fatal"
)

// GapSkippedError reports a sequence that will never produce a final.
type GapSkippedError struct {
	Seq    int64
	Reason string
}

func (e *GapSkippedError) Error() string {
	return fmt.Sprintf("sequence %d skipped: %s", e.Seq, e.Reason)
}
