package pool

import (
	"sort"
	"time"
)

// pending is a final (or a known gap) waiting for its turn.
type pending struct {
	seq       int64
	workerID  int
	text      string
	arrivedAt time.Time
	meta      SegmentMeta
	heldSince time.Time
	gap       string // non-empty for a sequence that will never produce text
}

// reorderBuffer releases results strictly by sequence. It is guarded by the
// pool mutex.
type reorderBuffer struct {
	next  int64 // next sequence to release
	items map[int64]pending
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{items: make(map[int64]pending)}
}

// add stores p. It returns false when p.seq was already released or skipped.
func (r *reorderBuffer) add(p pending) bool {
	if p.seq < r.next {
		return false
	}
	if _, exists := r.items[p.seq]; exists {
		return false
	}
	r.items[p.seq] = p
	return true
}

// releaseReady pops the contiguous run starting at next.
func (r *reorderBuffer) releaseReady() []pending {
	var out []pending
	for {
		p, ok := r.items[r.next]
		if !ok {
			return out
		}
		delete(r.items, r.next)
		out = append(out, p)
		r.next++
	}
}

// flush releases everything held in ascending order, filling holes below the
// highest held sequence with gaps of the given reason.
func (r *reorderBuffer) flush(reason string, now time.Time) []pending {
	if len(r.items) == 0 {
		return nil
	}
	seqs := make([]int64, 0, len(r.items))
	for seq := range r.items {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	highest := seqs[len(seqs)-1]
	out := make([]pending, 0, highest-r.next+1)
	for seq := r.next; seq <= highest; seq++ {
		p, ok := r.items[seq]
		if !ok {
			p = pending{seq: seq, gap: reason, heldSince: now}
		}
		out = append(out, p)
	}
	clear(r.items)
	r.next = highest + 1
	return out
}

// oldest returns when the longest-held item entered the buffer.
func (r *reorderBuffer) oldest() (time.Time, bool) {
	var oldest time.Time
	for _, p := range r.items {
		if oldest.IsZero() || p.heldSince.Before(oldest) {
			oldest = p.heldSince
		}
	}
	return oldest, !oldest.IsZero()
}

func (r *reorderBuffer) size() int {
	return len(r.items)
}

func (r *reorderBuffer) reset() {
	clear(r.items)
}
