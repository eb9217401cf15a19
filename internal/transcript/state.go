package transcript

import (
	"strings"
	"sync"
)

// State carries the last emitted final text of one session so the next final
// can be merged against it. Only the tail that Merge can match is kept.
type State struct {
	mu   sync.Mutex
	last string
}

// Apply merges current onto the carried text and stores the result.
func (s *State) Apply(current string) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Merge(s.last, current)
	s.last = tail(res.MergedText, MaxOverlapTokens)
	return res
}

// Last returns the carried text.
func (s *State) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reset forgets the carried text.
func (s *State) Reset() {
	s.mu.Lock()
	s.last = ""
	s.mu.Unlock()
}

func tail(text string, n int) string {
	tokens := strings.Fields(text)
	if len(tokens) > n {
		tokens = tokens[len(tokens)-n:]
	}
	return strings.Join(tokens, " ")
}
