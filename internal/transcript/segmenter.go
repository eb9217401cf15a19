package transcript

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// SegmenterConfig bounds how much unpunctuated text may stay live.
type SegmenterConfig struct {
	MaxLiveChars int           // force-flush once live text is longer than this
	MaxLiveAge   time.Duration // force-flush once live text has been pending this long

	// OnSentence receives sentences completed during ProcessPartial.
	OnSentence func(sentence string)

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// SentenceSegmenter splits an utterance that the upstream resends in full on
// every update into finished sentences and a short live remainder.
// It is not safe for concurrent use.
type SentenceSegmenter struct {
	cfg SegmenterConfig

	seen      string              // last full text passed to ProcessPartial
	offset    int                 // bytes of seen already flushed
	flushed   map[string]struct{} // normalized sentences flushed this utterance
	liveSince time.Time
}

// NewSentenceSegmenter creates a segmenter. Zero limits disable the
// corresponding force-flush.
func NewSentenceSegmenter(cfg SegmenterConfig) *SentenceSegmenter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SentenceSegmenter{
		cfg:     cfg,
		flushed: make(map[string]struct{}),
	}
}

// ProcessPartial flushes sentences newly completed in fullText through
// OnSentence and returns the unflushed remainder to display live.
func (s *SentenceSegmenter) ProcessPartial(fullText string) string {
	s.resync(fullText)
	s.seen = fullText

	sentences, consumed := splitSentences(fullText[s.offset:], false)
	s.offset += consumed
	for _, sentence := range sentences {
		s.emit(sentence)
	}

	live := fullText[s.offset:]
	trimmed := strings.TrimSpace(live)
	if trimmed == "" {
		s.liveSince = time.Time{}
		return ""
	}

	now := s.cfg.Now()
	if consumed > 0 || s.liveSince.IsZero() {
		s.liveSince = now
	}

	if s.overBudget(trimmed, now) {
		s.forceFlush(fullText, now)
		trimmed = strings.TrimSpace(fullText[s.offset:])
	}
	return trimmed
}

// forceFlush emits live text up to its last word boundary, then cuts any
// remainder still over the character budget at the budget, which is the only
// boundary unspaced scripts offer.
func (s *SentenceSegmenter) forceFlush(fullText string, now time.Time) {
	live := fullText[s.offset:]
	if cut := lastSpace(live); cut > 0 {
		if head := strings.TrimSpace(live[:cut]); head != "" {
			s.emit(head)
		}
		s.offset += skipSpace(live, cut)
		s.liveSince = now
	}

	for s.cfg.MaxLiveChars > 0 {
		live = fullText[s.offset:]
		start := skipSpace(live, 0)
		if utf8.RuneCountInString(strings.TrimSpace(live)) <= s.cfg.MaxLiveChars {
			return
		}
		cut := start + runeOffset(live[start:], s.cfg.MaxLiveChars)
		s.emit(live[start:cut])
		s.offset += skipSpace(live, cut)
		s.liveSince = now
	}
}

// ProcessFinal flushes everything left in fullText, drops sentences already
// flushed during this utterance, resets the segmenter and returns the new
// sentences in order.
func (s *SentenceSegmenter) ProcessFinal(fullText string) []string {
	defer s.Reset()

	rest := fullText
	if s.offset <= len(fullText) && strings.EqualFold(fullText[:s.offset], s.seen[:s.offset]) {
		rest = fullText[s.offset:]
	}

	sentences, consumed := splitSentences(rest, true)
	if tail := strings.TrimSpace(rest[consumed:]); tail != "" {
		sentences = append(sentences, tail)
	}

	out := make([]string, 0, len(sentences))
	for _, sentence := range sentences {
		key := normalize(sentence)
		if _, dup := s.flushed[key]; dup {
			continue
		}
		s.flushed[key] = struct{}{}
		out = append(out, sentence)
	}
	return out
}

// Reset starts a new utterance.
func (s *SentenceSegmenter) Reset() {
	s.seen = ""
	s.offset = 0
	s.liveSince = time.Time{}
	clear(s.flushed)
}

// Live returns the current unflushed text without processing anything.
func (s *SentenceSegmenter) Live() string {
	if s.offset > len(s.seen) {
		return ""
	}
	return strings.TrimSpace(s.seen[s.offset:])
}

func (s *SentenceSegmenter) emit(sentence string) {
	key := normalize(sentence)
	if _, dup := s.flushed[key]; dup {
		return
	}
	s.flushed[key] = struct{}{}
	if s.cfg.OnSentence != nil {
		s.cfg.OnSentence(sentence)
	}
}

func (s *SentenceSegmenter) overBudget(live string, now time.Time) bool {
	if s.cfg.MaxLiveChars > 0 && utf8.RuneCountInString(live) > s.cfg.MaxLiveChars {
		return true
	}
	return s.cfg.MaxLiveAge > 0 && now.Sub(s.liveSince) >= s.cfg.MaxLiveAge
}

// resync rescans from the start when the upstream rewrote text we already
// flushed or sent a shorter utterance. Sentences flushed before are skipped by
// emit, so only the changed part surfaces again.
func (s *SentenceSegmenter) resync(fullText string) {
	if s.offset == 0 {
		return
	}
	if s.offset > len(fullText) || !strings.EqualFold(fullText[:s.offset], s.seen[:s.offset]) {
		s.offset = 0
	}
}

// splitSentences returns the complete sentences at the start of text and the
// number of bytes they span, including trailing whitespace. A terminator counts
// only when followed by whitespace, or by the end of text when atEnd is set.
// Full-width terminators and the ellipsis end a sentence on their own, even
// at the end of a partial.
func splitSentences(text string, atEnd bool) ([]string, int) {
	var sentences []string
	start, consumed := 0, 0

	for i, r := range text {
		if !isTerminal(r) {
			continue
		}
		next := i + utf8.RuneLen(r)
		if standalone(r) {
			// a run such as "！？" or "……" ends at its last rune
			if next < len(text) {
				if nr, _ := utf8.DecodeRuneInString(text[next:]); isTerminal(nr) {
					continue
				}
			}
		} else if next < len(text) {
			nr, _ := utf8.DecodeRuneInString(text[next:])
			if !unicode.IsSpace(nr) {
				continue
			}
		} else if !atEnd {
			continue
		}

		if sentence := strings.TrimSpace(text[start:next]); sentence != "" {
			sentences = append(sentences, sentence)
		}
		consumed = skipSpace(text, next)
		start = consumed
	}
	return sentences, consumed
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func standalone(r rune) bool {
	switch r {
	case '…', '。', '！', '？':
		return true
	}
	return false
}

// runeOffset returns the byte offset just past the first n runes of text.
func runeOffset(text string, n int) int {
	for i := range text {
		if n == 0 {
			return i
		}
		n--
	}
	return len(text)
}

func skipSpace(text string, i int) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

func lastSpace(text string) int {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	return strings.LastIndexFunc(trimmed, unicode.IsSpace)
}

func normalize(sentence string) string {
	return strings.ToLower(strings.Join(strings.Fields(sentence), " "))
}
