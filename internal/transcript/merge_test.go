package transcript

import (
	"strings"
	"testing"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name       string
		previous   string
		current    string
		wantMerged string
		wantNew    string
	}{
		{
			name:       "two token overlap",
			previous:   "hello how are you",
			current:    "are you doing well",
			wantMerged: "hello how are you doing well",
			wantNew:    "doing well",
		},
		{
			name:       "empty previous",
			previous:   "",
			current:    "hello",
			wantMerged: "hello",
			wantNew:    "hello",
		},
		{
			name:       "empty current",
			previous:   "hello there",
			current:    "  ",
			wantMerged: "hello there",
			wantNew:    "",
		},
		{
			name:       "empty previous keeps current spacing",
			previous:   "",
			current:    "hello   world",
			wantMerged: "hello   world",
			wantNew:    "hello   world",
		},
		{
			name:       "empty current keeps previous spacing",
			previous:   "hello   world",
			current:    "",
			wantMerged: "hello   world",
			wantNew:    "",
		},
		{
			name:       "no overlap",
			previous:   "testing one two",
			current:    "three four",
			wantMerged: "testing one two three four",
			wantNew:    "three four",
		},
		{
			name:       "case insensitive two tokens",
			previous:   "we went to The Store",
			current:    "the store and bought milk",
			wantMerged: "we went to The Store and bought milk",
			wantNew:    "and bought milk",
		},
		{
			name:       "single common word is not an overlap",
			previous:   "I saw the",
			current:    "the cat",
			wantMerged: "I saw the the cat",
			wantNew:    "the cat",
		},
		{
			name:       "current fully contained",
			previous:   "one two three four",
			current:    "three four",
			wantMerged: "one two three four",
			wantNew:    "",
		},
		{
			name:       "largest overlap wins",
			previous:   "a b a b",
			current:    "a b a b c",
			wantMerged: "a b a b c",
			wantNew:    "c",
		},
		{
			name:       "whitespace normalised",
			previous:   "hello   how are\tyou",
			current:    "are you\n doing well",
			wantMerged: "hello how are you doing well",
			wantNew:    "doing well",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Merge(tt.previous, tt.current)
			if res.MergedText != tt.wantMerged {
				t.Errorf("Expected merged %q, got %q", tt.wantMerged, res.MergedText)
			}
			if res.NewPortion != tt.wantNew {
				t.Errorf("Expected new portion %q, got %q", tt.wantNew, res.NewPortion)
			}
		})
	}
}

func TestMerge_OverlapWindowIsBounded(t *testing.T) {
	words := make([]string, 20)
	for i := range words {
		words[i] = "w"
	}
	text := strings.Join(words, " ")

	res := Merge(text, text)
	if res.Overlap != MaxOverlapTokens {
		t.Errorf("Expected overlap capped at %d, got %d", MaxOverlapTokens, res.Overlap)
	}
	if got := len(strings.Fields(res.NewPortion)); got != 5 {
		t.Errorf("Expected 5 new tokens, got %d", got)
	}
}

func TestState_Apply(t *testing.T) {
	var s State

	first := s.Apply("hello how are you")
	if first.NewPortion != "hello how are you" {
		t.Errorf("Expected full first final, got %q", first.NewPortion)
	}

	second := s.Apply("are you doing well")
	if second.NewPortion != "doing well" {
		t.Errorf("Expected 'doing well', got %q", second.NewPortion)
	}
	if s.Last() != "hello how are you doing well" {
		t.Errorf("Unexpected carried text %q", s.Last())
	}

	s.Reset()
	if s.Last() != "" {
		t.Errorf("Expected empty state after reset, got %q", s.Last())
	}
}

func TestState_KeepsOnlyTail(t *testing.T) {
	var s State
	words := make([]string, 40)
	for i := range words {
		words[i] = string(rune('a' + i%26))
	}
	s.Apply(strings.Join(words, " "))

	if got := len(strings.Fields(s.Last())); got != MaxOverlapTokens {
		t.Errorf("Expected %d carried tokens, got %d", MaxOverlapTokens, got)
	}
}
