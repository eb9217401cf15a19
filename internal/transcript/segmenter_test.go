package transcript

import (
	"reflect"
	"testing"
	"time"
	"unicode/utf8"
)

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func collect(out *[]string) func(string) {
	return func(s string) { *out = append(*out, s) }
}

func TestSentenceSegmenter_FlushesCompletedSentence(t *testing.T) {
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{OnSentence: collect(&flushed)})

	if live := s.ProcessPartial("Hello"); live != "Hello" {
		t.Errorf("Expected live 'Hello', got %q", live)
	}
	if len(flushed) != 0 {
		t.Errorf("Expected nothing flushed, got %v", flushed)
	}

	live := s.ProcessPartial("Hello. How are")
	if live != "How are" {
		t.Errorf("Expected live 'How are', got %q", live)
	}
	if !reflect.DeepEqual(flushed, []string{"Hello."}) {
		t.Errorf("Expected [Hello.], got %v", flushed)
	}
}

func TestSentenceSegmenter_TerminatorNeedsWhitespaceInPartial(t *testing.T) {
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{OnSentence: collect(&flushed)})

	if live := s.ProcessPartial("It costs 3.5"); live != "It costs 3.5" {
		t.Errorf("Expected decimal to stay live, got %q", live)
	}
	if live := s.ProcessPartial("Done!"); live != "Done!" {
		t.Errorf("Expected trailing terminator to stay live, got %q", live)
	}
	if len(flushed) != 0 {
		t.Errorf("Expected nothing flushed, got %v", flushed)
	}
}

func TestSentenceSegmenter_MultipleSentences(t *testing.T) {
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{OnSentence: collect(&flushed)})

	s.ProcessPartial("One.")
	live := s.ProcessPartial("One. Two? Three! Four")
	if live != "Four" {
		t.Errorf("Expected live 'Four', got %q", live)
	}
	want := []string{"One.", "Two?", "Three!"}
	if !reflect.DeepEqual(flushed, want) {
		t.Errorf("Expected %v, got %v", want, flushed)
	}

	s.ProcessPartial("One. Two? Three! Four five")
	if len(flushed) != 3 {
		t.Errorf("Expected no re-flush of earlier sentences, got %v", flushed)
	}
}

func TestSentenceSegmenter_ForceFlushOnLength(t *testing.T) {
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{MaxLiveChars: 10, OnSentence: collect(&flushed)})

	live := s.ProcessPartial("alpha beta gamma")
	if !reflect.DeepEqual(flushed, []string{"alpha beta"}) {
		t.Errorf("Expected [alpha beta], got %v", flushed)
	}
	if live != "gamma" {
		t.Errorf("Expected live 'gamma', got %q", live)
	}
}

func TestSentenceSegmenter_ForceFlushOnAge(t *testing.T) {
	clock := newFakeClock()
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{
		MaxLiveAge: 5 * time.Second,
		OnSentence: collect(&flushed),
		Now:        clock.Now,
	})

	s.ProcessPartial("so we went")
	clock.Advance(2 * time.Second)
	s.ProcessPartial("so we went to")
	if len(flushed) != 0 {
		t.Fatalf("Expected nothing flushed before the age budget, got %v", flushed)
	}

	clock.Advance(4 * time.Second)
	live := s.ProcessPartial("so we went to the")
	if !reflect.DeepEqual(flushed, []string{"so we went to"}) {
		t.Errorf("Expected [so we went to], got %v", flushed)
	}
	if live != "the" {
		t.Errorf("Expected live 'the', got %q", live)
	}
}

func TestSentenceSegmenter_LongWordCutAtBudget(t *testing.T) {
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{MaxLiveChars: 8, OnSentence: collect(&flushed)})

	live := s.ProcessPartial("supercalifragilistic")
	want := []string{"supercal", "ifragili"}
	if !reflect.DeepEqual(flushed, want) {
		t.Errorf("Expected %v, got %v", want, flushed)
	}
	if live != "stic" {
		t.Errorf("Expected live 'stic', got %q", live)
	}
}

func TestSentenceSegmenter_FullWidthTerminators(t *testing.T) {
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{OnSentence: collect(&flushed)})

	live := s.ProcessPartial("今天天气很好。我们去公园吧")
	if !reflect.DeepEqual(flushed, []string{"今天天气很好。"}) {
		t.Errorf("Expected [今天天气很好。], got %v", flushed)
	}
	if live != "我们去公园吧" {
		t.Errorf("Expected live '我们去公园吧', got %q", live)
	}

	s.ProcessPartial("今天天气很好。我们去公园吧！？真的")
	want := []string{"今天天气很好。", "我们去公园吧！？"}
	if !reflect.DeepEqual(flushed, want) {
		t.Errorf("Expected %v, got %v", want, flushed)
	}
}

func TestSentenceSegmenter_UnspacedTextStaysWithinBudget(t *testing.T) {
	const budget = 20
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{MaxLiveChars: budget, OnSentence: collect(&flushed)})

	text := ""
	for i := 1; i <= 10; i++ {
		text += "今天天气很好我们去公园吧"
		live := s.ProcessPartial(text)
		if n := utf8.RuneCountInString(live); n > budget {
			t.Fatalf("Round %d: expected at most %d live runes, got %d", i, budget, n)
		}
	}
	if len(flushed) == 0 {
		t.Error("Expected unpunctuated text to be force-flushed")
	}
	for _, sentence := range flushed {
		if n := utf8.RuneCountInString(sentence); n > budget {
			t.Errorf("Expected flushed pieces within budget, got %d runes", n)
		}
	}
}

func TestSentenceSegmenter_ProcessFinal(t *testing.T) {
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{OnSentence: collect(&flushed)})

	s.ProcessPartial("Hello. How are")
	got := s.ProcessFinal("Hello. How are you? Fine thanks")

	want := []string{"How are you?", "Fine thanks"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if s.Live() != "" {
		t.Errorf("Expected reset after final, got live %q", s.Live())
	}
}

func TestSentenceSegmenter_ProcessFinalDedupesRewrittenText(t *testing.T) {
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{OnSentence: collect(&flushed)})

	s.ProcessPartial("Hello there. general")
	// leading whitespace shifts every offset, forcing a full rescan
	got := s.ProcessFinal("  Hello there. General Kenobi.")

	want := []string{"General Kenobi."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestSentenceSegmenter_ProcessFinalWithoutPartials(t *testing.T) {
	s := NewSentenceSegmenter(SegmenterConfig{})

	got := s.ProcessFinal("First one. Second one")
	want := []string{"First one.", "Second one"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	if got := s.ProcessFinal("   "); len(got) != 0 {
		t.Errorf("Expected nothing for blank final, got %v", got)
	}
}

func TestSentenceSegmenter_ShrinkingPartial(t *testing.T) {
	var flushed []string
	s := NewSentenceSegmenter(SegmenterConfig{OnSentence: collect(&flushed)})

	s.ProcessPartial("Okay then. Let us go")
	live := s.ProcessPartial("Okay")
	if live != "Okay" {
		t.Errorf("Expected live 'Okay' after rescan, got %q", live)
	}
	if len(flushed) != 1 {
		t.Errorf("Expected only the first flush, got %v", flushed)
	}

	got := s.ProcessFinal("Okay then. Let us go now.")
	want := []string{"Let us go now."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
