// Package transcript turns the raw text produced by overlapping audio
// segments into deduplicated finals and bounded live captions.
package transcript

import "strings"

// MaxOverlapTokens bounds the overlap search window.
const MaxOverlapTokens = 15

// minOverlapTokens keeps single common words from triggering a merge.
const minOverlapTokens = 2

// MergeResult is the outcome of merging one segment onto the previous text.
type MergeResult struct {
	// MergedText is the carried-forward text for the next merge.
	MergedText string
	// NewPortion is the part of current that was not already in previous.
	NewPortion string
	// Overlap is the number of tokens stripped from current.
	Overlap int
}

// Merge removes the longest run of tokens that ends previous and starts
// current (2 to 15 tokens, compared case-insensitively).
func Merge(previous, current string) MergeResult {
	prev := strings.Fields(previous)
	cur := strings.Fields(current)

	// an empty side leaves the other exactly as given
	if len(cur) == 0 {
		return MergeResult{MergedText: previous}
	}
	if len(prev) == 0 {
		return MergeResult{MergedText: current, NewPortion: current}
	}

	k := min(MaxOverlapTokens, len(prev), len(cur))
	for ; k >= minOverlapTokens; k-- {
		if tokensEqualFold(prev[len(prev)-k:], cur[:k]) {
			break
		}
	}
	if k < minOverlapTokens {
		k = 0
	}

	newPortion := strings.Join(cur[k:], " ")
	merged := strings.Join(prev, " ")
	if newPortion != "" {
		merged += " " + newPortion
	}
	return MergeResult{MergedText: merged, NewPortion: newPortion, Overlap: k}
}

func tokensEqualFold(a, b []string) bool {
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
