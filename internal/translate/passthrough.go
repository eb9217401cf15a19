package translate

import "context"

// Passthrough returns the source text for every language. It is used when no
// translation provider is configured.
type Passthrough struct{}

func (Passthrough) Name() string { return "none" }

func (Passthrough) TranslateText(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

var _ Provider = Passthrough{}
