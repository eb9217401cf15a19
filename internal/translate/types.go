package translate

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Translator turns one source text into several target languages. It is
// tolerant of partial results: languages that succeeded are returned even
// when others failed, in which case the error is a *PartialFailureError.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang string, targetLangs []string) (map[string]string, error)
}

// Provider translates into a single target language.
type Provider interface {
	Name() string
	TranslateText(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// PartialFailureError lists the languages that could not be translated.
type PartialFailureError struct {
	Failed map[string]error
}

func (e *PartialFailureError) Error() string {
	langs := e.Languages()
	parts := make([]string, 0, len(langs))
	for _, lang := range langs {
		parts = append(parts, fmt.Sprintf("%s: %v", lang, e.Failed[lang]))
	}
	return "translation failed for " + strings.Join(parts, "; ")
}

// Languages returns the failed languages, sorted.
func (e *PartialFailureError) Languages() []string {
	langs := make([]string, 0, len(e.Failed))
	for lang := range e.Failed {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Unwrap exposes the per-language causes to errors.Is and errors.As.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, lang := range e.Languages() {
		errs = append(errs, e.Failed[lang])
	}
	return errs
}

// StatusError is a provider failure carrying the HTTP status it returned.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func prompt(sourceLang, targetLang string) string {
	return fmt.Sprintf("You translate live speech captions from %s to %s. "+
		"Reply with the translation only, without quotes, notes or explanations. "+
		"Keep names and numbers unchanged.", sourceLang, targetLang)
}
