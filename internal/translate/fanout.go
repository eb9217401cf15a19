package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/caption-relay/internal/observability"
	"github.com/lexiqai/caption-relay/internal/resilience"
)

// FanOutConfig configures a FanOut translator.
type FanOutConfig struct {
	Timeout      time.Duration
	Retry        *resilience.RetryConfig
	MaxFailures  int
	ResetTimeout time.Duration
	Logger       zerolog.Logger
}

// FanOut calls a Provider once per target language in parallel. Every call
// goes through a shared circuit breaker and is retried on transient errors.
type FanOut struct {
	provider Provider
	breaker  *resilience.CircuitBreaker
	cfg      FanOutConfig
	logger   zerolog.Logger
}

// NewFanOut wraps provider.
func NewFanOut(provider Provider, cfg FanOutConfig) *FanOut {
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	breaker := resilience.NewCircuitBreaker("translator_"+provider.Name(), cfg.MaxFailures, cfg.ResetTimeout)
	breaker.OnStateChange = func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		cfg.Logger.Warn().Str("breaker", name).Str("state", state.String()).Msg("Translator circuit breaker changed state")
	}

	return &FanOut{
		provider: provider,
		breaker:  breaker,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("provider", provider.Name()).Logger(),
	}
}

// Breaker exposes the circuit breaker for readiness checks.
func (f *FanOut) Breaker() *resilience.CircuitBreaker {
	return f.breaker
}

// Translate waits for every language to settle. A failed language never
// holds back the others.
func (f *FanOut) Translate(ctx context.Context, text, sourceLang string, targetLangs []string) (map[string]string, error) {
	results := make(map[string]string, len(targetLangs))
	if len(targetLangs) == 0 {
		return results, nil
	}

	var (
		mu     sync.Mutex
		failed map[string]error
		g      errgroup.Group
	)
	for _, lang := range dedupe(targetLangs) {
		g.Go(func() error {
			out, err := f.translateOne(ctx, text, sourceLang, lang)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if failed == nil {
					failed = make(map[string]error)
				}
				failed[lang] = err
				return nil
			}
			results[lang] = out
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return results, &PartialFailureError{Failed: failed}
	}
	return results, nil
}

func (f *FanOut) translateOne(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	start := time.Now()
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	var out string
	err := f.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var callErr error
			out, callErr = f.provider.TranslateText(ctx, text, sourceLang, targetLang)
			return callErr
		}, f.cfg.Retry, isRetryable)
	})
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("empty translation")
	}

	observability.RecordTranslation(f.provider.Name(), err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(f.breaker.Name())
		}
		f.logger.Warn().Err(err).Str("target_lang", targetLang).Dur("latency", time.Since(start)).Msg("Translation failed")
		return "", fmt.Errorf("%s: %w", f.provider.Name(), err)
	}
	return strings.TrimSpace(out), nil
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= http.StatusInternalServerError
	}
	return resilience.IsRetryableNetworkError(err)
}

func dedupe(langs []string) []string {
	seen := make(map[string]struct{}, len(langs))
	out := langs[:0:0]
	for _, lang := range langs {
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	return out
}

var _ Translator = (*FanOut)(nil)
