package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Translator converts text between languages. Implementations must apply
// identity passthrough when source and target match.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error)
}

// StatusError carries the upstream HTTP status so callers can classify the
// failure as transient or terminal.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("translation upstream error %d: %s", e.Status, e.Message)
}

// IsTransient reports whether the error is worth retrying: rate limits,
// server errors, and anything without a recognizable status code. A 4xx
// other than 429 is terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		// 未知错误没有携带状态码，按可重试处理。
		return true
	}

	if statusErr.Status == 429 {
		return true
	}
	if statusErr.Status >= 500 {
		return true
	}
	if statusErr.Status >= 400 {
		return false
	}
	return true
}

// Identity is a passthrough translator used when no model credentials are
// configured. Every subscriber then receives the original text, which keeps
// the delivery pipeline exercisable without upstream access.
type Identity struct{}

// Translate returns the input text unchanged.
func (Identity) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

func sameLanguage(source, target string) bool {
	return strings.EqualFold(strings.TrimSpace(source), strings.TrimSpace(target))
}
