package genai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is the closed set of generation fault classes the orchestrator
// branches on. Classification happens once, at this client boundary, so no
// caller ever inspects provider error text.
type Kind int

const (
	// KindOther is any provider or local failure with no special handling.
	KindOther Kind = iota
	// KindArrearage covers provider-side quota, arrearage, and auth
	// rejections. The upstream is known-broken; callers degrade instead of
	// compensating, so a broken provider cannot be retried for free.
	KindArrearage
	// KindUnavailable covers timeouts and transport-level failures reaching
	// the provider.
	KindUnavailable
)

// ProviderError wraps a generation backend failure with its classified kind.
type ProviderError struct {
	Kind Kind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("generation backend: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// classify maps a raw model-invocation error into a ProviderError.
func classify(err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ProviderError{Kind: KindUnavailable, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ProviderError{Kind: KindUnavailable, Err: err}
	}

	// Provider SDK errors carry the rejection reason only in their message;
	// the known arrearage/denial markers are matched here and nowhere else.
	msg := err.Error()
	for _, marker := range []string{"Arrearage", "Access denied", "AccessDenied", "insufficient_quota", "quota"} {
		if strings.Contains(msg, marker) {
			return &ProviderError{Kind: KindArrearage, Err: err}
		}
	}

	return &ProviderError{Kind: KindOther, Err: err}
}

// KindOf returns the classified kind of err, or KindOther when err was not
// produced by this package.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}
