package genai

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline exceeded", context.DeadlineExceeded, KindUnavailable},
		{"canceled", context.Canceled, KindUnavailable},
		{"wrapped deadline", fmt.Errorf("invoking model: %w", context.DeadlineExceeded), KindUnavailable},
		{"net error", timeoutErr{}, KindUnavailable},
		{"arrearage marker", errors.New("api error: Access denied, reason: Arrearage"), KindArrearage},
		{"access denied camel", errors.New("AccessDenied: account suspended"), KindArrearage},
		{"quota marker", errors.New("insufficient_quota for this key"), KindArrearage},
		{"plain provider error", errors.New("model overloaded"), KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := classify(tt.err)
			if pe.Kind != tt.want {
				t.Fatalf("classify(%v) = %v, want %v", tt.err, pe.Kind, tt.want)
			}
			if !errors.Is(pe, tt.err) {
				t.Fatal("classified error should wrap the original")
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	pe := &ProviderError{Kind: KindArrearage, Err: errors.New("Arrearage")}
	if KindOf(pe) != KindArrearage {
		t.Fatal("KindOf should unwrap ProviderError")
	}
	if KindOf(fmt.Errorf("wrapping: %w", pe)) != KindArrearage {
		t.Fatal("KindOf should see through wrapping")
	}
	if KindOf(errors.New("plain")) != KindOther {
		t.Fatal("non-ProviderError should be KindOther")
	}
}
