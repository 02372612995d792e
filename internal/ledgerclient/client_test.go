package ledgerclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// staticResolver resolves every service to a fixed address.
type staticResolver struct {
	addr string
	err  error
}

func (r *staticResolver) Resolve(_ context.Context, _ string) (string, error) {
	return r.addr, r.err
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	addr := strings.TrimPrefix(srv.URL, "http://")
	return New(&staticResolver{addr: addr}, "ledger-service", 5*time.Second)
}

func TestDebit(t *testing.T) {
	var gotPath string
	var gotReq map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(MutationResult{Success: true, RemainingBalance: 99.99})
	})

	res, err := client.Debit(context.Background(), "42", 100, "test-model", "tx-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/api/v1/debit" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotReq["user_id"] != "42" || gotReq["token_count"] != float64(100) || gotReq["transaction_id"] != "tx-1" {
		t.Fatalf("unexpected request body %v", gotReq)
	}
	if !res.Success || res.RemainingBalance != 99.99 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCreditRefusalPassesThrough(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/credit" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(MutationResult{Success: false, Message: "Wallet not found"})
	})

	res, err := client.Credit(context.Background(), "42", 100, "", "tx-1")
	if err != nil {
		t.Fatalf("refusal is not a transport error: %v", err)
	}
	if res.Success || res.Message != "Wallet not found" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCheckBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/balance/check" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"has_sufficient_funds":true,"current_balance":42.5}`))
	})

	ok, balance, err := client.CheckBalance(context.Background(), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || balance != 42.5 {
		t.Fatalf("unexpected result %v %v", ok, balance)
	}
}

func TestNon200IsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := client.Debit(context.Background(), "42", 100, "", "tx-1"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestResolverFailurePropagates(t *testing.T) {
	client := New(&staticResolver{err: errors.New("no instances")}, "ledger-service", time.Second)

	if _, err := client.Debit(context.Background(), "42", 100, "", "tx-1"); err == nil {
		t.Fatal("expected error when resolution fails")
	}
}
