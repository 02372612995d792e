package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tollchat/tollchat/internal/config"
	"github.com/tollchat/tollchat/internal/genai"
	"github.com/tollchat/tollchat/internal/history"
	"github.com/tollchat/tollchat/internal/ledgerclient"
	"github.com/tollchat/tollchat/internal/retrievalclient"
	"github.com/tollchat/tollchat/internal/usage"
)

type ledgerCall struct {
	op            string
	userID        string
	tokenCount    int
	transactionID string
}

// fakeLedger records debit/credit calls and returns scripted results.
type fakeLedger struct {
	calls []ledgerCall

	debitResult  *ledgerclient.MutationResult
	debitErr     error
	creditResult *ledgerclient.MutationResult
	creditErr    error

	// creditFailures makes the first n credit calls fail before succeeding.
	creditFailures int
}

func (l *fakeLedger) Debit(_ context.Context, userID string, tokenCount int, _, transactionID string) (*ledgerclient.MutationResult, error) {
	l.calls = append(l.calls, ledgerCall{"debit", userID, tokenCount, transactionID})
	if l.debitErr != nil {
		return nil, l.debitErr
	}
	return l.debitResult, nil
}

func (l *fakeLedger) Credit(_ context.Context, userID string, tokenCount int, _, transactionID string) (*ledgerclient.MutationResult, error) {
	l.calls = append(l.calls, ledgerCall{"credit", userID, tokenCount, transactionID})
	if l.creditFailures > 0 {
		l.creditFailures--
		return nil, errors.New("ledger unreachable")
	}
	if l.creditErr != nil {
		return nil, l.creditErr
	}
	return l.creditResult, nil
}

func (l *fakeLedger) credits() []ledgerCall {
	var out []ledgerCall
	for _, c := range l.calls {
		if c.op == "credit" {
			out = append(out, c)
		}
	}
	return out
}

type fakeRetriever struct {
	results []retrievalclient.Result
	err     error
}

func (r *fakeRetriever) Search(_ context.Context, _ string, _ int, _ float64) ([]retrievalclient.Result, error) {
	return r.results, r.err
}

type fakeGenerator struct {
	answer string
	err    error
	system string
}

func (g *fakeGenerator) Complete(_ context.Context, system string, _ []history.Turn, _ string) (string, error) {
	g.system = system
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func (g *fakeGenerator) ModelName() string { return "test-model" }

type fakeRecorder struct {
	records []usage.Record
}

func (r *fakeRecorder) Record(rec usage.Record) { r.records = append(r.records, rec) }

// memHistory is an in-memory history.Store.
type memHistory struct {
	turns map[string][]history.Turn
	err   error
}

func (h *memHistory) Recent(_ context.Context, userID string, limit int) ([]history.Turn, error) {
	if h.err != nil {
		return nil, h.err
	}
	return history.Trim(h.turns[userID], limit), nil
}

func (h *memHistory) Append(_ context.Context, userID string, turns ...history.Turn) error {
	if h.err != nil {
		return h.err
	}
	if h.turns == nil {
		h.turns = make(map[string][]history.Turn)
	}
	h.turns[userID] = append(h.turns[userID], turns...)
	return nil
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		EstimatedTokens:     100,
		TopK:                3,
		HistoryLimit:        10,
		LedgerTimeout:       time.Second,
		RetrievalTimeout:    time.Second,
		GenerationTimeout:   time.Second,
		CompensationRetries: 3,
		CompensationBackoff: time.Millisecond,
	}
}

func newTestOrchestrator(ledger *fakeLedger, retriever *fakeRetriever, gen *fakeGenerator, hist history.Store, rec UsageRecorder) *Orchestrator {
	o := NewOrchestrator(ledger, retriever, gen, hist, rec, nil, testChatConfig())
	o.newID = func() string { return "tx-test" }
	o.sleep = func(time.Duration) {}
	return o
}

func okDebit() *ledgerclient.MutationResult {
	return &ledgerclient.MutationResult{Success: true, RemainingBalance: 99.99}
}

func okCredit() *ledgerclient.MutationResult {
	return &ledgerclient.MutationResult{Success: true, RemainingBalance: 100.0}
}

func TestChatHappyPath(t *testing.T) {
	ledger := &fakeLedger{debitResult: okDebit()}
	retriever := &fakeRetriever{results: []retrievalclient.Result{
		{Content: "Reset via the settings page.", Metadata: map[string]string{"source": "handbook.md"}},
		{Content: "Passwords rotate every 90 days."},
	}}
	gen := &fakeGenerator{answer: "Open settings and reset it."}
	hist := &memHistory{}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(ledger, retriever, gen, hist, rec)

	ans, err := o.Chat(context.Background(), "42", "How do I reset my password?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Answer != "Open settings and reset it." {
		t.Fatalf("unexpected answer %q", ans.Answer)
	}
	if len(ans.Sources) != 2 || ans.Sources[0] != "handbook.md" || ans.Sources[1] != "unknown" {
		t.Fatalf("unexpected sources %v", ans.Sources)
	}

	if len(ledger.calls) != 1 || ledger.calls[0].op != "debit" {
		t.Fatalf("expected exactly one debit, got %v", ledger.calls)
	}
	if ledger.calls[0].tokenCount != 100 {
		t.Fatalf("expected estimated token count 100, got %d", ledger.calls[0].tokenCount)
	}

	if len(hist.turns["42"]) != 2 {
		t.Fatalf("expected question and answer in history, got %v", hist.turns["42"])
	}

	if len(rec.records) != 1 || rec.records[0].Outcome != "answered" {
		t.Fatalf("expected one answered usage record, got %v", rec.records)
	}
	if rec.records[0].Tokens != 100 {
		t.Fatalf("expected 100 tokens recorded, got %d", rec.records[0].Tokens)
	}
}

func TestChatContextReachesGenerator(t *testing.T) {
	ledger := &fakeLedger{debitResult: okDebit()}
	retriever := &fakeRetriever{results: []retrievalclient.Result{
		{Content: "chunk one"},
		{Content: "chunk two"},
	}}
	gen := &fakeGenerator{answer: "ok"}
	o := newTestOrchestrator(ledger, retriever, gen, nil, nil)

	if _, err := o.Chat(context.Background(), "42", "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, chunk := range []string{"chunk one", "chunk two"} {
		if !strings.Contains(gen.system, chunk) {
			t.Fatalf("system prompt missing retrieved chunk %q:\n%s", chunk, gen.system)
		}
	}
}

func TestChatPaymentRequired(t *testing.T) {
	ledger := &fakeLedger{debitResult: &ledgerclient.MutationResult{Success: false, Message: "Insufficient funds"}}
	o := newTestOrchestrator(ledger, &fakeRetriever{}, &fakeGenerator{}, nil, nil)

	_, err := o.Chat(context.Background(), "42", "q")
	var payment *PaymentRequiredError
	if !errors.As(err, &payment) {
		t.Fatalf("expected PaymentRequiredError, got %v", err)
	}
	if payment.Message != "Insufficient funds" {
		t.Fatalf("expected the ledger's message, got %q", payment.Message)
	}
	if len(ledger.credits()) != 0 {
		t.Fatal("refused debit must not be compensated")
	}
}

func TestChatLedgerUnavailable(t *testing.T) {
	ledger := &fakeLedger{debitErr: errors.New("connection refused")}
	o := newTestOrchestrator(ledger, &fakeRetriever{}, &fakeGenerator{}, nil, nil)

	_, err := o.Chat(context.Background(), "42", "q")
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if len(ledger.credits()) != 0 {
		t.Fatal("no reservation was made, nothing to compensate")
	}
}

func TestChatRetrievalFailureCompensates(t *testing.T) {
	ledger := &fakeLedger{debitResult: okDebit(), creditResult: okCredit()}
	retriever := &fakeRetriever{err: errors.New("milvus timeout")}
	o := newTestOrchestrator(ledger, retriever, &fakeGenerator{}, nil, nil)

	_, err := o.Chat(context.Background(), "42", "q")
	var retrieval *RetrievalError
	if !errors.As(err, &retrieval) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}

	credits := ledger.credits()
	if len(credits) != 1 {
		t.Fatalf("expected one compensating credit, got %d", len(credits))
	}
	if credits[0].transactionID != "tx-test" {
		t.Fatalf("credit must reuse the debit transaction id, got %q", credits[0].transactionID)
	}
	if credits[0].tokenCount != 100 {
		t.Fatalf("credit must return the full reservation, got %d tokens", credits[0].tokenCount)
	}
}

func TestChatGenerationFailureCompensates(t *testing.T) {
	ledger := &fakeLedger{debitResult: okDebit(), creditResult: okCredit()}
	gen := &fakeGenerator{err: &genai.ProviderError{Kind: genai.KindUnavailable, Err: errors.New("timeout")}}
	o := newTestOrchestrator(ledger, &fakeRetriever{}, gen, nil, nil)

	_, err := o.Chat(context.Background(), "42", "q")
	var generation *GenerationError
	if !errors.As(err, &generation) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if len(ledger.credits()) != 1 {
		t.Fatalf("expected one compensating credit, got %d", len(ledger.credits()))
	}
}

func TestChatArrearageDegradesWithoutRefund(t *testing.T) {
	ledger := &fakeLedger{debitResult: okDebit()}
	gen := &fakeGenerator{err: &genai.ProviderError{Kind: genai.KindArrearage, Err: errors.New("Access denied: Arrearage")}}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(ledger, &fakeRetriever{}, gen, nil, rec)

	ans, err := o.Chat(context.Background(), "42", "q")
	if err != nil {
		t.Fatalf("arrearage should degrade, not fail: %v", err)
	}
	if ans.Answer == "" {
		t.Fatal("degraded saga should return the canned answer")
	}
	if len(ledger.credits()) != 0 {
		t.Fatal("degraded saga must keep the debit")
	}
	if len(rec.records) != 1 || rec.records[0].Outcome != "degraded" {
		t.Fatalf("expected a degraded usage record, got %v", rec.records)
	}
}

func TestCompensationRetriesUntilSuccess(t *testing.T) {
	ledger := &fakeLedger{
		debitResult:    okDebit(),
		creditResult:   okCredit(),
		creditFailures: 2,
	}
	retriever := &fakeRetriever{err: errors.New("down")}

	var slept int
	o := newTestOrchestrator(ledger, retriever, &fakeGenerator{}, nil, nil)
	o.sleep = func(time.Duration) { slept++ }

	_, err := o.Chat(context.Background(), "42", "q")
	var retrieval *RetrievalError
	if !errors.As(err, &retrieval) {
		t.Fatalf("expected RetrievalError, got %v", err)
	}

	if got := len(ledger.credits()); got != 3 {
		t.Fatalf("expected 3 credit attempts (2 failures then success), got %d", got)
	}
	if slept != 2 {
		t.Fatalf("expected backoff before each retry, slept %d times", slept)
	}
}

func TestCompensationStopsOnBusinessRefusal(t *testing.T) {
	ledger := &fakeLedger{
		debitResult:  okDebit(),
		creditResult: &ledgerclient.MutationResult{Success: false, Message: "Wallet not found"},
	}
	retriever := &fakeRetriever{err: errors.New("down")}
	o := newTestOrchestrator(ledger, retriever, &fakeGenerator{}, nil, nil)

	if _, err := o.Chat(context.Background(), "42", "q"); err == nil {
		t.Fatal("expected an error")
	}
	if got := len(ledger.credits()); got != 1 {
		t.Fatalf("business refusal must not be retried, got %d credit attempts", got)
	}
}

func TestChatHistoryFailureIsNonFatal(t *testing.T) {
	ledger := &fakeLedger{debitResult: okDebit()}
	gen := &fakeGenerator{answer: "ok"}
	hist := &memHistory{err: errors.New("redis down")}
	o := newTestOrchestrator(ledger, &fakeRetriever{}, gen, hist, nil)

	ans, err := o.Chat(context.Background(), "42", "q")
	if err != nil {
		t.Fatalf("history failure should not fail the saga: %v", err)
	}
	if ans.Answer != "ok" {
		t.Fatalf("unexpected answer %q", ans.Answer)
	}
}

