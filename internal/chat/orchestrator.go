// Package chat sequences the chat saga: reserve credits, retrieve context,
// generate an answer, and compensate the reservation when a later step fails.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tollchat/tollchat/internal/config"
	"github.com/tollchat/tollchat/internal/genai"
	"github.com/tollchat/tollchat/internal/history"
	"github.com/tollchat/tollchat/internal/ledgerclient"
	"github.com/tollchat/tollchat/internal/metrics"
	"github.com/tollchat/tollchat/internal/retrievalclient"
	"github.com/tollchat/tollchat/internal/usage"
)

const systemPromptTemplate = `You are an enterprise knowledge-base assistant. Answer the user's question strictly from the context below.

Rules:
1. Base every statement on the provided context. Never invent facts from your own training data.
2. If the context does not contain the answer, say so and suggest contacting support. Do not guess.
3. Format answers in clear Markdown: numbered lists for steps, bullet lists for multiple points.
4. Keep the tone professional, concise, and friendly.

Context:
%s`

// degradedAnswer is returned when the model provider rejects the call for an
// account-level reason (arrearage, revoked access). The saga is still
// chargeable: the work was attempted and retrying the broken upstream for
// free would be worse.
const degradedAnswer = "The language model provider rejected this request " +
	"(account arrearage or access denied), so a generated answer is not " +
	"available right now. This is an automatic response confirming the rest " +
	"of the pipeline is healthy. Please ask an administrator to check the " +
	"provider account and quota."

// LedgerClient is the subset of the ledger RPC client the saga uses.
type LedgerClient interface {
	Debit(ctx context.Context, userID string, tokenCount int, modelName, transactionID string) (*ledgerclient.MutationResult, error)
	Credit(ctx context.Context, userID string, tokenCount int, modelName, transactionID string) (*ledgerclient.MutationResult, error)
}

// Retriever searches the knowledge base for ranked context snippets.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, minScore float64) ([]retrievalclient.Result, error)
}

// Generator produces an answer from a system prompt, history, and query.
type Generator interface {
	Complete(ctx context.Context, system string, turns []history.Turn, query string) (string, error)
	ModelName() string
}

// UsageRecorder receives one record per completed saga. Nil disables it.
type UsageRecorder interface {
	Record(rec usage.Record)
}

// Answer is the successful result of a chat saga.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Orchestrator drives one saga per Chat call. It keeps no per-request state
// between calls and is safe for concurrent use.
type Orchestrator struct {
	ledger    LedgerClient
	retrieval Retriever
	generator Generator
	history   history.Store
	usage     UsageRecorder
	metrics   *metrics.Metrics
	cfg       config.ChatConfig

	newID func() string
	sleep func(time.Duration)
}

// NewOrchestrator wires the saga's dependencies. usage, hist, and m may be
// nil; the saga then runs without recording, history, or metrics.
func NewOrchestrator(ledger LedgerClient, retrieval Retriever, generator Generator, hist history.Store, rec UsageRecorder, m *metrics.Metrics, cfg config.ChatConfig) *Orchestrator {
	return &Orchestrator{
		ledger:    ledger,
		retrieval: retrieval,
		generator: generator,
		history:   hist,
		usage:     rec,
		metrics:   m,
		cfg:       cfg,
		newID:     uuid.NewString,
		sleep:     time.Sleep,
	}
}

// Chat runs the full saga for one user query. The returned error, when not
// nil, is one of the typed errors in this package.
func (o *Orchestrator) Chat(ctx context.Context, userID, query string) (*Answer, error) {
	start := time.Now()
	transactionID := o.newID()
	tokens := o.cfg.EstimatedTokens
	model := o.generator.ModelName()

	slog.Info("chat saga started", "user_id", userID, "transaction_id", transactionID)

	// Reserve funds before any expensive work. The ledger never pays for
	// work that was not attempted.
	if err := o.reserve(ctx, userID, tokens, model, transactionID); err != nil {
		o.finish(userID, transactionID, model, outcomeOf(err), 0, start)
		return nil, err
	}

	results, err := o.retrieve(ctx, query)
	if err != nil {
		o.compensate(ctx, userID, tokens, model, transactionID)
		o.finish(userID, transactionID, model, metrics.OutcomeRetrievalFailed, 0, start)
		return nil, &RetrievalError{Err: err}
	}

	contextTexts := make([]string, 0, len(results))
	sources := make([]string, 0, len(results))
	for _, r := range results {
		contextTexts = append(contextTexts, r.Content)
		sources = append(sources, r.Source())
	}
	slog.Info("retrieved context", "transaction_id", transactionID, "chunks", len(contextTexts))

	answer, degraded, err := o.generate(ctx, userID, query, contextTexts)
	if err != nil {
		o.compensate(ctx, userID, tokens, model, transactionID)
		o.finish(userID, transactionID, model, metrics.OutcomeGenerationFailed, 0, start)
		return nil, &GenerationError{Err: err}
	}

	// History write failures are deliberately non-fatal: the user has an
	// answer and has paid for it.
	o.appendHistory(ctx, userID, query, answer)

	outcome := metrics.OutcomeAnswered
	if degraded {
		outcome = metrics.OutcomeDegraded
	}
	o.finish(userID, transactionID, model, outcome, tokens, start)

	return &Answer{Answer: answer, Sources: sources}, nil
}

// reserve debits the estimated token cost. A ledger refusal maps to
// PaymentRequiredError; a transport fault to UnavailableError.
func (o *Orchestrator) reserve(ctx context.Context, userID string, tokens int, model, transactionID string) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.LedgerTimeout)
	defer cancel()

	res, err := o.ledger.Debit(ctx, userID, tokens, model, transactionID)
	if err != nil {
		slog.Error("debit call failed", "user_id", userID, "transaction_id", transactionID, "error", err)
		return &UnavailableError{Service: "ledger", Err: err}
	}
	if !res.Success {
		slog.Warn("debit refused", "user_id", userID, "transaction_id", transactionID, "message", res.Message)
		return &PaymentRequiredError{Message: res.Message}
	}
	return nil
}

func (o *Orchestrator) retrieve(ctx context.Context, query string) ([]retrievalclient.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
	defer cancel()

	start := time.Now()
	results, err := o.retrieval.Search(ctx, query, o.cfg.TopK, o.cfg.MinScore)
	if o.metrics != nil {
		o.metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	}
	return results, err
}

// generate calls the generation backend. Provider-arrearage faults degrade to
// the canned answer instead of failing; the bool reports that degradation.
func (o *Orchestrator) generate(ctx context.Context, userID, query string, contextTexts []string) (string, bool, error) {
	system := fmt.Sprintf(systemPromptTemplate, strings.Join(contextTexts, "\n\n"))
	turns := o.recentHistory(ctx, userID)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	answer, err := o.generator.Complete(ctx, system, turns, query)
	if o.metrics != nil {
		o.metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if genai.KindOf(err) == genai.KindArrearage {
			slog.Warn("generation degraded", "user_id", userID, "error", err)
			return degradedAnswer, true, nil
		}
		slog.Error("generation failed", "user_id", userID, "error", err)
		return "", false, err
	}
	return answer, false, nil
}

func (o *Orchestrator) recentHistory(ctx context.Context, userID string) []history.Turn {
	if o.history == nil {
		return nil
	}
	turns, err := o.history.Recent(ctx, userID, o.cfg.HistoryLimit)
	if err != nil {
		slog.Warn("reading history failed, continuing without it", "user_id", userID, "error", err)
		return nil
	}
	return turns
}

func (o *Orchestrator) appendHistory(ctx context.Context, userID, query, answer string) {
	if o.history == nil {
		return
	}
	err := o.history.Append(ctx, userID,
		history.Turn{Role: history.RoleUser, Content: query},
		history.Turn{Role: history.RoleAssistant, Content: answer},
	)
	if err != nil {
		slog.Warn("appending history failed", "user_id", userID, "error", err)
	}
}

// compensate issues the compensating credit for a failed saga. The credit is
// retried with backoff; the ledger's transaction-id dedup makes a replayed
// credit a no-op, so retrying after an ambiguous failure cannot double-pay.
// A compensation that still fails after all attempts is logged and counted;
// reconciliation is then an operator concern.
func (o *Orchestrator) compensate(ctx context.Context, userID string, tokens int, model, transactionID string) {
	attempts := o.cfg.CompensationRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			o.sleep(o.cfg.CompensationBackoff * time.Duration(i))
		}

		creditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.LedgerTimeout)
		res, err := o.ledger.Credit(creditCtx, userID, tokens, model, transactionID)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if !res.Success {
			// Business refusal (e.g. wallet not found) will not change on
			// retry.
			lastErr = fmt.Errorf("credit refused: %s", res.Message)
			break
		}

		slog.Info("compensated reservation", "user_id", userID, "transaction_id", transactionID, "remaining", res.RemainingBalance)
		if o.metrics != nil {
			o.metrics.IncCompensation("ok")
		}
		return
	}

	slog.Error("compensation failed, wallet charged without service",
		"user_id", userID, "transaction_id", transactionID, "error", lastErr)
	if o.metrics != nil {
		o.metrics.IncCompensation("failed")
	}
}

func (o *Orchestrator) finish(userID, transactionID, model, outcome string, tokens int, start time.Time) {
	if o.metrics != nil {
		o.metrics.IncChatOutcome(outcome)
	}
	if o.usage != nil {
		o.usage.Record(usage.Record{
			UserID:        userID,
			TransactionID: transactionID,
			Timestamp:     start,
			Outcome:       outcome,
			Model:         model,
			Tokens:        tokens,
			LatencyMs:     time.Since(start).Milliseconds(),
		})
	}
	slog.Info("chat saga finished", "user_id", userID, "transaction_id", transactionID, "outcome", outcome)
}

func outcomeOf(err error) string {
	switch err.(type) {
	case *PaymentRequiredError:
		return metrics.OutcomePaymentRequired
	default:
		return metrics.OutcomeLedgerUnavailable
	}
}
