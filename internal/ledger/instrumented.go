package ledger

import (
	"context"
	"time"

	"github.com/tollchat/tollchat/internal/metrics"
)

// InstrumentedStore wraps a WalletStore and records per-operation counters
// and latency. Business refusals count as "refused" rather than "error" so
// the error rate only reflects genuine faults.
type InstrumentedStore struct {
	inner   WalletStore
	metrics *metrics.Metrics
}

func NewInstrumentedStore(inner WalletStore, m *metrics.Metrics) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, metrics: m}
}

func (s *InstrumentedStore) GetOrCreate(ctx context.Context, userID int64) (*Wallet, error) {
	start := time.Now()
	w, err := s.inner.GetOrCreate(ctx, userID)
	s.observe("get_or_create", start, err)
	return w, err
}

func (s *InstrumentedStore) ApplyDebit(ctx context.Context, userID int64, amount float64, transactionID string) (float64, bool, error) {
	start := time.Now()
	balance, applied, err := s.inner.ApplyDebit(ctx, userID, amount, transactionID)
	s.observe(OpDebit, start, err)
	return balance, applied, err
}

func (s *InstrumentedStore) ApplyCredit(ctx context.Context, userID int64, amount float64, transactionID string) (float64, bool, error) {
	start := time.Now()
	balance, applied, err := s.inner.ApplyCredit(ctx, userID, amount, transactionID)
	s.observe(OpCredit, start, err)
	return balance, applied, err
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case isBusinessError(err):
		result = "refused"
	default:
		result = "error"
	}
	s.metrics.IncLedgerOperation(op, result)
	s.metrics.ObserveLedgerDuration(op, time.Since(start).Seconds())
}
