package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tollchat/tollchat/internal/config"
)

// WalletStore is the persistence interface the service depends on. It exists
// so the service logic can be tested without a real database.
type WalletStore interface {
	GetOrCreate(ctx context.Context, userID int64) (*Wallet, error)
	ApplyDebit(ctx context.Context, userID int64, amount float64, transactionID string) (balance float64, applied bool, err error)
	ApplyCredit(ctx context.Context, userID int64, amount float64, transactionID string) (balance float64, applied bool, err error)
}

// Service is the sole authority over wallet balances. Every balance mutation
// in the system funnels through Debit and Credit here.
type Service struct {
	store   WalletStore
	pricing config.LedgerConfig
}

// NewService creates a ledger service over the given store, using the pricing
// table to translate (token_count, model_name) into a credit cost.
func NewService(store WalletStore, pricing config.LedgerConfig) *Service {
	return &Service{store: store, pricing: pricing}
}

// CheckBalance reports whether the user has any spendable balance, creating
// the wallet with the default balance on first reference. This is a coarse
// binary pre-check (balance > 0), distinct from Debit's precise cost
// comparison.
func (s *Service) CheckBalance(ctx context.Context, userID string) (*BalanceResult, error) {
	id, err := parseUserID(userID)
	if err != nil {
		slog.Warn("check balance rejected", "user_id", userID, "error", err)
		return &BalanceResult{HasSufficientFunds: false, CurrentBalance: 0}, nil
	}

	w, err := s.store.GetOrCreate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("checking balance for user %d: %w", id, err)
	}

	return &BalanceResult{
		HasSufficientFunds: w.Balance > 0,
		CurrentBalance:     w.Balance,
	}, nil
}

// Debit charges the user token_count * rate(model_name) credits. Business
// failures (invalid user id, insufficient funds) come back as an unsuccessful
// result; only persistence faults are returned as errors.
func (s *Service) Debit(ctx context.Context, userID string, tokenCount int, modelName, transactionID string) (*MutationResult, error) {
	id, err := parseUserID(userID)
	if err != nil {
		slog.Warn("debit rejected", "user_id", userID, "error", err)
		return &MutationResult{Success: false, RemainingBalance: 0, Message: "Invalid user_id format"}, nil
	}

	cost := float64(tokenCount) * s.pricing.Rate(modelName)

	balance, applied, err := s.store.ApplyDebit(ctx, id, cost, transactionID)
	if errors.Is(err, ErrInsufficientFunds) {
		return &MutationResult{Success: false, RemainingBalance: balance, Message: "Insufficient funds"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("debiting user %d: %w", id, err)
	}

	if !applied {
		slog.Info("debit replay ignored", "user_id", id, "transaction_id", transactionID)
	} else {
		slog.Info("debited wallet", "user_id", id, "cost", cost, "remaining", balance, "transaction_id", transactionID)
	}
	return &MutationResult{Success: true, RemainingBalance: balance}, nil
}

// Credit returns token_count * rate(model_name) credits to the user. A credit
// against a never-provisioned wallet is a compensation-without-reservation
// anomaly and fails rather than creating credit from nothing.
func (s *Service) Credit(ctx context.Context, userID string, tokenCount int, modelName, transactionID string) (*MutationResult, error) {
	id, err := parseUserID(userID)
	if err != nil {
		slog.Warn("credit rejected", "user_id", userID, "error", err)
		return &MutationResult{Success: false, RemainingBalance: 0, Message: "Invalid user_id format"}, nil
	}

	amount := float64(tokenCount) * s.pricing.Rate(modelName)

	balance, applied, err := s.store.ApplyCredit(ctx, id, amount, transactionID)
	if errors.Is(err, ErrWalletNotFound) {
		return &MutationResult{Success: false, RemainingBalance: 0, Message: "Wallet not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crediting user %d: %w", id, err)
	}

	if !applied {
		slog.Info("credit replay ignored", "user_id", id, "transaction_id", transactionID)
	} else {
		slog.Info("credited wallet", "user_id", id, "amount", amount, "remaining", balance, "transaction_id", transactionID)
	}
	return &MutationResult{Success: true, RemainingBalance: balance}, nil
}

func parseUserID(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return id, nil
}
