package ledger

import (
	"errors"
	"time"
)

// Wallet is the balance row of record for a single user. Balances are in
// currency credits and never go negative at a commit point.
type Wallet struct {
	UserID    int64     `json:"user_id"`
	Balance   float64   `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Operation types recorded in the ledger_entries dedup table.
const (
	OpDebit  = "debit"
	OpCredit = "credit"
)

var (
	// ErrInvalidUserID indicates a user identifier that does not parse as an
	// integer identity. Rejected before any wallet is touched.
	ErrInvalidUserID = errors.New("invalid user_id format")

	// ErrInsufficientFunds indicates a debit that would drive the balance
	// negative. The wallet is left unchanged.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrWalletNotFound indicates a credit against a wallet that was never
	// provisioned. Compensation without a prior reservation is refused rather
	// than minting credit from nothing.
	ErrWalletNotFound = errors.New("wallet not found")
)

// isBusinessError reports whether err is an expected refusal rather than a
// persistence fault.
func isBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrInvalidUserID)
}

// MutationResult is the outcome of a Debit or Credit operation.
type MutationResult struct {
	Success          bool    `json:"success"`
	RemainingBalance float64 `json:"remaining_balance"`
	Message          string  `json:"message,omitempty"`
}

// BalanceResult is the outcome of a CheckBalance operation.
type BalanceResult struct {
	HasSufficientFunds bool    `json:"has_sufficient_funds"`
	CurrentBalance     float64 `json:"current_balance"`
}
