package usage

import "time"

// Record is one completed chat saga, kept for reconciliation and reporting.
// Outcome matches the saga's terminal state; Tokens is the estimated token
// count that stayed charged after any compensation (0 for compensated and
// refused sagas). Credit pricing lives in the ledger, not here.
type Record struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	Outcome       string    `json:"outcome"`
	Model         string    `json:"model"`
	Tokens        int       `json:"tokens"`
	LatencyMs     int64     `json:"latency_ms"`
}

// SummaryQuery filters aggregate usage reporting.
type SummaryQuery struct {
	UserID string
	From   time.Time
	To     time.Time
}

// Summary is an aggregate view over chat usage records.
type Summary struct {
	TotalRequests int64   `json:"total_requests"`
	TotalTokens   int64   `json:"total_tokens"`
	Answered      int64   `json:"answered"`
	Degraded      int64   `json:"degraded"`
	Failed        int64   `json:"failed"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}
