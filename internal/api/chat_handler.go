package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tollchat/tollchat/internal/chat"
	"github.com/tollchat/tollchat/internal/ratelimit"
	"github.com/tollchat/tollchat/internal/usage"
)

// maxQueryLen bounds the accepted query length in runes.
const maxQueryLen = 4096

// chatHandler exposes the chat saga and usage reporting over HTTP.
type chatHandler struct {
	orchestrator *chat.Orchestrator
	usageStore   *usage.Store
	limiter      *ratelimit.Limiter
}

func newChatHandler(orchestrator *chat.Orchestrator, usageStore *usage.Store, limiter *ratelimit.Limiter) *chatHandler {
	return &chatHandler{orchestrator: orchestrator, usageStore: usageStore, limiter: limiter}
}

type chatRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

// Chat handles POST /api/v1/chat. Saga failures map to HTTP status by class:
// ledger refusal is 402, unreachable dependencies are 503, and
// post-reservation pipeline failures (already compensated) are 500.
func (h *chatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.UserID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id and query are required")
		return
	}
	if len([]rune(req.Query)) > maxQueryLen {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long")
		return
	}

	if h.limiter != nil {
		limit, remaining, resetAt := h.limiter.Status(req.UserID)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
		if !h.limiter.Allow(req.UserID) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded. Try again later.")
			return
		}
	}

	answer, err := h.orchestrator.Chat(r.Context(), req.UserID, req.Query)
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

func (h *chatHandler) writeChatError(w http.ResponseWriter, err error) {
	var payment *chat.PaymentRequiredError
	var unavailable *chat.UnavailableError
	var retrieval *chat.RetrievalError
	var generation *chat.GenerationError

	switch {
	case errors.As(err, &payment):
		writeError(w, http.StatusPaymentRequired, "payment_required", payment.Message)
	case errors.As(err, &unavailable):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable",
			fmt.Sprintf("%s is unavailable, please retry", unavailable.Service))
	case errors.As(err, &retrieval):
		writeError(w, http.StatusInternalServerError, "retrieval_failed",
			"knowledge base search failed; any reserved credits have been refunded")
	case errors.As(err, &generation):
		writeError(w, http.StatusBadGateway, "generation_failed",
			"answer generation failed; any reserved credits have been refunded")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "chat request failed")
	}
}

// GetUsage handles GET /api/v1/usage.
func (h *chatHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	if h.usageStore == nil {
		writeError(w, http.StatusNotFound, "not_found", "usage reporting is disabled")
		return
	}

	q := usage.SummaryQuery{UserID: r.URL.Query().Get("user_id")}

	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "invalid 'from' parameter")
		return
	}
	q.From = from

	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "invalid 'to' parameter")
		return
	}
	q.To = to

	summary, err := h.usageStore.GetSummary(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get usage summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// parseTimeParam parses a date query param in YYYY-MM-DD or RFC3339 format.
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
