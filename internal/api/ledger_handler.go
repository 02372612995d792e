package api

import (
	"net/http"

	"github.com/tollchat/tollchat/internal/ledger"
)

// ledgerHandler exposes the wallet service over HTTP. Business refusals
// (insufficient funds, bad user id) are 200 responses with success=false so
// callers can distinguish them from transport and persistence faults, which
// surface as 500.
type ledgerHandler struct {
	service *ledger.Service
}

func newLedgerHandler(service *ledger.Service) *ledgerHandler {
	return &ledgerHandler{service: service}
}

type balanceCheckRequest struct {
	UserID string `json:"user_id"`
}

type mutationRequest struct {
	UserID        string `json:"user_id"`
	TokenCount    int    `json:"token_count"`
	ModelName     string `json:"model_name"`
	TransactionID string `json:"transaction_id"`
}

func (m *mutationRequest) validate() (code, message string) {
	if m.UserID == "" {
		return "invalid_request", "user_id is required"
	}
	if m.TokenCount <= 0 {
		return "invalid_request", "token_count must be positive"
	}
	if m.TransactionID == "" {
		return "invalid_request", "transaction_id is required"
	}
	return "", ""
}

// CheckBalance handles POST /api/v1/balance/check.
func (h *ledgerHandler) CheckBalance(w http.ResponseWriter, r *http.Request) {
	var req balanceCheckRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	res, err := h.service.CheckBalance(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to check balance")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Debit handles POST /api/v1/debit.
func (h *ledgerHandler) Debit(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if code, msg := req.validate(); code != "" {
		writeError(w, http.StatusBadRequest, code, msg)
		return
	}

	res, err := h.service.Debit(r.Context(), req.UserID, req.TokenCount, req.ModelName, req.TransactionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to apply debit")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Credit handles POST /api/v1/credit.
func (h *ledgerHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if code, msg := req.validate(); code != "" {
		writeError(w, http.StatusBadRequest, code, msg)
		return
	}

	res, err := h.service.Credit(r.Context(), req.UserID, req.TokenCount, req.ModelName, req.TransactionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to apply credit")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
