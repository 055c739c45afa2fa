package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"exifquarter/ledger/pkg/quota"
)

// balanceResponse is the JSON body for balance and deduct responses.
type balanceResponse struct {
	Identity   string            `json:"identityKey"`
	Credits    int64             `json:"credits"`
	Operations []quota.Operation `json:"operations"`
	NextReset  time.Time         `json:"nextReset"`
	Degraded   bool              `json:"degraded,omitempty"`
}

// deductRequest is the JSON body accepted by POST /v1/deduct.
type deductRequest struct {
	// Operation names what is being billed ("convert", "geotag",
	// "bulkDownload").
	Operation string `json:"operation"`

	// Amount overrides the cost table. 0 means use the table.
	Amount int64 `json:"amount,omitempty"`
}

// creditRequest is the JSON body accepted by POST /v1/credit.
type creditRequest struct {
	Identity string `json:"identityKey"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason,omitempty"`
}

// errorResponse is the JSON body for error responses.
type errorResponse struct {
	Error    string `json:"error"`
	Credits  *int64 `json:"credits,omitempty"`
	Required *int64 `json:"required,omitempty"`
}

// identityFromRequest resolves the calling identity. An explicit
// X-Identity header wins; otherwise the client address is used so
// anonymous visitors are still tracked per host.
func identityFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Identity"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// registeredFromRequest reports whether the caller gets the registered
// baseline tier.
func registeredFromRequest(r *http.Request) bool {
	return r.Header.Get("X-Registered") == "true"
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	balance, err := s.ledger.Balance(r.Context(), identityFromRequest(r), registeredFromRequest(r))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeBalance(w, http.StatusOK, balance)
}

func (s *Server) handleDeduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Operation == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "operation is required"})
		return
	}

	op := quota.OperationType(req.Operation)
	amount := req.Amount
	if amount == 0 {
		amount = s.costs.Cost(op)
	}

	balance, err := s.ledger.Deduct(r.Context(), identityFromRequest(r), registeredFromRequest(r), amount, op)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeBalance(w, http.StatusOK, balance)
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.webhookToken == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "credit grants not configured"})
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.webhookToken)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid webhook token"})
		return
	}

	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Identity == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "identityKey is required"})
		return
	}

	balance, err := s.ledger.AddCredits(r.Context(), req.Identity, req.Amount, req.Reason)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	slog.Info("credits granted",
		"identity", req.Identity,
		"amount", req.Amount,
		"reason", req.Reason)
	s.writeBalance(w, http.StatusOK, balance)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		status["store"] = err.Error()
	} else {
		status["store"] = "ok"
	}
	if s.degraded() {
		status["degraded"] = true
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) writeBalance(w http.ResponseWriter, status int, balance *quota.Balance) {
	w.Header().Set("X-Credits-Remaining", strconv.FormatInt(balance.Credits, 10))
	w.Header().Set("X-Credits-Reset", balance.NextReset.UTC().Format(time.RFC3339))
	if balance.Degraded {
		w.Header().Set("X-Ledger-Degraded", "true")
	}

	ops := balance.Operations
	if ops == nil {
		ops = []quota.Operation{}
	}
	writeJSON(w, status, balanceResponse{
		Identity:   balance.Identity,
		Credits:    balance.Credits,
		Operations: ops,
		NextReset:  balance.NextReset,
		Degraded:   balance.Degraded,
	})
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	var insufficient *quota.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		// 402 rather than a generic 400 so clients can tell a billing
		// rejection from a malformed request without parsing the body.
		w.Header().Set("X-Credits-Remaining", strconv.FormatInt(insufficient.Credits, 10))
		writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Error:    "insufficient credits",
			Credits:  &insufficient.Credits,
			Required: &insufficient.Required,
		})
	case errors.Is(err, quota.ErrTransient):
		w.Header().Set("Retry-After", "2")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "ledger temporarily unavailable"})
	case errors.Is(err, quota.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
