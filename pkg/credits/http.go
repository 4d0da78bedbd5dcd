package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// IdempotencyKeyHeader carries the invocation id on deduction requests.
const IdempotencyKeyHeader = "Idempotency-Key"

// BalanceResponse is the body of GET /v1/credits/{caller}.
type BalanceResponse struct {
	CallerID string `json:"callerId"`
	Balance  int64  `json:"balance"`
}

// DeductRequest is the body of POST /v1/credits/{caller}/deductions.
type DeductRequest struct {
	Amount       int64  `json:"amount"`
	InvocationID string `json:"invocationId"`
}

// TopUpRequest is the body of POST /v1/credits/{caller}/topups.
type TopUpRequest struct {
	Amount int64 `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPLedger talks to a remote ledger service speaking the Handler API.
type HTTPLedger struct {
	baseURL string
	token   string
	client  *retryablehttp.Client
}

var _ Ledger = (*HTTPLedger)(nil)

// HTTPOption configures an HTTPLedger.
type HTTPOption func(*HTTPLedger)

// WithToken sends a bearer token on every request.
func WithToken(token string) HTTPOption {
	return func(l *HTTPLedger) { l.token = token }
}

// WithRetryMax overrides the retry count for transport and 5xx failures.
func WithRetryMax(n int) HTTPOption {
	return func(l *HTTPLedger) { l.client.RetryMax = n }
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(l *HTTPLedger) { l.client.HTTPClient.Timeout = d }
}

// NewHTTPLedger creates a client for the ledger at baseURL.
func NewHTTPLedger(baseURL string, opts ...HTTPOption) *HTTPLedger {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.Logger = nil

	l := &HTTPLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *HTTPLedger) CheckBalance(ctx context.Context, callerID string) (int64, error) {
	var out BalanceResponse
	if err := l.do(ctx, http.MethodGet, l.callerURL(callerID), nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// Deduct posts the deduction with the invocation id as idempotency key;
// retried requests are deduplicated by the server.
func (l *HTTPLedger) Deduct(ctx context.Context, callerID string, amount int64, invocationID string) error {
	if err := checkDeduct(callerID, amount, invocationID); err != nil {
		return err
	}
	body := DeductRequest{Amount: amount, InvocationID: invocationID}
	headers := map[string]string{IdempotencyKeyHeader: invocationID}
	return l.do(ctx, http.MethodPost, l.callerURL(callerID)+"/deductions", body, headers, nil)
}

func (l *HTTPLedger) TopUp(ctx context.Context, callerID string, amount int64) error {
	if err := checkTopUp(callerID, amount); err != nil {
		return err
	}
	return l.do(ctx, http.MethodPost, l.callerURL(callerID)+"/topups", TopUpRequest{Amount: amount}, nil, nil)
}

func (l *HTTPLedger) callerURL(callerID string) string {
	return l.baseURL + "/v1/credits/" + url.PathEscape(callerID)
}

func (l *HTTPLedger) do(ctx context.Context, method, target string, in interface{}, headers map[string]string, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("credits: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("credits: create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("credits: %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrUnknownCaller
	case resp.StatusCode >= 300:
		var e errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("credits: ledger returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("credits: ledger returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("credits: decode response: %w", err)
	}
	return nil
}

// Handler serves a ledger over HTTP:
//
//	GET  /v1/credits/{caller}
//	POST /v1/credits/{caller}/deductions
//	POST /v1/credits/{caller}/topups
func Handler(ledger Ledger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/credits/{caller}", func(w http.ResponseWriter, r *http.Request) {
		caller := r.PathValue("caller")
		balance, err := ledger.CheckBalance(r.Context(), caller)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, BalanceResponse{CallerID: caller, Balance: balance})
	})

	mux.HandleFunc("POST /v1/credits/{caller}/deductions", func(w http.ResponseWriter, r *http.Request) {
		var req DeductRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if req.InvocationID == "" {
			req.InvocationID = r.Header.Get(IdempotencyKeyHeader)
		}
		if err := ledger.Deduct(r.Context(), r.PathValue("caller"), req.Amount, req.InvocationID); err != nil {
			writeLedgerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/credits/{caller}/topups", func(w http.ResponseWriter, r *http.Request) {
		var req TopUpRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if err := ledger.TopUp(r.Context(), r.PathValue("caller"), req.Amount); err != nil {
			writeLedgerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownCaller):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrMissingInvocationID):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "ledger unavailable"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
