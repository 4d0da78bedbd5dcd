package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/harun/toolgate/internal/tracing"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.stopping.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"stopping"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleRPC answers one JSON-RPC request per POST. The shared secret
// authenticates the process; X-Caller-Id names the agent it acts for.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authHandler.VerifySecret(r.Header.Get(SecretHeader)) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.stopping.Load() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		rpcErr := rpcError(ParseError, err.Error())
		errors.As(err, &rpcErr)
		writeRPCResponse(w, http.StatusBadRequest, RPCResponse{JSONRPC: jsonRPCVersion, Error: rpcErr})
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Done()

	ctx := s.requestContext(r.Context(), Caller{
		ID:        r.Header.Get(CallerHeader),
		ThreadID:  r.Header.Get(ThreadHeader),
		RequestID: r.Header.Get(RequestIDHeader),
	}, r.Header.Get(TraceIDHeader))

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("rpc_id", req.ID).
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	writeRPCResponse(w, http.StatusOK, *s.router.RouteRequest(ctx, req))
}

func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authHandler.VerifySecret(r.Header.Get(SecretHeader)) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestContext stamps trace ids and the caller onto ctx. A missing
// request id is generated and written back into the Caller.
func (s *Server) requestContext(parent context.Context, c Caller, traceID string) context.Context {
	ctx := tracing.NewRequestContext(parent, c.RequestID)
	ctx = tracing.NewContext(ctx, tracing.TraceContext{
		TraceID:  traceID,
		CallerID: c.ID,
		ThreadID: c.ThreadID,
	})
	c.RequestID = tracing.GetRequestID(ctx)
	return WithCaller(ctx, c)
}

func writeRPCResponse(w http.ResponseWriter, status int, resp RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
