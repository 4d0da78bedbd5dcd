package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/toolgate/pkg/toolregistry"
)

// handleWebSocket upgrades the connection, sends the auth challenge and
// hands the client to its read loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.stopping.Load() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		_ = conn.Close()
		return
	}

	now := time.Now()
	client := &Client{
		ID:           id,
		Conn:         conn,
		CallerID:     r.Header.Get(CallerHeader),
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		Limiter:      NewClientRateLimiterWithLimits(s.cfg.Limiter, id, s.cfg.RequestsPerMinute, s.cfg.MaxConcurrent),
		State:        StateConnecting,
	}
	s.clients.Add(client)
	s.logger.Info().Str("clientId", id).Str("ip", r.RemoteAddr).Msg("Client connected")

	challenge, err := s.authHandler.IssueChallenge(client)
	if err == nil {
		err = client.WriteJSON(AuthChallenge{Event: "auth.challenge", Challenge: challenge})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("clientId", id).Msg("Failed to send auth challenge")
		_ = conn.Close()
		s.clients.Remove(id)
		return
	}

	go s.readLoop(client)
}

// readLoop reads frames until the connection closes or a handler asks to
// drop it. An unauthenticated client must finish the handshake before its
// challenge expires.
func (s *Server) readLoop(client *Client) {
	defer func() {
		_ = client.Conn.Close()
		client.State = StateDisconnected
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	client.Conn.SetReadLimit(maxRequestBody)
	if ttl := s.authHandler.challengeTTL; ttl > 0 {
		_ = client.Conn.SetReadDeadline(client.ChallengeIssuedAt.Add(ttl))
	}

	for {
		_, frame, err := client.Conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				s.logger.Warn().Str("clientId", client.ID).Msg("Client did not authenticate in time")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure):
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.Touch(client.ID)
		if !s.handleFrame(client, frame) {
			return
		}
	}
}

// handleFrame processes one frame. It returns false when the connection
// should be closed.
func (s *Server) handleFrame(client *Client, frame []byte) bool {
	var auth AuthResponse
	if err := json.Unmarshal(frame, &auth); err == nil && auth.Method == "auth.response" {
		return s.handleAuthMessage(client, auth)
	}

	if !client.Authenticated() {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return true
	}

	req, err := s.router.ParseRequest(frame)
	if err != nil {
		rpcErr := rpcError(ParseError, err.Error())
		errors.As(err, &rpcErr)
		s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		return true
	}

	if err := client.Limiter.Acquire(); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.sendError(client, req.ID, rpcErr.Code, rpcErr.Message)
		}
		return true
	}

	s.inFlight.Add(1)
	ctx := s.requestContext(s.baseCtx, Caller{ID: client.CallerID}, "")
	ctx = withClientID(ctx, client.ID)

	go func() {
		defer client.Limiter.Release()
		defer s.inFlight.Done()

		resp := s.router.RouteRequest(ctx, req)
		if err := client.WriteJSON(resp); err != nil {
			s.logger.Error().Err(err).
				Str("clientId", client.ID).
				Str("requestId", req.ID).
				Msg("Failed to send response")
		}
	}()
	return true
}

func (s *Server) handleAuthMessage(client *Client, resp AuthResponse) bool {
	result, caller := s.authHandler.HandleAuthResponse(client, resp)
	if result.Success && client.CallerID == "" {
		s.clients.BindCaller(client.ID, caller)
	}

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return false
	}

	if !result.Success {
		s.logger.Warn().
			Str("clientId", client.ID).
			Str("reason", result.Message).
			Msg("Authentication failed")
		// Expired or exhausted challenges cannot be retried on this connection.
		return client.AuthAttempts < maxAuthAttempts && client.Challenge != ""
	}

	_ = client.Conn.SetReadDeadline(time.Time{})
	s.logger.Info().
		Str("clientId", client.ID).
		Str("caller", toolregistry.MaskCallerID(client.CallerID)).
		Msg("Client authenticated")
	return true
}

func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	resp := RPCResponse{ID: requestID, JSONRPC: jsonRPCVersion, Error: rpcError(code, message)}
	if err := client.WriteJSON(resp); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send error response")
	}
}
