package gateway

import "context"

const idempotencyParam = "idempotencyKey"

// RPCRequest is one JSON-RPC 2.0 call. IdempotencyKey is an extension:
// a retried request with the same key, caller and method is answered from
// cache instead of running again. The key may also be sent as the
// "idempotencyKey" param.
type RPCRequest struct {
	ID             string                 `json:"id"`
	Method         string                 `json:"method"`
	Params         map[string]interface{} `json:"params,omitempty"`
	JSONRPC        string                 `json:"jsonrpc"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
}

// idempotencyKey returns the envelope key, falling back to the params key.
func (r *RPCRequest) idempotencyKey() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	key, _ := r.Params[idempotencyParam].(string)
	return key
}

// RPCResponse carries either Result or Error.
type RPCResponse struct {
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	JSONRPC string      `json:"jsonrpc"`
}

// RPCError is a protocol-level failure. Tool failures are not RPC errors;
// they come back as a result envelope with success false.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

func rpcError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// RequestHandler handles one RPC method. The context carries the caller.
type RequestHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Standard JSON-RPC codes, then gateway codes in the server range.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	AuthenticationRequired = -32001
	CallerRequired         = -32002
	RateLimitExceeded      = -32005
	TooManyConcurrent      = -32006
)

// EventMessage is pushed by the server without a request.
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// AuthChallenge is the first frame on every WebSocket connection.
type AuthChallenge struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// AuthResponse answers a challenge. Signature is SignChallenge over the
// challenge and the caller id. CallerID is required when the upgrade
// request carried no X-Caller-Id header.
type AuthResponse struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
	CallerID  string `json:"callerId,omitempty"`
}

// AuthResult reports the handshake outcome. CallerID is masked.
type AuthResult struct {
	Event    string `json:"event"`
	Success  bool   `json:"success,omitempty"`
	Message  string `json:"message,omitempty"`
	CallerID string `json:"callerId,omitempty"`
}
