package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

const jsonRPCVersion = "2.0"

// RPCRouter maps method names to handlers and runs requests through them.
type RPCRouter struct {
	mu       sync.RWMutex
	methods  map[string]RequestHandler
	replays  *replayCache
	inFlight singleflight.Group
}

// NewRPCRouter creates a router with no methods.
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]RequestHandler),
		replays: newReplayCache(defaultIdempotencyTTL),
	}
}

// RegisterMethod registers handler under name, replacing any previous one.
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	r.mu.Lock()
	r.methods[name] = handler
	r.mu.Unlock()
	return nil
}

// UnregisterMethod removes a method.
func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	delete(r.methods, name)
	r.mu.Unlock()
}

// HasMethod reports whether name is registered.
func (r *RPCRouter) HasMethod(name string) bool {
	_, ok := r.handler(name)
	return ok
}

// GetMethods returns the registered method names, sorted.
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (r *RPCRouter) handler(name string) (RequestHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.methods[name]
	return h, ok
}

// ParseRequest decodes one request frame. A missing jsonrpc field is
// treated as "2.0"; any other version is rejected.
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}

	switch {
	case req.ID == "":
		return nil, rpcError(InvalidRequest, "Invalid request: missing id field")
	case req.Method == "":
		return nil, rpcError(InvalidRequest, "Invalid request: missing method field")
	case req.JSONRPC == "":
		req.JSONRPC = jsonRPCVersion
	case req.JSONRPC != jsonRPCVersion:
		return nil, rpcError(InvalidRequest, fmt.Sprintf("Invalid request: unsupported jsonrpc version %q", req.JSONRPC))
	}

	return &req, nil
}

// RouteRequest runs the handler for req. A request with an idempotency key
// is answered from the replay cache when the same caller already sent it
// for the same method, and concurrent duplicates share one execution.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return &RPCResponse{
			JSONRPC: jsonRPCVersion,
			Error:   rpcError(InvalidRequest, "invalid request"),
		}
	}

	caller, _ := CallerFromContext(ctx)
	key := replayKey(caller.ID, req.Method, req.idempotencyKey())
	if key == "" {
		return r.execute(ctx, req)
	}

	if cached, ok := r.replays.get(key); ok {
		cached.ID = req.ID
		return &cached
	}

	v, _, _ := r.inFlight.Do(key, func() (interface{}, error) {
		if cached, ok := r.replays.get(key); ok {
			return cached, nil
		}
		resp := *r.execute(ctx, req)
		r.replays.put(key, resp)
		return resp, nil
	})

	resp := v.(RPCResponse).clone()
	resp.ID = req.ID
	return &resp
}

func (r *RPCRouter) execute(ctx context.Context, req *RPCRequest) *RPCResponse {
	resp := &RPCResponse{ID: req.ID, JSONRPC: jsonRPCVersion}

	handler, ok := r.handler(req.Method)
	if !ok {
		resp.Error = rpcError(MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
		return resp
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		var typed *RPCError
		if errors.As(err, &typed) {
			resp.Error = typed
		} else {
			resp.Error = rpcError(InternalError, err.Error())
		}
		return resp
	}

	resp.Result = result
	return resp
}
