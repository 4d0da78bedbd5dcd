package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/pkg/coretools"
	"github.com/harun/toolgate/pkg/schema"
	"github.com/harun/toolgate/pkg/toolregistry"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *toolregistry.Registry) {
	t.Helper()

	logger := zerolog.Nop()
	reg := toolregistry.New(toolregistry.Config{Logger: &logger})
	require.NoError(t, coretools.Register(reg, coretools.Options{}))

	cfg := Config{
		SharedSecret: testSecret,
		TickInterval: -1,
		Tools:        reg,
		Logger:       logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s, reg
}

func postRPC(t *testing.T, url string, headers map[string]string, body string) (int, RPCResponse) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url+"/rpc", strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out RPCResponse
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestNewServer_Validation(t *testing.T) {
	reg := toolregistry.New(toolregistry.Config{})

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "negative port", cfg: Config{Port: -1, SharedSecret: testSecret, Tools: reg}, want: "invalid port"},
		{name: "missing secret", cfg: Config{Tools: reg}, want: "shared secret is required"},
		{name: "missing registry", cfg: Config{SharedSecret: testSecret}, want: "tool registry is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestServer_HTTPRPC(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	authed := map[string]string{SecretHeader: testSecret, CallerHeader: "user-123456"}

	t.Run("rejects a missing secret", func(t *testing.T) {
		status, _ := postRPC(t, ts.URL, nil, `{"id":"1","method":"tools.list"}`)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("rejects GET", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/rpc")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("reports parse errors", func(t *testing.T) {
		status, resp := postRPC(t, ts.URL, authed, `{not json`)
		assert.Equal(t, http.StatusBadRequest, status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ParseError, resp.Error.Code)
	})

	t.Run("lists tools", func(t *testing.T) {
		status, resp := postRPC(t, ts.URL, authed, `{"id":"1","method":"tools.list","params":{"category":"utility"}}`)
		require.Equal(t, http.StatusOK, status)
		require.Nil(t, resp.Error)

		tools := resp.Result.(map[string]interface{})["tools"].([]interface{})
		names := make([]string, 0, len(tools))
		for _, tool := range tools {
			names = append(names, tool.(map[string]interface{})["name"].(string))
		}
		assert.Contains(t, names, "echo")
		assert.NotContains(t, names, "tools_batch")
	})

	t.Run("lists tools in openai format", func(t *testing.T) {
		_, resp := postRPC(t, ts.URL, authed, `{"id":"1","method":"tools.list","params":{"format":"openai","tag":"diagnostics"}}`)
		require.Nil(t, resp.Error)

		tools := resp.Result.(map[string]interface{})["tools"].([]interface{})
		require.Len(t, tools, 1)
		tool := tools[0].(map[string]interface{})
		assert.Equal(t, "function", tool["type"])
		assert.Equal(t, "echo", tool["function"].(map[string]interface{})["name"])
	})

	t.Run("rejects an unknown format", func(t *testing.T) {
		_, resp := postRPC(t, ts.URL, authed, `{"id":"1","method":"tools.list","params":{"format":"xml"}}`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})

	t.Run("rejects an invalid permission level", func(t *testing.T) {
		_, resp := postRPC(t, ts.URL, authed, `{"id":"1","method":"tools.list","params":{"permissionLevel":"root"}}`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})

	t.Run("describes a tool", func(t *testing.T) {
		_, resp := postRPC(t, ts.URL, authed, `{"id":"1","method":"tools.describe","params":{"name":"echo"}}`)
		require.Nil(t, resp.Error)
		def := resp.Result.(map[string]interface{})
		assert.Equal(t, "echo", def["name"])
		assert.Equal(t, "read", def["permissionLevel"])
	})

	t.Run("executes a tool", func(t *testing.T) {
		headers := map[string]string{SecretHeader: testSecret, CallerHeader: "user-123456", RequestIDHeader: "req-42"}
		_, resp := postRPC(t, ts.URL, headers, `{"id":"7","method":"tools.execute","params":{"name":"echo","params":{"message":"hi","uppercase":true}}}`)
		require.Nil(t, resp.Error)
		assert.Equal(t, "7", resp.ID)

		result := resp.Result.(map[string]interface{})
		assert.Equal(t, true, result["success"])
		data := result["data"].(map[string]interface{})
		assert.Equal(t, "HI", data["message"])
		assert.Equal(t, "req-42", data["request_id"])
	})

	t.Run("returns tool failures as an envelope", func(t *testing.T) {
		_, resp := postRPC(t, ts.URL, authed, `{"id":"1","method":"tools.execute","params":{"name":"missing"}}`)
		require.Nil(t, resp.Error)

		result := resp.Result.(map[string]interface{})
		assert.Equal(t, false, result["success"])
		assert.Equal(t, "TOOL_NOT_FOUND", result["error"].(map[string]interface{})["code"])
	})

	t.Run("requires a caller to execute", func(t *testing.T) {
		_, resp := postRPC(t, ts.URL, map[string]string{SecretHeader: testSecret}, `{"id":"1","method":"tools.execute","params":{"name":"echo","params":{"message":"hi"}}}`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CallerRequired, resp.Error.Code)
	})

	t.Run("rejects non-object tool params", func(t *testing.T) {
		_, resp := postRPC(t, ts.URL, authed, `{"id":"1","method":"tools.execute","params":{"name":"echo","params":"hi"}}`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})

	t.Run("reports stats", func(t *testing.T) {
		_, resp := postRPC(t, ts.URL, authed, `{"id":"1","method":"tools.stats"}`)
		require.Nil(t, resp.Error)

		result := resp.Result.(map[string]interface{})
		tools := result["tools"].(map[string]interface{})
		assert.Greater(t, tools["total"].(float64), float64(0))
		assert.Contains(t, result["methods"], "tools.execute")
	})
}

func TestServer_IdempotentExecute(t *testing.T) {
	s, reg := newTestServer(t, nil)

	var calls atomic.Int32
	def := toolregistry.MustDefinition("counter", "test", "Count calls", toolregistry.PermissionRead, schema.NewObject())
	require.NoError(t, reg.Register(def, func(context.Context, map[string]interface{}, toolregistry.ExecutionContext) (interface{}, error) {
		return calls.Add(1), nil
	}))

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body := `{"id":"1","method":"tools.execute","idempotencyKey":"once","params":{"name":"counter"}}`
	for i := 0; i < 3; i++ {
		_, resp := postRPC(t, ts.URL, map[string]string{SecretHeader: testSecret, CallerHeader: "user-1"}, body)
		require.Nil(t, resp.Error)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, _ = postRPC(t, ts.URL, map[string]string{SecretHeader: testSecret, CallerHeader: "user-2"}, body)
	assert.Equal(t, int32(2), calls.Load())

	t.Run("key inside params", func(t *testing.T) {
		body := `{"id":"2","method":"tools.execute","params":{"name":"counter","idempotencyKey":"retry-1"}}`
		for i := 0; i < 2; i++ {
			_, resp := postRPC(t, ts.URL, map[string]string{SecretHeader: testSecret, CallerHeader: "user-3"}, body)
			require.Nil(t, resp.Error)
		}
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("non-string key", func(t *testing.T) {
		body := `{"id":"3","method":"tools.execute","params":{"name":"counter","idempotencyKey":7}}`
		_, resp := postRPC(t, ts.URL, map[string]string{SecretHeader: testSecret, CallerHeader: "user-3"}, body)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
		assert.Equal(t, int32(3), calls.Load())
	})
}

func TestServer_CreditsRouteRequiresSecret(t *testing.T) {
	credits := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s, _ := newTestServer(t, func(cfg *Config) { cfg.CreditsHandler = credits })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/credits/user-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/credits/user-1", nil)
	require.NoError(t, err)
	req.Header.Set(SecretHeader, testSecret)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func dialGateway(t *testing.T, url string, header http.Header) (*websocket.Conn, AuthChallenge) {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", header)
	require.NoError(t, err)

	var challenge AuthChallenge
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, "auth.challenge", challenge.Event)
	return conn, challenge
}

func sendAndRead(t *testing.T, conn *websocket.Conn, msg interface{}, out interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(out))
}

func TestServer_WebSocketFlow(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, challenge := dialGateway(t, ts.URL, http.Header{CallerHeader: []string{"user-ws-1"}})
	defer conn.Close()

	var early RPCResponse
	sendAndRead(t, conn, RPCRequest{ID: "0", Method: "tools.list"}, &early)
	require.NotNil(t, early.Error)
	assert.Equal(t, AuthenticationRequired, early.Error.Code)

	var auth AuthResult
	sendAndRead(t, conn, AuthResponse{Method: "auth.response", Signature: SignChallenge(testSecret, challenge.Challenge, "user-ws-1")}, &auth)
	require.True(t, auth.Success)
	assert.Equal(t, "auth.success", auth.Event)

	var resp RPCResponse
	sendAndRead(t, conn, RPCRequest{
		ID:     "1",
		Method: "tools.execute",
		Params: map[string]interface{}{
			"name":   "echo",
			"params": map[string]interface{}{"message": "over ws"},
		},
	}, &resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, "1", resp.ID)
	data := resp.Result.(map[string]interface{})["data"].(map[string]interface{})
	assert.Equal(t, "over ws", data["message"])

	clients := s.GetConnectedClients()
	require.Len(t, clients, 1)
	assert.True(t, clients[0].Authenticated)
	assert.NotEqual(t, "user-ws-1", clients[0].CallerID)

	s.NotifyToolsChanged()
	var event EventMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, EventToolsChanged, event.Event)
}

func TestServer_WebSocketCallerFromAuthResponse(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, challenge := dialGateway(t, ts.URL, nil)
	defer conn.Close()

	var auth AuthResult
	sendAndRead(t, conn, AuthResponse{
		Method:    "auth.response",
		Signature: SignChallenge(testSecret, challenge.Challenge, "user-from-auth"),
		CallerID:  "user-from-auth",
	}, &auth)
	require.True(t, auth.Success)

	var resp RPCResponse
	sendAndRead(t, conn, RPCRequest{
		ID:     "1",
		Method: "tools.execute",
		Params: map[string]interface{}{"name": "echo", "params": map[string]interface{}{"message": "x"}},
	}, &resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, true, resp.Result.(map[string]interface{})["success"])
}

func TestServer_WebSocketClosesAfterFailedAuth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _ := dialGateway(t, ts.URL, nil)
	defer conn.Close()

	var result AuthResult
	for i := 0; i < maxAuthAttempts; i++ {
		sendAndRead(t, conn, AuthResponse{Method: "auth.response", Signature: "bad", CallerID: "someone"}, &result)
		assert.False(t, result.Success)
	}
	assert.Equal(t, "Too many failed attempts", result.Message)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServer_WebSocketRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *Config) { cfg.RequestsPerMinute = 1 })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, challenge := dialGateway(t, ts.URL, http.Header{CallerHeader: []string{"user-1"}})
	defer conn.Close()

	var auth AuthResult
	sendAndRead(t, conn, AuthResponse{Method: "auth.response", Signature: SignChallenge(testSecret, challenge.Challenge, "user-1")}, &auth)
	require.True(t, auth.Success)

	var first, second RPCResponse
	sendAndRead(t, conn, RPCRequest{ID: "1", Method: "tools.stats"}, &first)
	require.Nil(t, first.Error)
	sendAndRead(t, conn, RPCRequest{ID: "2", Method: "tools.stats"}, &second)
	require.NotNil(t, second.Error)
	assert.Equal(t, RateLimitExceeded, second.Error.Code)
	assert.Equal(t, "2", second.ID)
}

func TestServer_StartStop(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *Config) {
		cfg.Host = "127.0.0.1"
		cfg.TickInterval = 10 * time.Millisecond
	})
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))

	_, err = http.Get("http://" + s.Addr() + "/healthz")
	assert.Error(t, err)
}

func TestServer_WebSocketAuthDeadline(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.authHandler.challengeTTL = 100 * time.Millisecond
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _ := dialGateway(t, ts.URL, http.Header{CallerHeader: []string{"slow-caller"}})
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return len(s.GetConnectedClients()) == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestServer_InvocationEventReachesCallerConnections(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, challenge := dialGateway(t, ts.URL, http.Header{CallerHeader: []string{"watcher-1"}})
	defer conn.Close()
	var auth AuthResult
	sendAndRead(t, conn, AuthResponse{Method: "auth.response", Signature: SignChallenge(testSecret, challenge.Challenge, "watcher-1")}, &auth)
	require.True(t, auth.Success)

	headers := map[string]string{SecretHeader: testSecret, CallerHeader: "watcher-1", RequestIDHeader: "req-42"}
	_, resp := postRPC(t, ts.URL, headers, `{"id":"1","method":"tools.execute","params":{"name":"echo","params":{"message":"hi"}}}`)
	require.Nil(t, resp.Error)

	var event EventMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, EventInvocationCompleted, event.Event)
	assert.Equal(t, map[string]interface{}{"tool": "echo", "requestId": "req-42", "success": true}, event.Data)
}

func TestServer_HealthWhileStopping(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.stopping.Store(true)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"stopping"}`, rec.Body.String())
}
