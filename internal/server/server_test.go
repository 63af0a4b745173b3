package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/slackbridge/auth"
	"github.com/ggoodman/slackbridge/internal/bridge"
	"github.com/ggoodman/slackbridge/internal/engine"
	"github.com/ggoodman/slackbridge/internal/restapi"
	"github.com/ggoodman/slackbridge/internal/slackapi/slackapitest"
	"github.com/ggoodman/slackbridge/sessions"
	"github.com/ggoodman/slackbridge/streaminghttp"
)

const testKey = "k3y"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T) (http.Handler, *slackapitest.Fake, *sessions.Registry) {
	t.Helper()
	log := discardLogger()
	fake := &slackapitest.Fake{}
	authenticator := auth.NewStaticKey(testKey)
	tools := bridge.Tools(fake)
	registry := sessions.NewRegistry(func(id string) *engine.Engine {
		return engine.New(id, tools, engine.WithLogger(log))
	}, sessions.WithLogger(log))
	mcpHandler, err := streaminghttp.New(registry, authenticator, streaminghttp.WithLogger(log))
	require.NoError(t, err)

	r := NewRouter(Routes{
		REST:    restapi.New(fake, restapi.WithLogger(log)),
		MCP:     mcpHandler,
		Auth:    authenticator,
		MCPPath: "/rpc",
	}, log)
	return r, fake, registry
}

func serve(h http.Handler, method, target, key, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(auth.HeaderName, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsUnauthenticated(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rec := serve(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"status":"healthy"}`, rec.Body.String())
}

func TestRESTRequiresKey(t *testing.T) {
	r, fake, _ := newTestRouter(t)

	for _, key := range []string{"", "wrong"} {
		rec := serve(r, http.MethodPost, "/messages/send", key, `{"channel":"C1","text":"hi"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"ok":false,"error":"unauthorized","detail":"Missing or invalid API key"}`, rec.Body.String())
	}
	assert.Zero(t, fake.CallCount())

	rec := serve(r, http.MethodPost, "/messages/send", testKey, `{"channel":"C1","text":"hi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fake.CallCount())
}

func TestMCPMountedAtConfiguredPath(t *testing.T) {
	r, _, registry := newTestRouter(t)

	rec := serve(r, http.MethodPost, "/rpc", "", `{"jsonrpc":"2.0","method":"ping","id":1}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32000,"message":"Unauthorized: Missing or invalid API key"},"id":null}`, rec.Body.String())

	initBody := `{"jsonrpc":"2.0","method":"initialize","id":1,"params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`
	rec = serve(r, http.MethodPost, "/rpc", testKey, initBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))
	assert.Equal(t, 1, registry.Len())

	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Nil(t, res["error"])
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var hookRan atomic.Bool
	r, _, _ := newTestRouter(t)
	srv := New(ln.Addr().String(), r,
		WithLogger(discardLogger()),
		WithShutdownTimeout(2*time.Second),
		BeforeShutdown(func(ctx context.Context) error {
			hookRan.Store(true)
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, hookRan.Load())
}

func TestShutdownEndsOpenStreams(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r, _, registry := newTestRouter(t)
	srv := New(ln.Addr().String(), r,
		WithLogger(discardLogger()),
		WithShutdownTimeout(5*time.Second),
		BeforeShutdown(registry.CloseAll),
	)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	initBody := `{"jsonrpc":"2.0","method":"initialize","id":1,"params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`
	req, _ := http.NewRequest(http.MethodPost, base+"/rpc", strings.NewReader(initBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderName, testKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	sessID := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, sessID)

	get, _ := http.NewRequest(http.MethodGet, base+"/rpc", nil)
	get.Header.Set(auth.HeaderName, testKey)
	get.Header.Set("Mcp-Session-Id", sessID)
	stream, err := http.DefaultClient.Do(get)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not drain")
	}
	assert.Zero(t, registry.Len())
}
