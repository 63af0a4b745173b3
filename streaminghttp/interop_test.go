package streaminghttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ggoodman/slackbridge/auth"
	"github.com/ggoodman/slackbridge/internal/bridge"
	"github.com/ggoodman/slackbridge/internal/slackapi"
	"github.com/ggoodman/slackbridge/internal/slackapi/slackapitest"
)

// apiKeyTransport stamps the shared secret on every outgoing request.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t apiKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set(auth.HeaderName, t.key)
	return t.base.RoundTrip(r)
}

func TestSDKClientInterop(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	fake := &slackapitest.Fake{
		SearchUsersFn: func(ctx context.Context, query string) slackapi.Result[slackapi.Users] {
			return slackapi.OK(slackapi.Users{OK: true, Users: []slackapi.User{{ID: "U1", Name: query}}})
		},
	}
	srv := mustServer(t, fake)

	client := sdk.NewClient(&sdk.Implementation{Name: "interop", Version: "0.0.0"}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{
		Endpoint:   srv.URL,
		HTTPClient: &http.Client{Transport: apiKeyTransport{key: testAPIKey, base: http.DefaultTransport}},
		MaxRetries: -1,
	}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	if want, got := "slackbridge", cs.InitializeResult().ServerInfo.Name; want != got {
		t.Errorf("server name: want %q, got %q", want, got)
	}
	if srv.registry.Len() != 1 {
		t.Fatalf("registry has %d sessions", srv.registry.Len())
	}

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(lt.Tools) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(lt.Tools))
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      bridge.ToolFindUser,
		Arguments: map[string]any{"query": "alice"},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	var payload struct {
		OK    bool `json:"ok"`
		Users []struct {
			ID string `json:"id"`
		} `json:"users"`
	}
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !payload.OK || len(payload.Users) != 1 || payload.Users[0].ID != "U1" {
		t.Fatalf("unexpected payload %s", text.Text)
	}

	_, err = cs.CallTool(ctx, &sdk.CallToolParams{Name: "nope", Arguments: map[string]any{}})
	if err == nil {
		t.Fatal("expected protocol error for unknown tool")
	}
}
