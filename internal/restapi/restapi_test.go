package restapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/slackbridge/internal/slackapi"
	"github.com/ggoodman/slackbridge/internal/slackapi/slackapitest"
)

func newTestAPI(fake *slackapitest.Fake) *API {
	return New(fake, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func do(t *testing.T, h http.Handler, method, target, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return rec.Code, out
}

func badRequest(detail string) map[string]any {
	return map[string]any{"ok": false, "error": "bad_request", "detail": detail}
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		fn         func(ctx context.Context, channel, text string) slackapi.Result[slackapi.Sent]
		wantStatus int
		want       map[string]any
		wantCalls  int
	}{
		{
			name:       "ok",
			body:       `{"channel":"C1","text":"hello"}`,
			wantStatus: http.StatusOK,
			want:       map[string]any{"ok": true, "ts": "1.0", "channel": "C1"},
			wantCalls:  1,
		},
		{
			name:       "missing text",
			body:       `{"channel":"C1"}`,
			wantStatus: http.StatusBadRequest,
			want:       badRequest("channel and text are required"),
		},
		{
			name:       "empty channel",
			body:       `{"channel":"","text":"x"}`,
			wantStatus: http.StatusBadRequest,
			want:       badRequest("channel and text are required"),
		},
		{
			name:       "empty object",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			want:       badRequest("channel and text are required"),
		},
		{
			name:       "malformed json",
			body:       `{"channel":`,
			wantStatus: http.StatusBadRequest,
			want:       badRequest("invalid JSON body"),
		},
		{
			name: "upstream failure",
			body: `{"channel":"C404","text":"x"}`,
			fn: func(ctx context.Context, channel, text string) slackapi.Result[slackapi.Sent] {
				return slackapi.Fail[slackapi.Sent]("channel_not_found", "slack API error: channel_not_found")
			},
			wantStatus: http.StatusInternalServerError,
			want:       map[string]any{"ok": false, "error": "channel_not_found", "detail": "slack API error: channel_not_found"},
			wantCalls:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &slackapitest.Fake{SendMessageFn: tt.fn}
			status, got := do(t, newTestAPI(fake), http.MethodPost, "/messages/send", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, fake.CallCount())
		})
	}
}

func TestSendMessageEmptyBody(t *testing.T) {
	fake := &slackapitest.Fake{}
	req := httptest.NewRequest(http.MethodPost, "/messages/send", nil)
	rec := httptest.NewRecorder()
	newTestAPI(fake).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"bad_request","detail":"channel and text are required"}`, rec.Body.String())
	assert.Zero(t, fake.CallCount())
}

func TestChannelHistory(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantLimit  int
		wantCursor string
	}{
		{"defaults", "/channels/C1/history", 20, ""},
		{"explicit", "/channels/C1/history?limit=5&cursor=abc", 5, "abc"},
		{"non numeric limit", "/channels/C1/history?limit=lots", 20, ""},
		{"negative limit", "/channels/C1/history?limit=-3", 20, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &slackapitest.Fake{}
			status, got := do(t, newTestAPI(fake), http.MethodGet, tt.target, "")
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, true, got["ok"])

			calls := fake.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, "GetChannelHistory", calls[0].Op)
			assert.Equal(t, []any{"C1", tt.wantLimit, tt.wantCursor}, calls[0].Args)
		})
	}
}

func TestChannelHistoryFailure(t *testing.T) {
	fake := &slackapitest.Fake{
		GetChannelHistoryFn: func(ctx context.Context, channelID string, limit int, cursor string) slackapi.Result[slackapi.History] {
			return slackapi.Fail[slackapi.History](slackapi.CodeTimeout, "request timed out")
		},
	}
	status, got := do(t, newTestAPI(fake), http.MethodGet, "/channels/C1/history", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "timeout", got["error"])
}

func TestSearchMessages(t *testing.T) {
	t.Run("missing query", func(t *testing.T) {
		fake := &slackapitest.Fake{}
		status, got := do(t, newTestAPI(fake), http.MethodGet, "/search", "")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, badRequest("query is required"), got)
		assert.Zero(t, fake.CallCount())
	})

	t.Run("count default and override", func(t *testing.T) {
		fake := &slackapitest.Fake{}
		api := newTestAPI(fake)
		status, _ := do(t, api, http.MethodGet, "/search?query=deploy", "")
		require.Equal(t, http.StatusOK, status)
		status, _ = do(t, api, http.MethodGet, "/search?query=deploy&count=3", "")
		require.Equal(t, http.StatusOK, status)

		calls := fake.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, []any{"deploy", 20}, calls[0].Args)
		assert.Equal(t, []any{"deploy", 3}, calls[1].Args)
	})
}

func TestSearchUsers(t *testing.T) {
	fake := &slackapitest.Fake{
		SearchUsersFn: func(ctx context.Context, query string) slackapi.Result[slackapi.Users] {
			return slackapi.OK(slackapi.Users{OK: true, Users: []slackapi.User{{ID: "U1", Name: "alice"}}})
		},
	}
	api := newTestAPI(fake)

	status, got := do(t, api, http.MethodGet, "/users/search?query=ali", "")
	require.Equal(t, http.StatusOK, status)
	users, ok := got["users"].([]any)
	require.True(t, ok)
	assert.Len(t, users, 1)

	status, got = do(t, api, http.MethodGet, "/users/search", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, badRequest("query is required"), got)

	status, got = do(t, api, http.MethodGet, "/users/search?query=%20%20", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, badRequest("query is required"), got)
	assert.Equal(t, 1, fake.CallCount(), "blank query must not reach the client")
}

func TestOpenDM(t *testing.T) {
	fake := &slackapitest.Fake{}
	api := newTestAPI(fake)

	status, got := do(t, api, http.MethodPost, "/dm/open", `{"user_id":"U1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, got["ok"])

	status, got = do(t, api, http.MethodPost, "/dm/open", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, badRequest("user_id is required"), got)

	status, got = do(t, api, http.MethodPost, "/dm/open", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, badRequest("invalid JSON body"), got)

	assert.Equal(t, 1, fake.CallCount())
}
