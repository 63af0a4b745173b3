package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "POST", Path: "/mcp"})
	ctx = WithSessionData(ctx, &SessionData{SessionID: "s1", ProtocolVersion: "2025-06-18"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "tools/call", ID: "7", Type: "request"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "send_message"})

	log.InfoContext(ctx, "engine.tool.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if rec["component"] != "test" {
		t.Fatalf("expected With attrs to survive, got %v", rec["component"])
	}
	for _, group := range []string{"req", "sess", "rpc", "tool"} {
		if _, ok := rec[group].(map[string]any); !ok {
			t.Fatalf("expected %q group in %s", group, buf.String())
		}
	}
	if got := rec["sess"].(map[string]any)["id"]; got != "s1" {
		t.Fatalf("sess.id = %v", got)
	}
	if got := rec["tool"].(map[string]any)["name"]; got != "send_message" {
		t.Fatalf("tool.name = %v", got)
	}
}

func TestHandlerWithoutContextData(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil)))
	log.Info("plain")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if _, ok := rec["req"]; ok {
		t.Fatalf("unexpected req group: %s", buf.String())
	}
}
