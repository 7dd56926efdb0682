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
	log := Wrap(slog.New(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "POST", Path: "/messages"})
	ctx = WithSessionData(ctx, &SessionData{SessionID: "s1", State: "open"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "tools/call", ID: "7", Type: "request"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "echo"})

	log.InfoContext(ctx, "router.dispatch.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v (%s)", err, buf.String())
	}
	if rec["component"] != "test" {
		t.Fatalf("expected attrs from With to survive, got %v", rec)
	}
	sess, _ := rec["sess"].(map[string]any)
	if sess["id"] != "s1" || sess["state"] != "open" {
		t.Fatalf("unexpected sess group: %v", rec["sess"])
	}
	if _, ok := sess["protocol_version"]; ok {
		t.Fatalf("empty protocol version should be omitted: %v", sess)
	}
	rpc, _ := rec["rpc"].(map[string]any)
	if rpc["method"] != "tools/call" || rpc["id"] != "7" {
		t.Fatalf("unexpected rpc group: %v", rec["rpc"])
	}
	tool, _ := rec["tool"].(map[string]any)
	if tool["name"] != "echo" {
		t.Fatalf("unexpected tool group: %v", rec["tool"])
	}
	req, _ := rec["req"].(map[string]any)
	if req["id"] != "r1" {
		t.Fatalf("unexpected req group: %v", rec["req"])
	}
}

func TestWrapIsIdempotent(t *testing.T) {
	l := Wrap(slog.Default())
	if Wrap(l) != l {
		t.Fatal("expected already wrapped logger to be returned unchanged")
	}
}
