package ssehttp_test

import (
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestGoSDKClientOverSSE(t *testing.T) {
	srv := mustServer(t)
	ctx := t.Context()

	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.0"}, &sdk.ClientOptions{})
	transport := &sdk.SSEClientTransport{Endpoint: srv.URL + "/sse"}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	if want, got := "test-server", cs.InitializeResult().ServerInfo.Name; want != got {
		t.Errorf("server name: want %q, got %q", want, got)
	}

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(lt.Tools) != 1 || lt.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", lt.Tools)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"message": "hello"},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool returned error: %+v", res.Content)
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(res.Content))
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	if text.Text != "Echo: hello" {
		t.Fatalf("unexpected text %q", text.Text)
	}

	_ = cs.Close()
	deadline := time.Now().Add(5 * time.Second)
	for srv.registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not removed after client close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
