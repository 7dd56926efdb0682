package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/ggoodman/contentstack-mcp/mcp"
)

type searchArgs struct {
	ContentType string         `json:"contentType" jsonschema:"minLength=1,description=Content type UID"`
	Query       map[string]any `json:"query,omitempty"`
	Limit       int            `json:"limit,omitempty"`
}

func newSearchTool(called *int) StaticTool {
	return NewTool[searchArgs]("search", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[searchArgs]) error {
		*called++
		return w.AppendText("searched " + r.Args().ContentType)
	}, WithToolDescription("search entries"))
}

func TestNewToolReflectsSchema(t *testing.T) {
	tool := newSearchTool(new(int))
	s := tool.Descriptor.InputSchema

	if s.Type != "object" || s.AdditionalProperties {
		t.Fatalf("unexpected schema root: %+v", s)
	}
	if !slices.Equal(s.Required, []string{"contentType"}) {
		t.Fatalf("unexpected required set: %v", s.Required)
	}
	ct := s.Properties["contentType"]
	if ct.Type != "string" || ct.Description != "Content type UID" {
		t.Fatalf("unexpected contentType property: %+v", ct)
	}
	if ct.MinLength == nil || *ct.MinLength != 1 {
		t.Fatalf("expected minLength 1, got %v", ct.MinLength)
	}
	if got := s.Properties["query"].Type; got != "object" {
		t.Fatalf("expected query to be an object, got %q", got)
	}
	if got := s.Properties["limit"].Type; got != "integer" {
		t.Fatalf("expected limit to be an integer, got %q", got)
	}
	if tool.Descriptor.Description != "search entries" {
		t.Fatalf("unexpected description %q", tool.Descriptor.Description)
	}
}

func TestInvokeValidatesBeforeHandler(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{"missing required", `{}`},
		{"null required", `{"contentType":null}`},
		{"absent arguments", ``},
		{"unknown field", `{"contentType":"blog","bogus":true}`},
		{"wrong type", `{"contentType":42}`},
		{"integer expected", `{"contentType":"blog","limit":1.5}`},
		{"empty string below minLength", `{"contentType":""}`},
		{"not an object", `["blog"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := 0
			c := NewToolsContainer(newSearchTool(&called))

			_, err := c.Invoke(t.Context(), "search", json.RawMessage(tt.args))
			var argErr *ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("expected ArgumentError, got %v", err)
			}
			if argErr.Tool != "search" || argErr.Reason == "" {
				t.Fatalf("expected descriptive error, got %+v", argErr)
			}
			if called != 0 {
				t.Fatal("handler must not run for invalid arguments")
			}
		})
	}
}

type pagedArgs struct {
	ContentType string `json:"contentType" jsonschema:"minLength=1"`
	Order       string `json:"order,omitempty" jsonschema:"enum=asc,enum=desc"`
	Page        struct {
		Limit int    `json:"limit" jsonschema:"minimum=1,maximum=100"`
		Sort  string `json:"sort,omitempty"`
	} `json:"page"`
	Tags []string `json:"tags,omitempty"`
}

func TestInvokeValidatesNestedArguments(t *testing.T) {
	tests := []struct {
		name string
		args string
		ok   bool
	}{
		{"valid", `{"contentType":"blog","order":"asc","page":{"limit":10},"tags":["a"]}`, true},
		{"nested type mismatch", `{"contentType":"blog","page":{"limit":"ten"}}`, false},
		{"nested unknown field", `{"contentType":"blog","page":{"limit":1,"offset":2}}`, false},
		{"nested above maximum", `{"contentType":"blog","page":{"limit":500}}`, false},
		{"enum mismatch", `{"contentType":"blog","order":"sideways","page":{"limit":1}}`, false},
		{"array item type", `{"contentType":"blog","page":{"limit":1},"tags":[1]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := 0
			tool := NewTool[pagedArgs]("paged", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[pagedArgs]) error {
				called++
				return w.AppendText(r.Args().ContentType)
			})

			_, err := NewToolsContainer(tool).Invoke(t.Context(), "paged", json.RawMessage(tt.args))
			if tt.ok {
				if err != nil || called != 1 {
					t.Fatalf("expected success, got err=%v called=%d", err, called)
				}
				return
			}
			var argErr *ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("expected ArgumentError, got %v", err)
			}
			if called != 0 {
				t.Fatal("handler must not run for invalid arguments")
			}
		})
	}
}

func TestNewToolWithoutArguments(t *testing.T) {
	called := 0
	tool := NewTool[struct{}]("noop", func(context.Context, ToolResponseWriter, *ToolRequest[struct{}]) error {
		called++
		return nil
	})

	s := tool.Descriptor.InputSchema
	if s.Type != "object" || len(s.Properties) != 0 || len(s.Required) != 0 {
		t.Fatalf("unexpected schema for empty arguments: %+v", s)
	}

	c := NewToolsContainer(tool)
	for _, args := range []string{``, `null`, `{}`} {
		if _, err := c.Invoke(t.Context(), "noop", json.RawMessage(args)); err != nil {
			t.Fatalf("invoke with %q: %v", args, err)
		}
	}
	if called != 3 {
		t.Fatalf("expected three calls, got %d", called)
	}
	var argErr *ArgumentError
	if _, err := c.Invoke(t.Context(), "noop", json.RawMessage(`{"extra":1}`)); !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError for unexpected argument, got %v", err)
	}
}

func TestInvokeSuccess(t *testing.T) {
	called := 0
	c := NewToolsContainer(newSearchTool(&called))

	res, err := c.Invoke(t.Context(), "search", json.RawMessage(`{"contentType":"blog","query":{"title":"x"},"limit":3}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if called != 1 {
		t.Fatalf("expected handler to run once, ran %d", called)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "searched blog" || res.IsError {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	c := NewToolsContainer()
	if _, err := c.Invoke(t.Context(), "nope", nil); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	var argErr *ArgumentError
	if _, err := c.Invoke(t.Context(), "", nil); !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError for empty name, got %v", err)
	}
}

func TestInvokeHandlerError(t *testing.T) {
	boom := errors.New("upstream unavailable")
	tool := NewTool[struct{}]("fail", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[struct{}]) error {
		return boom
	})
	c := NewToolsContainer(tool)

	if _, err := c.Invoke(t.Context(), "fail", json.RawMessage(`{}`)); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestListToolsPagination(t *testing.T) {
	var defs []StaticTool
	for _, name := range []string{"a", "b", "c"} {
		defs = append(defs, NewTool[struct{}](name, func(context.Context, ToolResponseWriter, *ToolRequest[struct{}]) error { return nil }))
	}
	c := NewToolsContainer(defs...)
	c.SetPageSize(2)

	first, err := c.ListTools(t.Context(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.NextCursor != "2" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second, _ := c.ListTools(t.Context(), first.NextCursor)
	if len(second.Items) != 1 || second.Items[0].Name != "c" || second.NextCursor != "" {
		t.Fatalf("unexpected second page: %+v", second)
	}
	bogus, _ := c.ListTools(t.Context(), "not-a-number")
	if len(bogus.Items) != 2 {
		t.Fatalf("invalid cursor should restart listing, got %+v", bogus)
	}
}

func TestContainerMutations(t *testing.T) {
	noop := func(context.Context, ToolResponseWriter, *ToolRequest[struct{}]) error { return nil }
	c := NewToolsContainer(NewTool[struct{}]("a", noop))

	if c.Add(NewTool[struct{}]("a", noop)) {
		t.Fatal("duplicate add should be refused")
	}
	if !c.Add(NewTool[struct{}]("b", noop)) {
		t.Fatal("add b")
	}
	if !c.Remove("a") || c.Remove("a") {
		t.Fatal("remove should succeed once")
	}
	if got := c.Snapshot(); len(got) != 1 || got[0].Name != "b" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestWriterProgressAndFinalize(t *testing.T) {
	var reports [][2]float64
	ctx := WithProgressReporter(t.Context(), ProgressFunc(func(_ context.Context, p, total float64) error {
		reports = append(reports, [2]float64{p, total})
		return nil
	}))

	tool := NewTool[struct{}]("slow", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[struct{}]) error {
		if err := w.SendProgress(1, 2); err != nil {
			return err
		}
		if err := w.AppendJSON(map[string]int{"n": 1}); err != nil {
			return err
		}
		w.SetMeta("source", "test")
		return w.SendProgress(2, 2)
	})

	res, err := NewToolsContainer(tool).Invoke(ctx, "slow", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(reports) != 2 || reports[1] != [2]float64{2, 2} {
		t.Fatalf("unexpected progress reports: %v", reports)
	}
	if res.Content[0].Text != "{\n  \"n\": 1\n}" {
		t.Fatalf("unexpected JSON block: %q", res.Content[0].Text)
	}
	if res.Meta["source"] != "test" {
		t.Fatalf("expected meta to be carried, got %v", res.Meta)
	}

	w := newToolResponseWriter(t.Context())
	_ = w.Result()
	if err := w.AppendText("late"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}

func TestErrorfResult(t *testing.T) {
	res := Errorf("bad %s", "thing")
	want := mcp.ContentBlock{Type: mcp.ContentTypeText, Text: "bad thing"}
	if !res.IsError || len(res.Content) != 1 || res.Content[0] != want {
		t.Fatalf("unexpected result: %+v", res)
	}
}
