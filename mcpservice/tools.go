package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/contentstack-mcp/mcp"
)

// ErrToolNotFound is returned by Invoke for names that are not registered.
var ErrToolNotFound = errors.New("tool not found")

// ArgumentError reports tool arguments that failed validation. The handler
// is never called when Invoke returns one.
type ArgumentError struct {
	Tool   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, e.Reason)
}

// ToolDispatcher is the contract the protocol engine uses to list and invoke
// tools. Implementations must be safe for concurrent use; Invoke may be
// called for many sessions at once and may run for an unbounded time.
type ToolDispatcher interface {
	ListTools(ctx context.Context, cursor string) (Page[mcp.Tool], error)
	Invoke(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error)
}

// ToolHandler handles a single validated invocation.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)
