package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/contentstack-mcp/internal/jsonrpc"
	"github.com/ggoodman/contentstack-mcp/sessions"
)

// writeMessage serializes v and pushes it on the session channel.
func (e *Engine) writeMessage(ctx context.Context, sess *sessions.Session, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound message: %w", err)
	}
	return sess.Send(ctx, b)
}

func (e *Engine) writeResponse(ctx context.Context, sess *sessions.Session, res *jsonrpc.Response) error {
	return e.writeMessage(ctx, sess, res)
}
