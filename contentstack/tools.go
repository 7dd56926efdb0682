package contentstack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/contentstack-mcp/mcpservice"
)

// SearchEntriesArgs is the input of searchEntries.
type SearchEntriesArgs struct {
	ContentType string         `json:"contentType" jsonschema:"description=UID of the content type to search,minLength=1"`
	Query       map[string]any `json:"query,omitempty" jsonschema:"description=Contentstack query object matched against entry fields"`
}

// CreateEntryArgs is the input of createEntry.
type CreateEntryArgs struct {
	ContentType string         `json:"contentType" jsonschema:"description=UID of the content type the entry belongs to,minLength=1"`
	Entry       map[string]any `json:"entry" jsonschema:"description=Field values of the new entry"`
}

// Tools returns searchEntries and createEntry bound to c.
func Tools(c *Client) []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool[SearchEntriesArgs]("searchEntries", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[SearchEntriesArgs]) error {
			body, err := c.SearchEntries(ctx, r.Args().ContentType, r.Args().Query)
			return writeOutcome(w, body, err)
		}, mcpservice.WithToolDescription("Search published entries of a content type in the configured environment")),

		mcpservice.NewTool[CreateEntryArgs]("createEntry", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[CreateEntryArgs]) error {
			body, err := c.CreateEntry(ctx, r.Args().ContentType, r.Args().Entry)
			return writeOutcome(w, body, err)
		}, mcpservice.WithToolDescription("Create an entry through the Content Management API")),
	}
}

// writeOutcome turns upstream failures into tool error results so the model
// can see them. Context errors are returned so the engine treats them as
// cancellation.
func writeOutcome(w mcpservice.ToolResponseWriter, body json.RawMessage, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		w.SetError(true)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return w.AppendText(fmt.Sprintf("Contentstack returned %d: %s", apiErr.Status, apiErr.Body))
		}
		return w.AppendText(err.Error())
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return err
	}
	return w.AppendJSON(v)
}
