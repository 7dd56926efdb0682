// Package mcp contains the Model Context Protocol data types this server
// speaks: the initialize handshake, ping, tool listing and tool calls, and
// the progress and cancellation notifications that accompany them.
//
// The package carries no transport logic. The sse and ssehttp packages frame
// and deliver these types; the engine serializes them into JSON-RPC
// envelopes.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
package mcp
