// Package ssehttp mounts the MCP server-sent events transport on net/http.
//
// A client opens a push channel with GET on one of the configured stream
// paths. The first event on the stream is "endpoint"; its data is the
// messages path with the new session identifier in the sessionId query
// parameter. The client then POSTs JSON-RPC messages to that URL. POST
// responses only acknowledge routing; JSON-RPC results travel back on the
// push channel as "message" events.
//
// # Status codes
//
//	GET  stream path   406 Accept refuses text/event-stream
//	                   503 server is draining
//	POST messages      400 missing session id or invalid JSON-RPC
//	                   404 session id does not resolve
//	                   413 body larger than the configured limit
//	                   415 body is not application/json
//	                   429 session exceeded its request rate
//	                   500 the engine failed while dispatching
//	                   503 server is draining
//	                   200 {"status":"accepted"}
//
// The handler also serves GET /ping, a plain-text banner on GET /, an
// optional Prometheus endpoint and optional static files.
//
// Example:
//
//	h, err := ssehttp.New(registry, rtr,
//	    ssehttp.WithStreamPaths("/sse", "/mcp"),
//	    ssehttp.WithAdmission(coordinator.Accepting),
//	)
//	if err != nil {
//	    return err
//	}
//	http.ListenAndServe(":3000", h)
package ssehttp
