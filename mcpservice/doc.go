// Package mcpservice defines the tool dispatch contract the protocol engine
// consumes and a static, typed implementation of it.
//
// Tools are declared with NewTool using a Go struct for their arguments. The
// struct is reflected into the advertised input schema, and Invoke validates
// incoming arguments against that schema (object shape, required
// properties, no unknown fields) before the handler runs:
//
//	type echoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo back"`
//	}
//
//	echo := mcpservice.NewTool[echoArgs]("echo",
//	    func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
//	        return w.AppendText("Echo: " + r.Args().Message)
//	    },
//	    mcpservice.WithToolDescription("Echo a message back"),
//	)
//
//	tools := mcpservice.NewToolsContainer(echo)
//
// Invalid arguments and unknown tool names surface as errors that the engine
// maps to JSON-RPC invalid-params responses; handler errors map to internal
// errors. A tool that wants to report a failure to the model without a
// protocol error should call SetError on its writer instead.
package mcpservice
