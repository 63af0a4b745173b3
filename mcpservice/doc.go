// Package mcpservice builds MCP tools from typed Go handlers.
//
// NewTool reflects a JSON schema from the argument struct and wraps the
// handler with strict decoding and validation:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo" validate:"required"`
//	}
//	echo := mcpservice.NewTool("echo", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	    return w.AppendText(r.Args().Message)
//	}, mcpservice.WithToolDescription("Echo a message"))
//
//	tools := mcpservice.NewToolsContainer(echo)
//
// Argument problems surface as *InvalidArgumentsError and unregistered names
// as ErrUnknownTool; the engine turns both into JSON-RPC -32602 errors.
package mcpservice
