// Package streaminghttp implements the MCP streamable HTTP transport on a
// single endpoint. It mounts as a standard net/http handler.
//
// Every request must carry the API key (see package auth). The session is
// named by the Mcp-Session-Id header:
//
//   - POST carries one JSON-RPC message. Without a session id only an
//     initialize request is accepted; it creates a session and the reply
//     carries the new id in Mcp-Session-Id. With a known id the message is
//     forwarded to that session's engine. Notifications are answered with
//     202. Requests are answered with a JSON body, or with a single SSE
//     event when the client accepts only text/event-stream.
//   - GET opens a Server-Sent Events stream of server-initiated messages for
//     a known session. It ends when the client disconnects or the session
//     closes.
//   - DELETE closes a known session.
//
// Construction
//
//	registry := sessions.NewRegistry(func(id string) *engine.Engine {
//	    return engine.New(id, tools)
//	})
//	h, err := streaminghttp.New(registry, auth.NewStaticKey(apiKey))
//
// # Error Handling
//
// Session failures on POST are JSON-RPC errors with code -32000 and an id of
// null; on GET and DELETE they are plain text 400 responses. A panic while
// handling a request is recovered and, if nothing was written yet, answered
// with a -32603 envelope and status 500.
package streaminghttp
