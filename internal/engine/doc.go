// Package engine implements the per-session MCP protocol state machine.
//
// An Engine is created bound to one session id and is immediately active.
// It answers initialize, ping, tools/list, tools/call and logging/setLevel,
// accepts notifications/initialized and notifications/cancelled, and pushes
// notifications/message to subscribers once a logging level is set.
//
// Request ids are tracked per engine while a tool call is in flight; a
// duplicate in-flight id is rejected and ids never cross engines. Close is
// idempotent, ends every subscription and runs the registered close hooks
// exactly once. Results that complete after Close are discarded and the
// caller receives ErrSessionClosed.
package engine
