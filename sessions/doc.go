// Package sessions holds the registry that maps MCP session ids to their
// engines.
//
// A Registry is constructed explicitly and handed to the transport, so each
// test can use an isolated instance. Create is the only way a session comes
// into existence; it draws a random (v4) uuid, retries on the unlikely
// collision with a live id, and subscribes to the engine's close signal so
// the mapping disappears exactly when the engine closes.
//
// All access is guarded by a sync.RWMutex: a Lookup observes either the
// state before a removal or the state after it, never a partial one.
package sessions
