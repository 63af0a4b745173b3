package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/slackbridge/internal/jsonrpc"
	"github.com/ggoodman/slackbridge/internal/logctx"
	"github.com/ggoodman/slackbridge/mcp"
	"github.com/ggoodman/slackbridge/mcpservice"
)

var (
	// ErrSessionClosed is returned for any call on a closed engine, and for
	// calls whose result became available only after the engine closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrCancelled is the cancel cause used when a client cancels a request.
	ErrCancelled = errors.New("operation cancelled")
)

// State is the lifecycle state of an Engine.
type State int32

const (
	StateActive State = iota
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	// per-subscriber queue depth; messages to a full queue are dropped
	outboundBuffer = 16
	loggerName     = "slackbridge"
)

// Engine is the protocol state machine for one session. It is constructed
// active, serves any number of concurrent requests, and becomes closed
// exactly once.
type Engine struct {
	sessionID    string
	tools        *mcpservice.ToolsContainer
	info         mcp.ImplementationInfo
	instructions string
	log          *slog.Logger

	mu              sync.Mutex
	state           State
	initialized     bool
	protocolVersion string
	level           mcp.LoggingLevel // empty until logging/setLevel

	// request id key -> cancel func, for calls that can be cancelled
	inflight map[string]context.CancelCauseFunc

	subscribers map[chan []byte]struct{}
	closeHooks  []func()
	done        chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithServerInfo sets the implementation info reported by initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(e *Engine) { e.info = info }
}

// WithInstructions sets the instructions reported by initialize.
func WithInstructions(s string) Option {
	return func(e *Engine) { e.instructions = s }
}

// New returns an active engine for sessionID serving tools.
func New(sessionID string, tools *mcpservice.ToolsContainer, opts ...Option) *Engine {
	e := &Engine{
		sessionID:   sessionID,
		tools:       tools,
		info:        mcp.ImplementationInfo{Name: loggerName, Version: "dev"},
		log:         slog.Default(),
		state:       StateActive,
		inflight:    make(map[string]context.CancelCauseFunc),
		subscribers: make(map[chan []byte]struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// SessionID returns the id the engine was created for.
func (e *Engine) SessionID() string { return e.sessionID }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ProtocolVersion returns the negotiated version, or "" before initialize.
func (e *Engine) ProtocolVersion() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.protocolVersion
}

// Done is closed once the engine is closed.
func (e *Engine) Done() <-chan struct{} { return e.done }

// OnClose registers fn to run once when the engine closes. If the engine is
// already closed fn runs immediately.
func (e *Engine) OnClose(fn func()) {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		fn()
		return
	}
	e.closeHooks = append(e.closeHooks, fn)
	e.mu.Unlock()
}

// Close transitions the engine to closed, ends all outbound streams and runs
// the close hooks. Only the first call performs the transition; later calls
// return ErrSessionClosed. In-flight tool calls keep running; their results
// are discarded.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	e.state = StateClosed
	hooks := e.closeHooks
	e.closeHooks = nil
	for ch := range e.subscribers {
		close(ch)
	}
	clear(e.subscribers)
	e.mu.Unlock()

	close(e.done)
	for _, fn := range hooks {
		fn()
	}

	e.log.Info("engine.close.ok", slog.String("session_id", e.sessionID))
	return nil
}

// Subscribe returns a channel of encoded server-initiated messages. The
// channel is closed when the engine closes or cancel is called.
func (e *Engine) Subscribe() (<-chan []byte, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return nil, nil, ErrSessionClosed
	}
	ch := make(chan []byte, outboundBuffer)
	e.subscribers[ch] = struct{}{}

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (e *Engine) publish(ctx context.Context, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.publish.encode.fail", slog.String("err", err.Error()))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subscribers {
		select {
		case ch <- b:
		default:
			e.log.WarnContext(ctx, "engine.publish.drop")
		}
	}
}

// HandleRequest processes a JSON-RPC request and returns its response.
// Protocol failures are returned as error responses; the only Go error is
// ErrSessionClosed.
func (e *Engine) HandleRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if e.State() == StateClosed {
		return nil, ErrSessionClosed
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       e.sessionID,
		ProtocolVersion: e.ProtocolVersion(),
	})

	var (
		res *jsonrpc.Response
		err error
	)
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		res, err = e.handleInitialize(ctx, req)
	case mcp.PingMethod:
		res, err = jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		res, err = e.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		res, err = e.handleToolCall(ctx, req)
	case mcp.LoggingSetLevelMethod:
		res, err = e.handleSetLoggingLevel(ctx, req)
	default:
		e.log.InfoContext(ctx, "engine.handle_request.unknown_method", slog.String("method", req.Method))
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
	}
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}

	if e.State() == StateClosed {
		e.log.InfoContext(ctx, "engine.handle_request.discarded")
		return nil, ErrSessionClosed
	}
	return res, nil
}

func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.initialize.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	version := mcp.NegotiateProtocolVersion(params.ProtocolVersion)

	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		e.log.InfoContext(ctx, "engine.initialize.duplicate")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized", nil), nil
	}
	e.initialized = true
	e.protocolVersion = version
	e.mu.Unlock()

	result := &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Logging: &struct{}{},
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo:   e.info,
		Instructions: e.instructions,
	}

	e.log.InfoContext(ctx, "engine.initialize.ok",
		slog.String("protocol_version", version),
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
	)
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	tools := e.tools.Snapshot()
	e.log.InfoContext(ctx, "engine.tools_list.ok", slog.Int("tool_count", len(tools)))
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListToolsResult{Tools: tools})
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.SetLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || !mcp.IsValidLoggingLevel(params.Level) {
		e.log.InfoContext(ctx, "engine.set_level.invalid")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid logging level", nil), nil
	}

	e.mu.Lock()
	e.level = params.Level
	e.mu.Unlock()

	e.log.InfoContext(ctx, "engine.set_level.ok", slog.String("level", string(params.Level)))
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}

func (e *Engine) handleToolCall(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		e.log.InfoContext(ctx, "engine.tool.invalid", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	// The tool context does not inherit the transport's cancellation: only a
	// notifications/cancelled for this id aborts the call.
	toolCtx, toolCancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer toolCancel(context.Canceled)

	key := req.ID.Key()
	e.mu.Lock()
	if _, exists := e.inflight[key]; exists {
		e.mu.Unlock()
		e.log.WarnContext(ctx, "engine.tool.duplicate_id")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "duplicate request id", nil), nil
	}
	e.inflight[key] = toolCancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
	}()

	res, err := e.tools.Call(toolCtx, &params)
	dur := time.Since(start)
	if err != nil {
		var iae *mcpservice.InvalidArgumentsError
		switch {
		case errors.Is(err, mcpservice.ErrUnknownTool):
			e.log.InfoContext(ctx, "engine.tool.unknown", slog.Int64("dur_ms", dur.Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "unknown tool: "+params.Name, nil), nil
		case errors.As(err, &iae):
			e.log.InfoContext(ctx, "engine.tool.invalid_args", slog.String("err", err.Error()), slog.Int64("dur_ms", dur.Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, iae.Error(), nil), nil
		case errors.Is(context.Cause(toolCtx), ErrCancelled):
			e.log.InfoContext(ctx, "engine.tool.cancelled", slog.Int64("dur_ms", dur.Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil), nil
		default:
			e.log.ErrorContext(ctx, "engine.tool.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", dur.Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
		}
	}

	e.log.InfoContext(ctx, "engine.tool.ok", slog.Bool("is_error", res.IsError), slog.Int64("dur_ms", dur.Milliseconds()))
	e.notifyToolCall(ctx, params.Name, res.IsError, dur)

	return jsonrpc.NewResultResponse(req.ID, res)
}

// notifyToolCall emits a notifications/message for subscribers when the
// session's logging level admits it.
func (e *Engine) notifyToolCall(ctx context.Context, tool string, isError bool, dur time.Duration) {
	msgLevel := mcp.LoggingLevelInfo
	if isError {
		msgLevel = mcp.LoggingLevelError
	}

	e.mu.Lock()
	threshold := e.level
	e.mu.Unlock()
	if threshold == "" || !threshold.Allows(msgLevel) {
		return
	}

	e.publish(ctx, jsonrpc.NewNotification(string(mcp.LoggingMessageNotificationMethod), &mcp.LoggingMessageNotification{
		Level:  msgLevel,
		Logger: loggerName,
		Data: map[string]any{
			"event":    "tool_call",
			"tool":     tool,
			"is_error": isError,
			"dur_ms":   dur.Milliseconds(),
		},
	}))
}

// HandleNotification processes a client notification. Unknown notifications
// are ignored.
func (e *Engine) HandleNotification(ctx context.Context, note *jsonrpc.Request) error {
	if e.State() == StateClosed {
		return ErrSessionClosed
	}

	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.InfoContext(ctx, "engine.session.initialized")
	case mcp.CancelledNotificationMethod:
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.cancel.invalid", slog.String("err", err.Error()))
			return nil
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(params.RequestID, &id); err != nil {
			e.log.InfoContext(ctx, "engine.cancel.invalid", slog.String("err", err.Error()))
			return nil
		}
		if e.cancelInFlightRequest(&id, params.Reason) {
			e.log.InfoContext(ctx, "engine.cancel.ok", slog.String("request_id", id.String()))
		} else {
			e.log.InfoContext(ctx, "engine.cancel.miss", slog.String("request_id", id.String()))
		}
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	}
	return nil
}

func (e *Engine) cancelInFlightRequest(id *jsonrpc.RequestID, reason string) bool {
	e.mu.Lock()
	cancel, ok := e.inflight[id.Key()]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if reason == "" {
		cancel(ErrCancelled)
	} else {
		cancel(fmt.Errorf("%w: %s", ErrCancelled, reason))
	}
	return true
}
