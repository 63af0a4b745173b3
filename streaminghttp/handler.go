package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ggoodman/slackbridge/auth"
	"github.com/ggoodman/slackbridge/internal/engine"
	"github.com/ggoodman/slackbridge/internal/jsonrpc"
	"github.com/ggoodman/slackbridge/internal/logctx"
	"github.com/ggoodman/slackbridge/mcp"
	"github.com/ggoodman/slackbridge/sessions"
)

var (
	_ http.Handler = (*StreamingHTTPHandler)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	jsonMediaTypes        = []contenttype.MediaType{jsonMediaType}
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	defaultMaxBodyBytes = 4 << 20

	// Messages surfaced verbatim to clients.
	noValidSessionMessage = "Bad Request: No valid session ID provided"
	invalidSessionText    = "Invalid or missing session ID"
	internalErrorMessage  = "Internal server error"
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a
// JSON-RPC message exchange is possible.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// writeRPCError emits a JSON-RPC error envelope with the given HTTP status.
func writeRPCError(w http.ResponseWriter, status int, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(id, code, msg, nil))
}

func writeInvalidSession(w http.ResponseWriter) {
	http.Error(w, invalidSessionText, http.StatusBadRequest)
}

// Option configures the StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	logger       *slog.Logger
	maxBodyBytes int64
}

// WithLogger sets the slog logger used by the handler. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithMaxBodyBytes bounds the size of POST bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *newConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// StreamingHTTPHandler implements the streamable HTTP transport of the Model
// Context Protocol on a single endpoint. It routes each request to the
// session named by the Mcp-Session-Id header.
type StreamingHTTPHandler struct {
	log          *slog.Logger
	auth         auth.Authenticator
	registry     *sessions.Registry
	maxBodyBytes int64
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an optional context.
// It serializes concurrent writes/flushes and avoids writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// New constructs a StreamingHTTPHandler. Sessions are created in and looked
// up from registry; every request must pass authenticator.
func New(registry *sessions.Registry, authenticator auth.Authenticator, opts ...Option) (*StreamingHTTPHandler, error) {
	if registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	cfg := &newConfig{logger: slog.Default(), maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &StreamingHTTPHandler{
		log:          slog.New(logctx.NewHandler(cfg.logger.Handler())),
		auth:         authenticator,
		registry:     registry,
		maxBodyBytes: cfg.maxBodyBytes,
	}, nil
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	if reqID == "" {
		reqID = uuid.NewString()
	}
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  reqID,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	defer h.recoverPanic(ctx, ww)

	switch r.Method {
	case http.MethodPost:
		h.handlePostMCP(ww, r)
	case http.MethodGet:
		h.handleGetMCP(ww, r)
	case http.MethodDelete:
		h.handleDeleteMCP(ww, r)
	default:
		ww.Header().Set("Allow", "GET, POST, DELETE")
		writeJSONError(ww, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *StreamingHTTPHandler) recoverPanic(ctx context.Context, ww middleware.WrapResponseWriter) {
	rec := recover()
	if rec == nil {
		return
	}
	if rec == http.ErrAbortHandler {
		panic(rec)
	}
	h.log.ErrorContext(ctx, "http.panic", slog.Any("panic", rec))
	if ww.Status() != 0 {
		return
	}
	writeRPCError(ww, http.StatusInternalServerError, nil, jsonrpc.ErrorCodeInternalError, internalErrorMessage)
}

// checkAuthentication writes the rejection itself and returns nil on failure.
func (h *StreamingHTTPHandler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) auth.UserInfo {
	userInfo, err := auth.CheckRequest(h.auth, r)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			auth.WriteRPCUnauthorized(w)
			return nil
		}
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusInternalServerError, nil, jsonrpc.ErrorCodeInternalError, internalErrorMessage)
		return nil
	}
	return userInfo
}

// handlePostMCP accepts one JSON-RPC message. It either forwards the message
// to an existing session or, for an initialize request without a session id,
// creates the session first.
func (h *StreamingHTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	if h.checkAuthentication(ctx, r, w) == nil {
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&raw); err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeParseError, "Parse error")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request: batch requests are not supported")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		var syntaxErr *jsonrpc.SyntaxError
		if errors.As(err, &syntaxErr) {
			writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeParseError, "Parse error")
		} else {
			writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request: "+err.Error())
		}
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	req := msg.AsRequest()

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		if req == nil || req.IsNotification() || req.Method != string(mcp.InitializeMethod) {
			writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeServerError, noValidSessionMessage)
			h.log.InfoContext(ctx, "session.id.missing")
			return
		}
		h.initializeSession(ctx, w, r, req, start)
		return
	}

	sess, ok := h.registry.Lookup(sessID)
	if !ok {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeServerError, noValidSessionMessage)
		h.log.InfoContext(ctx, "session.load.miss", slog.String("session_id", sessID))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID,
		ProtocolVersion: sess.Engine.ProtocolVersion(),
	})
	h.log.InfoContext(ctx, "session.load.ok")

	clientPV := r.Header.Get(mcpProtocolVersionHeader)
	if spv := sess.Engine.ProtocolVersion(); clientPV != "" && spv != "" && clientPV != spv {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeServerError, "Bad Request: Unsupported protocol version: "+clientPV)
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", clientPV))
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.ID)
	if spv := sess.Engine.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}

	if req == nil {
		// Responses are only meaningful for server-initiated requests, which
		// this server never issues.
		res := msg.AsResponse()
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ignored",
			slog.String("request_id", res.ID.String()),
			slog.Bool("is_error", res.Error != nil),
			slog.Duration("dur", time.Since(start)),
		)
		return
	}

	if req.IsNotification() {
		if err := sess.Engine.HandleNotification(ctx, req); err != nil {
			h.rejectClosedSession(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	res, err := sess.Engine.HandleRequest(ctx, req)
	if err != nil {
		h.rejectClosedSession(ctx, w, err)
		return
	}
	h.writeResponse(ctx, w, r, res)
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

func (h *StreamingHTTPHandler) initializeSession(ctx context.Context, w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, start time.Time) {
	sess, err := h.registry.Create(ctx)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, req.ID, jsonrpc.ErrorCodeInternalError, internalErrorMessage)
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID})

	res, err := sess.Engine.HandleRequest(ctx, req)
	if err != nil {
		h.rejectClosedSession(ctx, w, err)
		return
	}
	if res.Error != nil {
		// A session that never initialized is unusable; drop it.
		if err := h.registry.Close(ctx, sess.ID); err != nil {
			h.log.WarnContext(ctx, "session.initialize.cleanup.fail", slog.String("err", err.Error()))
		}
		h.writeResponse(ctx, w, r, res)
		h.log.InfoContext(ctx, "session.initialize.rejected", slog.Int("code", int(res.Error.Code)))
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.ID)
	if v := sess.Engine.ProtocolVersion(); v != "" {
		w.Header().Set(mcpProtocolVersionHeader, v)
	}
	h.writeResponse(ctx, w, r, res)
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

func (h *StreamingHTTPHandler) rejectClosedSession(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrSessionClosed) {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeServerError, noValidSessionMessage)
		h.log.InfoContext(ctx, "session.closed")
		return
	}
	writeRPCError(w, http.StatusInternalServerError, nil, jsonrpc.ErrorCodeInternalError, internalErrorMessage)
	h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
}

// writeResponse replies with a JSON body, or with a single SSE event when the
// client accepts only text/event-stream.
func (h *StreamingHTTPHandler) writeResponse(ctx context.Context, w http.ResponseWriter, r *http.Request, res *jsonrpc.Response) {
	b, err := json.Marshal(res)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, res.ID, jsonrpc.ErrorCodeInternalError, internalErrorMessage)
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}

	if f, ok := w.(http.Flusher); ok && wantsEventStream(r) {
		wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
		setEventStreamHeaders(w)
		w.WriteHeader(http.StatusOK)
		if err := writeSSEEvent(wf, b); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		}
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(b, '\n')); err != nil {
		h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
	}
}

// wantsEventStream reports whether the Accept header admits
// text/event-stream but not application/json.
func wantsEventStream(r *http.Request) bool {
	if r.Header.Get("Accept") == "" {
		return false
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err == nil {
		return false
	}
	_, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes)
	return err == nil
}

func setEventStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// handleGetMCP streams server-initiated messages of an established session
// until the client goes away or the session closes.
func (h *StreamingHTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.get.start")

	if h.checkAuthentication(ctx, r, w) == nil {
		return
	}

	sess, ok := h.registry.Lookup(r.Header.Get(mcpSessionIDHeader))
	if !ok {
		writeInvalidSession(w)
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID,
		ProtocolVersion: sess.Engine.ProtocolVersion(),
	})

	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	msgs, unsubscribe, err := sess.Engine.Subscribe()
	if err != nil {
		writeInvalidSession(w)
		h.log.InfoContext(ctx, "session.closed")
		return
	}
	defer unsubscribe()

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	w.Header().Set(mcpSessionIDHeader, sess.ID)
	if spv := sess.Engine.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	setEventStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.disconnect", slog.Duration("dur", time.Since(start)))
			return
		case <-sess.Engine.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			return
		case b, ok := <-msgs:
			if !ok {
				h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
				return
			}
			if err := writeSSEEvent(wf, b); err != nil {
				h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.DebugContext(ctx, "sse.message.deliver")
		}
	}
}

// handleDeleteMCP terminates an existing session.
func (h *StreamingHTTPHandler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	if h.checkAuthentication(ctx, r, w) == nil {
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeInvalidSession(w)
		h.log.InfoContext(ctx, "session.id.missing")
		return
	}

	if err := h.registry.Close(ctx, sessID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeInvalidSession(w)
			h.log.InfoContext(ctx, "session.delete.miss", slog.String("session_id", sessID))
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to close session")
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}

	w.WriteHeader(http.StatusOK)
	h.log.InfoContext(ctx, "http.delete.ok", slog.String("session_id", sessID), slog.Duration("dur", time.Since(start)))
}

// writeSSEEvent writes payload as the data field of one Server-Sent Event
// and flushes.
func writeSSEEvent(wf *lockedWriteFlusher, payload []byte) error {
	if _, err := wf.Write([]byte("event: message\ndata: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
