package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ggoodman/slackbridge/auth"
	"github.com/ggoodman/slackbridge/internal/logctx"
)

// DefaultMCPPath is where the streaming transport is mounted unless
// overridden.
const DefaultMCPPath = "/mcp"

// Routes are the handlers the router composes.
type Routes struct {
	// REST serves the capability endpoints. It is guarded by Auth.
	REST http.Handler
	// MCP serves the streaming transport. It authenticates on its own so
	// rejections carry the JSON-RPC shape.
	MCP http.Handler
	// Auth gates REST.
	Auth auth.Authenticator
	// MCPPath defaults to DefaultMCPPath.
	MCPPath string
}

// NewRouter assembles the process-wide handler: request ids, real client
// addresses, access logging and panic recovery around the health probe, the
// REST API and the MCP endpoint.
func NewRouter(routes Routes, log *slog.Logger) chi.Router {
	if log == nil {
		log = slog.Default()
	}
	mcpPath := routes.MCPPath
	if mcpPath == "" {
		mcpPath = DefaultMCPPath
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(log))
	r.Use(middleware.Recoverer)

	r.Get("/health", health)
	r.Handle(mcpPath, routes.MCP)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(routes.Auth))
		r.Mount("/", routes.REST)
	})
	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "status": "healthy"})
}

// accessLog emits one http.request.done event per request.
func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	log = slog.New(logctx.NewHandler(log.Handler()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
				RequestID:  middleware.GetReqID(r.Context()),
				Method:     r.Method,
				UserAgent:  r.UserAgent(),
				RemoteAddr: r.RemoteAddr,
				Path:       r.URL.Path,
			})
			defer func() {
				log.InfoContext(ctx, "http.request.done",
					slog.Int("status", ww.Status()),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("dur", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
