// Command slackbridge serves the Slack capabilities over REST and over the
// MCP streamable HTTP transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rusq/slack"

	"github.com/ggoodman/slackbridge/auth"
	"github.com/ggoodman/slackbridge/internal/bridge"
	"github.com/ggoodman/slackbridge/internal/config"
	"github.com/ggoodman/slackbridge/internal/engine"
	"github.com/ggoodman/slackbridge/internal/logctx"
	"github.com/ggoodman/slackbridge/internal/restapi"
	"github.com/ggoodman/slackbridge/internal/server"
	"github.com/ggoodman/slackbridge/internal/slackapi"
	"github.com/ggoodman/slackbridge/mcp"
	"github.com/ggoodman/slackbridge/sessions"
	"github.com/ggoodman/slackbridge/storage"
	"github.com/ggoodman/slackbridge/storage/memory"
	redisstore "github.com/ggoodman/slackbridge/storage/redis"
	"github.com/ggoodman/slackbridge/streaminghttp"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "slackbridge:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	cache, err := newCacheStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Warn("storage.close.fail", slog.String("err", err.Error()))
		}
	}()

	client := slackapi.New(
		slack.New(cfg.SlackBotToken),
		slackapi.WithTimeout(cfg.UpstreamTimeout),
		slackapi.WithUserCache(cache, cfg.UserCacheTTL),
		slackapi.WithLogger(log),
	)

	authenticator := auth.NewStaticKey(cfg.APIKey)
	tools := bridge.Tools(client)
	serverInfo := mcp.ImplementationInfo{Name: "slackbridge", Title: "Slack Bridge", Version: version}

	registry := sessions.NewRegistry(func(id string) *engine.Engine {
		return engine.New(id, tools,
			engine.WithLogger(log),
			engine.WithServerInfo(serverInfo),
			engine.WithInstructions("Tools for sending and reading Slack messages, searching the workspace and opening direct messages."),
		)
	}, sessions.WithLogger(log))

	mcpHandler, err := streaminghttp.New(registry, authenticator, streaminghttp.WithLogger(log))
	if err != nil {
		return err
	}

	router := server.NewRouter(server.Routes{
		REST:    restapi.New(client, restapi.WithLogger(log)),
		MCP:     mcpHandler,
		Auth:    authenticator,
		MCPPath: cfg.MCPPath,
	}, log)

	srv := server.New(cfg.Addr(), router,
		server.WithLogger(log),
		server.WithShutdownTimeout(cfg.ShutdownTimeout),
		server.BeforeShutdown(registry.CloseAll),
	)

	log.InfoContext(ctx, "slackbridge.start",
		slog.String("version", version),
		slog.String("addr", cfg.Addr()),
		slog.String("mcp_path", cfg.MCPPath),
		slog.Bool("redis", cfg.RedisAddr != ""),
	)
	return srv.ListenAndServe(ctx)
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(logctx.NewHandler(h)), nil
}

func newCacheStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.RedisAddr == "" {
		return memory.New(cfg.UserCacheSize)
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	s, err := redisstore.New(redisstore.Config{Client: rc, KeyPrefix: cfg.RedisKeyPrefix})
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
