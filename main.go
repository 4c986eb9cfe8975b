// Command backend is the main entrypoint for the chat-lottery API and workers.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the realtime hub and the responder relay.
//   - Exposes the HTTP control surface: monitor lifecycle, draw, viewer reads,
//     /ws, /healthz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chat-lottery/backend/config"
	"github.com/onnwee/chat-lottery/backend/db"
	"github.com/onnwee/chat-lottery/backend/lottery"
	"github.com/onnwee/chat-lottery/backend/realtime"
	"github.com/onnwee/chat-lottery/backend/relay"
	"github.com/onnwee/chat-lottery/backend/server"
	"github.com/onnwee/chat-lottery/backend/store"
	"github.com/onnwee/chat-lottery/backend/telemetry"
	"github.com/onnwee/chat-lottery/backend/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-lottery", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations using dual-system approach:
	// versioned migrations (golang-migrate) first, embedded SQL as fallback
	// for deployments without a schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("embedded SQL migration completed",
			slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed",
			slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Upstream chat client. Monitoring stays disabled without a key; the rest
	// of the surface (viewer reads, realtime, relay) still runs.
	var chat lottery.ChatAPI
	if err := cfg.ValidateMonitorReady(); err != nil {
		slog.Warn("chat monitoring disabled", slog.Any("err", err))
	} else {
		client, err := youtubeapi.New(ctx, cfg.YTAPIKey)
		if err != nil {
			slog.Error("chat api client init failed", slog.Any("err", err))
			os.Exit(1)
		}
		chat = client
	}

	// Realtime hub for overlay / viewer websocket clients
	hub := realtime.NewHub()
	go hub.Run(ctx)

	// Responder relay plus its per-message direct-message fallback
	var rel *relay.Relay
	if cfg.RelayURL != "" {
		rel = relay.New(relay.Options{
			URL:            cfg.RelayURL,
			AuthToken:      cfg.RelayAuthToken,
			UserID:         cfg.RelayUserID,
			Username:       cfg.RelayUsername,
			ReconnectDelay: cfg.RelayReconnectDelay,
			Fallback:       relay.NewFallbackSender(ctx, cfg.DMEndpoint, cfg.DMAuthToken),
		})
		go rel.Start(ctx)
		defer rel.Stop()
	} else {
		slog.Info("responder relay disabled (RELAY_URL not set)")
	}

	// Lottery session wiring. The notifier reads the active keyword lazily so
	// it can be constructed before the session.
	var session *lottery.Session
	var notifier lottery.Notifier
	if rel != nil {
		notifier = relay.NewLotteryNotifier(rel, func() string {
			if session == nil {
				return ""
			}
			return session.Status().Keyword
		})
	}
	broadcaster := &realtime.LotteryBroadcaster{Hub: hub}
	session = lottery.NewSession(chat, store.New(database), broadcaster, notifier)
	defer session.Stop()

	// Inbound chat frames from realtime clients are relayed to upstream chat.
	if rel != nil {
		hub.SetChatMessageHandler(func(clientID, userID, content string) {
			if err := rel.Send(ctx, userID, relay.KindPlain, relay.Vars{Message: content}); err != nil {
				slog.Warn("chat relay send failed", slog.String("client_id", clientID), slog.Any("err", err))
			}
		})
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (control surface, viewer reads, /ws, /metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, database, addr, session, hub, rel); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
