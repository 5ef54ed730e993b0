package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/boardstream-dev/boardstream/pkg/auth"
	"github.com/boardstream-dev/boardstream/pkg/middleware"
	"github.com/boardstream-dev/boardstream/pkg/protocol"
	"github.com/boardstream-dev/boardstream/pkg/realtime"
)

type serveOptions struct {
	addr            string
	redisURL        string
	redisBus        string
	jwtSecret       string
	jwksURL         string
	jwksAudience    string
	jwksIssuer      string
	maxSessions     int
	typingIdle      time.Duration
	shutdownTimeout time.Duration
	allowAnyOrigin  bool
	allowAllMembers bool
	logLevel        string
	logFormat       string
}

func serveCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the realtime server",
		Long: `Start the realtime WebSocket server.

The token verifier comes from either --jwks-url (RS256, rotating
keys) or --jwt-secret (HS256 shared secret; also read from the
BOARDSTREAM_JWT_SECRET environment variable).

With --redis-url the server answers membership checks from redis
sets and relays events to other processes over redis pub/sub.
Without redis, --allow-all-members runs a single process that
accepts every subscription (development only).

Examples:
  boardstream serve --jwt-secret=dev --allow-all-members
  boardstream serve --jwks-url=https://auth.example.com/jwks.json \
      --redis-url=redis://localhost:6379/0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", ":8080", "Listen address")
	cmd.Flags().StringVar(&opts.redisURL, "redis-url", "", "Redis URL for membership and cross-process fan-out")
	cmd.Flags().StringVar(&opts.redisBus, "redis-bus", realtime.DefaultBusChannel, "Redis pub/sub channel for the fan-out relay")
	cmd.Flags().StringVar(&opts.jwtSecret, "jwt-secret", "", "HS256 shared secret (or BOARDSTREAM_JWT_SECRET)")
	cmd.Flags().StringVar(&opts.jwksURL, "jwks-url", "", "JWKS endpoint for RS256 token verification")
	cmd.Flags().StringVar(&opts.jwksAudience, "jwks-audience", "", "Required JWT audience (JWKS mode)")
	cmd.Flags().StringVar(&opts.jwksIssuer, "jwks-issuer", "", "Required JWT issuer (JWKS mode)")
	cmd.Flags().IntVar(&opts.maxSessions, "max-sessions", 0, "Concurrent session limit (0 = unlimited)")
	cmd.Flags().DurationVar(&opts.typingIdle, "typing-idle", 4*time.Second, "Typing indicator auto-expiry window")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 30*time.Second, "Graceful shutdown bound")
	cmd.Flags().BoolVar(&opts.allowAnyOrigin, "allow-any-origin", false, "Disable the same-origin upgrade check")
	cmd.Flags().BoolVar(&opts.allowAllMembers, "allow-all-members", false, "Accept every subscription without a membership store (development only)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "json", "Log format: json or text")

	return cmd
}

func runServe(opts *serveOptions) error {
	logger, err := buildLogger(opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	verifier, err := buildVerifier(opts)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if opts.redisURL != "" {
		redisOpts, err := redis.ParseURL(opts.redisURL)
		if err != nil {
			return fmt.Errorf("invalid --redis-url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
	}

	authorizer, err := buildAuthorizer(opts, redisClient, logger)
	if err != nil {
		return err
	}

	config := realtime.DefaultConfig()
	config.Address = opts.addr
	config.MaxSessions = opts.maxSessions
	config.TypingIdle = opts.typingIdle
	config.ShutdownTimeout = opts.shutdownTimeout
	config.Verifier = verifier
	config.Authorizer = authorizer
	if opts.allowAnyOrigin {
		config.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if redisClient != nil {
		config.Transport = realtime.NewRedisTransport(redisClient, opts.redisBus, logger)
	}
	config.Middleware = []func(http.Handler) http.Handler{
		middleware.Recoverer(logger),
		middleware.RequestLogger(logger),
		middleware.Prometheus(),
		middleware.OpenTelemetry(),
	}

	metrics := realtime.NewMetrics(nil, "boardstream")
	server, err := realtime.NewServer(config, metrics, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("signal received, shutting down")
	if err := server.Shutdown(context.Background()); err != nil {
		return err
	}
	if redisClient != nil {
		redisClient.Close()
	}
	return nil
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func buildVerifier(opts *serveOptions) (auth.TokenVerifier, error) {
	if opts.jwksURL != "" {
		return auth.NewJWKSVerifier(opts.jwksURL, auth.JWKSOptions{
			Audience: opts.jwksAudience,
			Issuer:   opts.jwksIssuer,
		})
	}

	secret := opts.jwtSecret
	if secret == "" {
		secret = os.Getenv("BOARDSTREAM_JWT_SECRET")
	}
	if secret == "" {
		return nil, fmt.Errorf("token verification requires --jwks-url or --jwt-secret")
	}
	return auth.NewHS256Verifier([]byte(secret)), nil
}

func buildAuthorizer(opts *serveOptions, redisClient *redis.Client, logger *slog.Logger) (realtime.Authorizer, error) {
	if redisClient != nil {
		return realtime.NewRedisAuthorizer(redisClient, "", logger), nil
	}
	if opts.allowAllMembers {
		logger.Warn("running without a membership store, every subscription is accepted")
		return realtime.AuthorizerFunc(func(context.Context, string, protocol.Channel) (bool, error) {
			return true, nil
		}), nil
	}
	return nil, fmt.Errorf("membership checks require --redis-url (or --allow-all-members for development)")
}
