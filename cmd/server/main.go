package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chesshub/chessd/internal/auth"
	"github.com/chesshub/chessd/internal/config"
	"github.com/chesshub/chessd/internal/coordinator"
	"github.com/chesshub/chessd/internal/httpapi"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/oracle"
	"github.com/chesshub/chessd/internal/ratelimit"
	"github.com/chesshub/chessd/internal/store"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// flagEnv maps each bindable flag to the environment variable
// internal/config.ValidateEnv reads, so the same binary accepts either
// `chessd serve --port 4000` or PORT=4000 in the environment.
var flagEnv = map[string]string{
	"port":            "PORT",
	"auth-secret":     "AUTH_TOKEN_SECRET",
	"redis-addr":      "REDIS_ADDR",
	"redis-password":  "REDIS_PASSWORD",
	"database-url":    "DATABASE_URL",
	"environment":     "ENVIRONMENT",
	"frontend-origin": "FRONTEND_ORIGIN",
}

func main() {
	if err := newServeCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CHESSD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "chessd",
		Short: "chessd serves the real-time two-player chess core over WebSocket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 0, "listen port (overrides PORT)")
	flags.String("auth-secret", "", "HMAC signing secret for identity tokens (overrides AUTH_TOKEN_SECRET)")
	flags.String("redis-addr", "", "Redis address host:port (overrides REDIS_ADDR)")
	flags.String("redis-password", "", "Redis password (overrides REDIS_PASSWORD)")
	flags.String("database-url", "", "Postgres DSN (overrides DATABASE_URL)")
	flags.String("environment", "", "deployment environment name (overrides ENVIRONMENT)")
	flags.String("frontend-origin", "", "allowed CORS origin in production (overrides FRONTEND_ORIGIN)")
	flags.Bool("skip-auth", false, "accept any non-empty bearer token instead of verifying a signature (development only)")

	cobra.CheckErr(v.BindPFlags(flags))
	return cmd
}

// run loads configuration, wires every component, and serves until an
// interrupt or terminate signal arrives.
func run(v *viper.Viper) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	for flag, env := range flagEnv {
		if !v.IsSet(flag) {
			continue
		}
		if s := v.GetString(flag); s != "" {
			os.Setenv(env, s)
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		return err
	}

	if err := logging.Initialize(!cfg.IsProduction()); err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	logger := logging.GetLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hot, err := store.NewRedisHotStore(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("connect hot store: %w", err)
	}

	durable, err := store.NewGormDurableStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect durable store: %w", err)
	}

	var limiterRedis *redis.Client
	if cfg.IsProduction() {
		limiterRedis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}
	limiter, err := ratelimit.New(cfg, limiterRedis)
	if err != nil {
		return fmt.Errorf("build rate limiter: %w", err)
	}

	coord := coordinator.New(hot, durable, oracle.New(), limiter)
	coord.Start(ctx)

	var validator httpapi.TokenValidator
	if skipAuth, _ := v.Get("skip-auth").(bool); skipAuth {
		logger.Warn("SKIP_AUTH enabled: any non-empty token is accepted, do not use in production")
		validator = &auth.MockValidator{}
	} else {
		validator, err = auth.NewValidator(cfg.AuthTokenSecret)
		if err != nil {
			return fmt.Errorf("build token validator: %w", err)
		}
	}

	router := httpapi.New(httpapi.Options{
		Coordinator:    coord,
		Validator:      validator,
		FrontendOrigin: cfg.FrontendOrigin,
		Production:     cfg.IsProduction(),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router.Engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chessd listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shutdown", zap.Error(err))
	}
	coord.Shutdown(shutdownCtx)
	logger.Info("chessd exited cleanly")
	return nil
}

const shutdownTimeout = 10 * time.Second
