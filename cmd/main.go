package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"gateway-service/internal"
	"gateway-service/internal/auth"
	"gateway-service/internal/config"
	"gateway-service/internal/kv"
	"gateway-service/internal/middlewares"

	_ "gateway-service/internal/logger"
)

func main() {
	// Top-level panic recovery — mirrors the teacher's server.Run(): a
	// panic before the logger/admin server are up still gets a
	// structured log line instead of a silent crash.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fatal panic in main",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			os.Exit(1)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Load and validate environment variables.
	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("Failed to load environment config: %v", err)
	}

	slog.Info("starting gateway",
		"env", env.AppEnv,
		"log_level", env.LogLevel,
		"config_path", env.ConfigPath,
	)

	// 2. Load the premier policy config and start its hot-reload watcher.
	watcher, err := config.NewWatcher(env.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", env.ConfigPath, err)
	}

	// 3. Build the KV store: Redis when REDIS_ADDR is set, otherwise the
	// in-process store (spec §4.A requires both implementations; only
	// one backs a given deployment).
	store, closeStore, err := buildStore(ctx, env)
	if err != nil {
		log.Fatalf("Failed to build KV store: %v", err)
	}
	defer closeStore()

	// 4. Wire the gateway: throttler, cache, breaker, router, balancer.
	gw := internal.NewGateway(internal.Options{
		Store:   store,
		Watcher: watcher,
		Validators: map[string]auth.Validator{
			"jwt":   &auth.JWTValidator{Secret: []byte(env.JWTSecret)},
			"basic": &auth.BasicValidator{Credentials: auth.BasicCredentials{}},
		},
	})

	if err := gw.Start(ctx); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}

	// 5. Start the admin server (health, pprof) on a separate listener —
	// same split as the teacher's original admin.go.
	adminSrv := internal.NewAdminServer(internal.AdminConfig{
		Addr:        env.AdminAddr,
		EnablePprof: !env.IsProduction(),
	}, gw.HealthHandler())

	go func() {
		if err := adminSrv.Serve(); err != nil {
			slog.Error("admin server error", "error", err)
		}
	}()

	// 6. Graceful shutdown.
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-stopCh
		slog.Info("received shutdown signal", "signal", sig.String())
		gw.SetUnavailable()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown error", "error", err)
		}

		cancel()
	}()

	// 7. Resolve inbound TLS and run the public listener, wrapped in the
	// same correlation/request-id/recovery/logging/security-header chain
	// the teacher applies ahead of its handlers.
	handler := wrapMiddlewares(gw)
	tlsCfg := resolveInboundTLS(env)
	internal.Run(ctx, env.GatewayAddr(), handler, tlsCfg)
}

// wrapMiddlewares composes the ambient HTTP middleware chain around the
// gateway's handler. Order matters: correlation/request IDs must be
// assigned before recovery and logging so a panic or an error log line
// can still report them.
func wrapMiddlewares(h http.Handler) http.Handler {
	h = middlewares.SecurityHeaders(h)
	h = middlewares.RequestLog(h)
	h = middlewares.Recovery()(h)
	h = middlewares.RequestID(h)
	h = middlewares.CorrelationID(h)
	return h
}

// buildStore selects the KV store backend from the environment and
// returns a close function the caller must defer.
func buildStore(ctx context.Context, env *config.Env) (kv.Store, func(), error) {
	if env.RedisAddr == "" {
		slog.Info("kv store: in-process (no REDIS_ADDR set)")
		mem := kv.NewMemory()
		return mem, mem.Close, nil
	}

	slog.Info("kv store: redis", "addr", env.RedisAddr)
	r, err := kv.NewRedis(ctx, env.RedisAddr, env.RedisPassword, env.RedisDB)
	if err != nil {
		return nil, func() {}, err
	}
	return r, func() { _ = r.Close() }, nil
}

// resolveInboundTLS builds the inbound TLS config based on environment.
func resolveInboundTLS(env *config.Env) *internal.TLSConfig {
	cert := os.Getenv("GATEWAY_TLS_CERT")
	key := os.Getenv("GATEWAY_TLS_KEY")

	if cert != "" && key != "" {
		slog.Info("inbound TLS: loading certificate from files", "cert", cert, "key", key)
		return &internal.TLSConfig{CertFile: cert, KeyFile: key}
	}

	if !env.IsProduction() {
		slog.Info("inbound TLS: self-signed cert for local dev (non-production)")
		return &internal.TLSConfig{SelfSignedIfMissing: true}
	}

	slog.Info("inbound TLS: disabled (expects TLS termination upstream)")
	return nil
}
