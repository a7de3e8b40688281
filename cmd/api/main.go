package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"defectra.org/internal/auth"
	"defectra.org/internal/config"
	"defectra.org/internal/httpapi"
	"defectra.org/internal/obs"
	"defectra.org/internal/seed"
	"defectra.org/internal/store"
	"defectra.org/internal/store/pg"
	"defectra.org/internal/store/sqlite"
	"defectra.org/internal/tracker"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, cfg.Storage)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, probe, closer, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer func() {
		if closer != nil {
			_ = closer.Close()
		}
	}()

	data, err := seed.Load()
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	users, err := auth.NewService(ctx, kv, data.Users)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	st, err := tracker.New(ctx, kv, data.Tracker(), tracker.WithUserLookup(func(id int64) bool {
		_, ok := users.User(id)
		return ok
	}))
	if err != nil {
		log.Fatalf("tracker: %v", err)
	}
	tokens, err := auth.NewTokens(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	ready := httpapi.ReadyProbe{Store: probe}
	api := httpapi.New(users, st, tokens, httpapi.Options{
		Version:      version,
		Ready:        ready,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBodyBytes,
		CORSOrigins:  cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCServer(ready, version)
	health.Register(grpcSrv)
	go health.Watch(ctx, 15*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	obs.Info("server_started", map[string]any{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"storage":   cfg.Storage,
	})

	<-ctx.Done()
	obs.Info("server_stopping", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health.Shutdown()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Warn("http_shutdown", map[string]any{"error": err.Error()})
	}
	obs.Info("server_stopped", nil)
}

// openStorage returns the KV port for the configured backend, plus its
// readiness probe and closer when it has them.
func openStorage(ctx context.Context, cfg config.Config) (store.KV, httpapi.Pinger, io.Closer, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s, nil
	case config.StoragePostgres:
		s, err := pg.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s, nil
	default:
		return store.NewMemory(), nil, nil, nil
	}
}
