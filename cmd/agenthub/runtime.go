package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"agenthub/internal/adapter/audit"
	"agenthub/internal/adapter/gateway"
	"agenthub/internal/adapter/memory"
	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
	"agenthub/internal/infra/metrics"
	"agenthub/internal/usecase/hub"
)

// initMemory opens the durable memory backend named by cfg.Backend. A nil
// sink means agent memory stays in process.
func initMemory(ctx context.Context, cfg config.MemoryConfig, log *slog.Logger) (domain.MemorySink, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "", "none":
		return nil, noop, nil

	case "sqlite":
		sink, err := memory.NewSQLiteSink(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		log.Info("durable memory enabled", "backend", "sqlite", "path", cfg.SQLitePath)
		return sink, func() {
			if err := sink.Close(); err != nil {
				log.Warn("close sqlite memory", "error", err)
			}
		}, nil

	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, noop, fmt.Errorf("redis ping: %w", err)
		}
		log.Info("durable memory enabled", "backend", "redis", "addr", cfg.Redis.Addr)
		return memory.NewRedisSink(memory.FromGoRedis(rdb), cfg.Redis.KeyPrefix, cfg.Redis.MaxLen), func() {
			if err := rdb.Close(); err != nil {
				log.Warn("close redis memory", "error", err)
			}
		}, nil
	}
	return nil, noop, fmt.Errorf("unknown memory backend %q: %w", cfg.Backend, domain.ErrConfiguration)
}

// initRuntime starts the audit trail, the metrics endpoint and the observer
// gateway when they are enabled. The returned cleanup stops all of them.
func initRuntime(ctx context.Context, cfg *config.Config, h *hub.Hub, m *metrics.Metrics, log *slog.Logger) (func(context.Context) error, error) {
	var metricsSrv *http.Server
	var gw *gateway.Server
	var auditLog *audit.FileLogger
	detachAudit := func() {}

	if cfg.Audit.Enabled {
		maxSize, err := audit.ParseSize(cfg.Audit.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("audit.max_size: %w", err)
		}
		auditLog, err = audit.NewFileLogger(cfg.Audit.Path, maxSize)
		if err != nil {
			return nil, err
		}
		detachAudit = audit.Attach(h.Bus(), auditLog, log.With("component", "audit"))
		log.Info("audit trail enabled", "path", cfg.Audit.Path)
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
		log.Info("metrics enabled", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
	}

	if cfg.Gateway.Enabled {
		gw = gateway.NewServer(cfg.Gateway, h.Bus(), h, gateway.NewStaticTokenAuth(cfg.Gateway.Tokens),
			log.With("component", "gateway"))
		go func() {
			if err := gw.Start(ctx); err != nil {
				log.Error("gateway server error", "error", err)
			}
		}()
		log.Info("gateway enabled", "addr", cfg.Gateway.Addr, "clients", len(cfg.Gateway.Tokens))
	}

	cleanup := func(ctx context.Context) error {
		var errs []error
		// Stop the gateway first so no new messages enter the hub.
		if gw != nil {
			errs = append(errs, gw.Stop(ctx))
		}
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(ctx))
		}
		detachAudit()
		if auditLog != nil {
			errs = append(errs, auditLog.Close())
		}
		return errors.Join(errs...)
	}
	return cleanup, nil
}
