package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
	"agenthub/internal/infra/logger"
	"agenthub/internal/infra/metrics"
	"agenthub/internal/infra/tracer"
	"agenthub/internal/usecase/eventbus"
	"agenthub/internal/usecase/hub"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage(os.Stdout)
			return
		case "encrypt-secret":
			if err := runEncryptSecret(os.Args[2:], os.Getenv, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt-secret: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if !strings.HasPrefix(os.Args[1], "-") {
			fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'agenthub --help' for usage information.\n", os.Args[1])
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage(w io.Writer) {
	fmt.Fprintln(w, `agenthub - in-process agent messaging and governance runtime

USAGE:
    agenthub [FLAGS]
    agenthub encrypt-secret <value>

COMMANDS:
    encrypt-secret   Print an "enc:" value for the config file.
                     The passphrase is read from AGENTHUB_CONFIG_KEY.

    (no command)     Run the hub with the configured agents

FLAGS:
    -h, --help       Show this help message
    --config PATH    Config file path (default: ./agenthub.yaml)

CONFIGURATION:
    Environment: AGENTHUB_* variables override the config file
    Secrets:     values prefixed with "enc:" are decrypted with AGENTHUB_CONFIG_KEY`)
}

// runEncryptSecret prints the encrypted form of args[0].
func runEncryptSecret(args []string, getenv func(string) string, w io.Writer) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: agenthub encrypt-secret <value>")
	}
	passphrase := getenv("AGENTHUB_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("AGENTHUB_CONFIG_KEY is not set: %w", domain.ErrConfiguration)
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, "enc:"+enc)
	return err
}

func configPath(args []string, getenv func(string) string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	if p := getenv("AGENTHUB_CONFIG"); p != "" {
		return p
	}
	return "agenthub.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath(os.Args[1:], os.Getenv))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Metrics
	m := metrics.New()

	// 4. Durable memory
	durable, memCloser, err := initMemory(ctx, cfg.Memory, log)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	defer memCloser()

	// 5. Hub
	bus := eventbus.New(logger.Component(log, "eventbus"))
	h, err := hub.New(cfg, hub.Deps{
		Metrics:     m,
		Bus:         bus,
		Durable:     durable,
		DurableName: cfg.Memory.Backend,
	}, log)
	if err != nil {
		return fmt.Errorf("hub: %w", err)
	}

	// 6. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 7. Runtime (metrics endpoint, gateway)
	runtimeCleanup, err := initRuntime(ctx, cfg, h, m, log)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}

	// 8. Agents
	for _, desc := range cfg.Agents.Instances {
		if _, err := h.Spawn(ctx, desc); err != nil {
			shutdown(h, runtimeCleanup, log)
			return fmt.Errorf("spawn %s: %w", desc.ID, err)
		}
	}

	log.Info("agenthub started",
		"agents", len(cfg.Agents.Instances),
		"memory", cfg.Memory.Backend,
		"authorization_enforced", cfg.Authorization.Enforce,
		"governance_enforced", cfg.Governance.Enforce,
		"gateway", cfg.Gateway.Enabled,
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdown(h, runtimeCleanup, log)
	return nil
}

func shutdown(h *hub.Hub, runtimeCleanup func(context.Context) error, log *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runtimeCleanup(shutdownCtx); err != nil {
		log.Error("runtime cleanup error", "error", err)
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Error("hub shutdown error", "error", err)
	}
}
