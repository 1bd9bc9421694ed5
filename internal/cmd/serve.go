package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/gansauditor/internal/audit"
	"github.com/Iron-Ham/gansauditor/internal/cache"
	"github.com/Iron-Ham/gansauditor/internal/completion"
	"github.com/Iron-Ham/gansauditor/internal/config"
	"github.com/Iron-Ham/gansauditor/internal/contextmgr"
	"github.com/Iron-Ham/gansauditor/internal/contextpack"
	"github.com/Iron-Ham/gansauditor/internal/logging"
	"github.com/Iron-Ham/gansauditor/internal/reviewer"
	"github.com/Iron-Ham/gansauditor/internal/session"
	"github.com/Iron-Ham/gansauditor/internal/stagnation"
	"github.com/Iron-Ham/gansauditor/internal/supervisor"
	"github.com/Iron-Ham/gansauditor/internal/transport"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "config warning:", e.Error())
		}
	}

	if cfg.Audit.EnableSynchronousAudit {
		if _, err := exec.LookPath(cfg.Reviewer.Command); err != nil {
			return fmt.Errorf("reviewer binary %q required by ENABLE_SYNCHRONOUS_AUDIT is not on PATH: %w", cfg.Reviewer.Command, err)
		}
	}

	logger, err := logging.NewLoggerWithRotation(cfg.Session.StateDirectory, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	sessionStore, err := session.NewFileSessionStore(cfg.Session.StateDirectory)
	if err != nil {
		return fmt.Errorf("invalid session state directory: %w", err)
	}

	auditCache, err := cache.New(cfg.Cache.MaxEntries, cfg.Cache.MaxMemoryBytes, cfg.Cache.TTLMs())
	if err != nil {
		return fmt.Errorf("failed to construct audit cache: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}

	sup := supervisor.New(cfg.Supervisor.MaxConcurrentProcesses, cfg.Supervisor.QueueTimeout(), cfg.Supervisor.ProcessCleanupTimeout())

	reviewerClient := reviewer.NewClient(sup, reviewer.Config{
		Command:           cfg.Reviewer.Command,
		Args:              cfg.Reviewer.Args,
		ContextTokenLimit: cfg.Reviewer.ContextTokenLimit,
		MaxSpawnRetries:   cfg.Reviewer.MaxSpawnRetries,
	})

	contextManager := contextmgr.New(sup, contextmgr.Config{
		Command: cfg.Reviewer.Command,
		Args:    cfg.Reviewer.Args,
		Cwd:     workDir,
		Timeout: cfg.Audit.Timeout(),
	})

	detector := stagnation.New(cfg.Stagnation.StartLoop, cfg.Stagnation.Threshold, cfg.Stagnation.IdenticalThreshold, cfg.Stagnation.WindowSize)
	evaluator := completion.New(cfg.Completion)

	packer := contextpack.New(workDir)

	engine := audit.New(sessionStore, auditCache, reviewerClient, contextManager, detector, evaluator, packer, cfg.Audit, logger)

	server := transport.New(engine, contextManager, sup, contextManager, logger).
		WithSessionSweeper(sessionStore, cfg.Session.MaxSessionAge())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("gansauditor server starting", "stateDirectory", cfg.Session.StateDirectory)
	if err := server.Run(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Error("server loop exited with error", "error", err)
		return err
	}
	logger.Info("gansauditor server shut down cleanly")
	return nil
}
