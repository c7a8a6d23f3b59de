package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stakehouse/internal/config"
	"stakehouse/internal/db"
	"stakehouse/internal/ledger"
	"stakehouse/internal/vault"
)

// The auditor reconciles promised balances against real vault custody: the
// sum of all account balances must never exceed what the custody service
// actually holds for the game account.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	vaultClient := vault.NewClient(cfg.VaultURL)
	svc := ledger.NewService(pool, vaultClient, []byte(cfg.VaultSharedSecret), logger)

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("STAKEHOUSE_AUDITOR_RUN_ONCE")), "true")
	if runOnce {
		if err := audit(ctx, svc, logger); err != nil {
			logger.Error("audit failed", "err", err)
			os.Exit(1)
		}
		logger.Info("auditor run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.AuditEvery)
	defer ticker.Stop()

	logger.Info("auditor started", "audit_every", cfg.AuditEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("auditor shutdown")
			return
		case <-ticker.C:
			if err := audit(ctx, svc, logger); err != nil {
				logger.Error("audit failed", "err", err)
				continue
			}
		}
	}
}

func audit(ctx context.Context, svc *ledger.Service, logger *slog.Logger) error {
	report, err := svc.Reconcile(ctx)
	if err != nil {
		return err
	}
	if report.OverPromised {
		logger.Error("ledger promises exceed vault custody",
			"promised", report.Promised, "custodied", report.Custodied)
		return nil
	}
	logger.Info("audit clean", "promised", report.Promised, "custodied", report.Custodied)
	return nil
}
