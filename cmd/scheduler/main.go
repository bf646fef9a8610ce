package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/SirClappington/valsync/internal/app"
	"github.com/SirClappington/valsync/internal/config"
	"github.com/SirClappington/valsync/internal/logging"
)

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup", zap.Error(err))
	}
	defer a.Close()
	if !cfg.SharedLedger() {
		log.Warn("scheduler jobs use a process-local ledger and will not appear in the API jobs list; set LEDGER_BACKEND=postgres",
			zap.String("ledger_backend", cfg.LedgerBackend))
	}

	s := &scheduler{reg: a.Registry, queue: a.Queue, log: log}
	if a.Store != nil {
		s.leader = a.Store
	}

	c := cron.New()
	for op, spec := range cfg.CronSchedules() {
		if err := s.addSchedule(ctx, c, op, spec); err != nil {
			log.Fatal("bad schedule", zap.String("operation", op), zap.String("spec", spec), zap.Error(err))
		}
	}
	c.Start()
	defer c.Stop()

	log.Info("scheduler started", zap.Duration("tick", cfg.SchedulerTick()))
	s.loop(ctx, cfg.SchedulerTick())
	log.Info("scheduler stopped")
}
