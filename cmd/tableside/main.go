package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tableside/internal/common/logger"
	"tableside/internal/config"
	"tableside/internal/ordersync"
	"tableside/internal/terminal"
)

func main() {
	cfgPath := flag.String("config", "config.yml", "path to YAML config")
	table := flag.Int("table", 0, "table number this terminal serves")
	name := flag.String("name", "", "customer name for a fresh session")
	phone := flag.String("phone", "", "customer phone for a fresh session")
	pollOnly := flag.Bool("poll-only", false, "skip the push channel entirely")
	flag.Parse()

	if *table == 0 {
		fmt.Fprintln(os.Stderr, "--table is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lg, err := logger.New(cfg.Log.Level, cfg.Log.Format, "tableside")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	core, err := terminal.Open(ctx, cfg, terminal.Options{
		TableNumber:   *table,
		CustomerName:  *name,
		CustomerPhone: *phone,
		DisablePush:   *pollOnly,
	}, lg)
	if err != nil {
		lg.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
	defer core.Close()

	core.Orders().OnChange(func(c ordersync.Change) {
		lg.Info("order update",
			zap.String("kind", string(c.Kind)),
			zap.String("order_id", c.Order.ID),
			zap.String("status", string(c.Order.Status)))
	})

	core.Start(ctx)
	lg.Info("terminal ready",
		zap.Int("table", *table),
		zap.String("session_id", core.Session().SessionID))

	<-ctx.Done()
	lg.Info("shutting down")
}
