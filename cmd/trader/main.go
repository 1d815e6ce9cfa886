// Trader — an automated perpetual-futures market-making client built
// around a replicated order book, a portfolio/order-lifecycle state
// machine, and a nine-state quote-placement controller.
//
// Architecture:
//
//	main.go                    — entry point: loads config, dispatches to a CLI mode
//	internal/engine            — orchestrator: wires venue, dispatcher, and controller per symbol
//	internal/controller        — strategy controller: the nine-state StratBranch quote logic
//	internal/dispatch          — signal dispatcher: snapshot barrier + fan-out to the controller
//	internal/marketdata        — order-book replica and trade-flow window
//	internal/portfolio         — order list, position, and portfolio state machine
//	internal/venue/{binance,bybit} — concrete Venue Adapters (REST + WS)
//	internal/oracle            — server-time skew tracker
//	internal/bootstrap         — historical CSV trade-flow seeding
//	internal/risk              — process-wide kill switch across all symbols
//
// Two CLI modes:
//
//	automated (default) — runs the full engine until SIGINT/SIGTERM.
//	ping                 — measures REST round-trip latency against the
//	                       configured venue's server-time endpoint and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trader/internal/config"
	"trader/internal/engine"
	"trader/internal/oracle"
	"trader/internal/venue/binance"
	"trader/internal/venue/bybit"
)

func main() {
	mode := "automated"
	if len(os.Args) > 1 && os.Args[1][0] != '-' {
		mode = os.Args[1]
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}

	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()
	if p := os.Getenv("TRADER_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(*cfg)

	switch mode {
	case "ping":
		runPing(*cfg, logger)
	case "automated":
		runAutomated(*cfg, logger)
	default:
		slog.Error("unknown mode, expected \"automated\" or \"ping\"", "mode", mode)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	var handler slog.Handler
	if cfg.Env == config.EnvProduction {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func runAutomated(cfg config.Config, logger *slog.Logger) {
	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("trader started", "symbols", len(cfg.Symbols), "execution_mode", cfg.ExecutionMode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

// runPing measures REST round-trip latency against the venue's
// server-time endpoint, per spec.md §6's ping mode, used to size
// recv_window / client-side deadlines before running automated.
func runPing(cfg config.Config, logger *slog.Logger) {
	o := oracle.New()
	var serverTime func(ctx context.Context) (int64, error)

	switch cfg.ExecutionMode {
	case config.ExecutionModeBybit:
		a := bybit.New(bybit.Credentials{RESTURL: cfg.Venue.RESTURL, PerpetualsURL: cfg.Venue.PerpetualsURL}, o, logger)
		serverTime = a.ServerTime
	default:
		a := binance.New(binance.Credentials{RESTURL: cfg.Venue.RESTURL, PerpetualsURL: cfg.Venue.PerpetualsURL}, o, logger)
		serverTime = a.ServerTime
	}

	const samples = 10
	var total time.Duration
	for i := 0; i < samples; i++ {
		start := time.Now()
		serverTs, err := serverTime(context.Background())
		rtt := time.Since(start)
		if err != nil {
			logger.Error("ping failed", "error", err)
			continue
		}
		total += rtt
		o.Set(serverTs - time.Now().UnixMilli())
		logger.Info("ping", "rtt_ms", rtt.Milliseconds(), "server_time", serverTs)
	}
	fmt.Printf("average rtt over %d samples: %s, oracle offset: %dms\n", samples, total/samples, o.Offset())
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
