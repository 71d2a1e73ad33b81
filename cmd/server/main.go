// Package main drives one orchestrator run against a historical catalog
// and, optionally, serves the read-only run-log API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nilskujath/onesecondtrader/internal/api"
	"github.com/nilskujath/onesecondtrader/internal/broker"
	"github.com/nilskujath/onesecondtrader/internal/bus"
	"github.com/nilskujath/onesecondtrader/internal/catalog"
	"github.com/nilskujath/onesecondtrader/internal/config"
	"github.com/nilskujath/onesecondtrader/internal/datafeed"
	"github.com/nilskujath/onesecondtrader/internal/events"
	"github.com/nilskujath/onesecondtrader/internal/orchestrator"
	"github.com/nilskujath/onesecondtrader/internal/runlog"
	"github.com/nilskujath/onesecondtrader/internal/strategy/examples"
	"github.com/nilskujath/onesecondtrader/internal/telemetry"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	apiAddr := flag.String("api-addr", "", "If set, serve the read-only run-log API on this address after the run completes (e.g. :8080)")
	symbols := flag.String("symbols", "AAPL", "Comma-separated symbol universe for the example SMA-crossover strategy")
	fastPeriod := flag.Int("fast", 10, "Fast SMA period")
	slowPeriod := flag.Int("slow", 30, "Slow SMA period")
	quantity := flag.Float64("quantity", 100, "Fixed order size for the example strategy")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	cat, err := catalog.Open(cfg.Store.DBPathCatalog)
	if err != nil {
		logger.Fatal("failed to open catalog", zap.Error(err))
	}
	defer cat.Close()

	runLogDB, err := runlog.Open(cfg.Store.DBPathRuns)
	if err != nil {
		logger.Fatal("failed to open run log", zap.Error(err))
	}

	symbolList := splitSymbols(*symbols)

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)

	runID, err := orchestrator.Run(logger, cfg, orchestrator.RunSpec{
		Name:          "sma_crossover",
		StrategyNames: []string{"SMACrossover"},
		StrategyFactories: []orchestrator.StrategyFactory{
			func(eventBus *bus.EventBus) orchestrator.Strategy {
				return examples.NewSMACrossover(logger, eventBus, symbolList, events.BarPeriodDay, *fastPeriod, *slowPeriod, *quantity, cfg.InboxCapacity)
			},
		},
		BrokerFactory: func(eventBus *bus.EventBus) orchestrator.Broker {
			return broker.New(logger, eventBus, cfg.Broker, cfg.InboxCapacity)
		},
		DatafeedFactory: func(eventBus *bus.EventBus) orchestrator.Datafeed {
			return datafeed.New(logger, eventBus, cat)
		},
		ObserverFactories: []orchestrator.LifecycleFactory{
			func(eventBus *bus.EventBus) orchestrator.Lifecycle {
				return telemetry.NewSubscriber(logger, eventBus, metrics, cfg.InboxCapacity)
			},
		},
		RunLogDB: runLogDB,
	})
	if err != nil {
		logger.Error("run failed", zap.String("run_id", runID), zap.Error(err))
	} else {
		logger.Info("run completed", zap.String("run_id", runID))
	}

	if *apiAddr == "" {
		return
	}

	server := api.NewServer(logger, runLogDB, registry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.ListenAndServe(*apiAddr); err != nil {
			logger.Info("api server stopped", zap.Error(err))
		}
	}()

	logger.Info("serving run log API", zap.String("addr", *apiAddr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during api server shutdown", zap.Error(err))
	}
}

func splitSymbols(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
