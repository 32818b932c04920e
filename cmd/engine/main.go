package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/config"
	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_engine/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_engine/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_engine/internal/orchestrator"
	"github.com/vitos/crypto_trade_engine/internal/position"
	"github.com/vitos/crypto_trade_engine/internal/regime"
	"github.com/vitos/crypto_trade_engine/internal/risk"
	composer "github.com/vitos/crypto_trade_engine/internal/signal"
	"github.com/vitos/crypto_trade_engine/internal/strategy"
)

func main() {
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	restEndpoint := cfg.Exchange.RESTEndpoint
	if restEndpoint == "" {
		restEndpoint = exchange.BybitBaseURL
	}
	wsEndpoint := cfg.Exchange.WSEndpoint
	if wsEndpoint == "" {
		wsEndpoint = exchange.BybitWSURL
	}
	adapter := exchange.NewBybitAdapter(cfg.Exchange.APIKey, cfg.Exchange.APISecret, restEndpoint, wsEndpoint, log)
	defer adapter.Close()

	classifier := regime.NewClassifier(regime.DefaultConfig(), log)
	selector, err := strategy.NewSelector(
		strategy.SelectorConfig{
			AutoSwitch:          cfg.Selector.AutoSwitch,
			MinRegimeConfidence: cfg.Selector.MinRegimeConfidence,
			DefaultStrategy:     cfg.Selector.DefaultStrategy,
		},
		classifier,
		[]strategy.Strategy{
			strategy.NewMomentum(strategy.DefaultMomentumConfig()),
			strategy.NewMeanReversion(strategy.DefaultMeanReversionConfig()),
			strategy.NewGrid(strategy.DefaultGridConfig()),
			strategy.NewScalping(strategy.DefaultScalpingConfig()),
			strategy.NewMultiIndicator(composer.DefaultConfig()),
		},
		log,
	)
	if err != nil {
		log.Fatal("Failed to build selector", zap.Error(err))
	}

	positions := position.NewManager(position.DefaultManagerConfig(), store, log)
	if err := positions.Restore(context.Background()); err != nil {
		log.Error("Failed to restore positions", zap.Error(err))
	}

	riskCtrl := risk.NewController(risk.Config{
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		Cooldown:             time.Duration(cfg.Risk.CooldownMinutes) * time.Minute,
		MaxSymbolExposurePct: cfg.Risk.MaxSymbolExposurePct,
		MaxTotalExposurePct:  cfg.Risk.MaxTotalExposurePct,
		DrawdownAlertPct:     cfg.Risk.DrawdownAlertPct,
		KellySafetyFraction:  cfg.Risk.KellySafetyFraction,
		MinTradesForVaR:      cfg.Risk.MinTradesForVaR,
		MinNotional:          10,
	}, log)

	portfolioValue := cfg.Trading.PortfolioValue
	positions.OnClose(func(pos *domain.Position, pnl float64, final bool) {
		if final {
			riskCtrl.RecordClose(pos.RealizedPnL, portfolioValue)
		}
	})

	orch, err := orchestrator.New(orchestrator.Config{
		Symbols:          cfg.Trading.Symbols,
		CandleInterval:   cfg.Trading.CandleInterval,
		CandleLimit:      cfg.Trading.CandleLimit,
		DecisionInterval: time.Duration(cfg.Trading.DecisionIntervalMs) * time.Millisecond,
		MonitorInterval:  time.Duration(cfg.Trading.MonitorIntervalMs) * time.Millisecond,
		PositionSize:     cfg.Trading.PositionSize,
		MinConfidence:    cfg.Trading.MinConfidence,
		PortfolioValue:   portfolioValue,
		UseKellySizing:   cfg.Trading.UseKellySizing,
	}, adapter, selector, positions, riskCtrl, log)
	if err != nil {
		log.Fatal("Failed to build orchestrator", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		log.Fatal("Failed to start orchestrator", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	orch.Stop()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Logging.File != "" {
		return logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	}
	return logger.NewLogger(cfg.Logging.Level)
}
