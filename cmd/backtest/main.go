package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_engine/internal/backtest"
	"github.com/vitos/crypto_trade_engine/internal/domain"
	"github.com/vitos/crypto_trade_engine/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_engine/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_engine/internal/regime"
	"github.com/vitos/crypto_trade_engine/internal/signal"
	"github.com/vitos/crypto_trade_engine/internal/strategy"
)

type options struct {
	symbol     string
	strategy   string
	csvPath    string
	interval   string
	limit      int
	capital    float64
	size       float64
	feePct     float64
	slipPct    float64
	confidence float64
	start      string
	end        string
	logLevel   string
	maxTrades  int
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical candles through a trading strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
		SilenceUsage: true,
	}

	root.Flags().StringVar(&opts.symbol, "symbol", "", "symbol to replay, e.g. BTCUSDT (required)")
	root.Flags().StringVar(&opts.strategy, "strategy", regime.StrategyMultiIndicator, "strategy to run")
	root.Flags().StringVar(&opts.csvPath, "csv", "", "candle CSV file (time_ms,open,high,low,close,volume); fetched from the exchange when empty")
	root.Flags().StringVar(&opts.interval, "interval", "60", "candle interval for exchange fetch")
	root.Flags().IntVar(&opts.limit, "limit", 1000, "candles to fetch from the exchange")
	root.Flags().Float64Var(&opts.capital, "capital", 10000, "initial capital in quote currency")
	root.Flags().Float64Var(&opts.size, "size", 1000, "position size per entry in quote currency")
	root.Flags().Float64Var(&opts.feePct, "fee", 0.1, "taker fee percent per fill")
	root.Flags().Float64Var(&opts.slipPct, "slippage", 0.05, "slippage percent per fill")
	root.Flags().Float64Var(&opts.confidence, "confidence", 55, "minimum signal confidence for entries")
	root.Flags().StringVar(&opts.start, "start", "", "replay start (RFC3339)")
	root.Flags().StringVar(&opts.end, "end", "", "replay end (RFC3339)")
	root.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	root.Flags().IntVar(&opts.maxTrades, "max-trades", 20, "trades to print in the report")
	root.MarkFlagRequired("symbol")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts *options) error {
	log, err := logger.NewLogger(opts.logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := backtest.DefaultConfig()
	cfg.Symbol = opts.symbol
	cfg.InitialCapital = opts.capital
	cfg.PositionSize = opts.size
	cfg.FeePct = opts.feePct
	cfg.SlippagePct = opts.slipPct
	cfg.MinConfidence = opts.confidence

	if opts.start != "" {
		if cfg.Start, err = time.Parse(time.RFC3339, opts.start); err != nil {
			return fmt.Errorf("parse start: %w", err)
		}
	}
	if opts.end != "" {
		if cfg.End, err = time.Parse(time.RFC3339, opts.end); err != nil {
			return fmt.Errorf("parse end: %w", err)
		}
	}

	strat, err := buildStrategy(opts.strategy)
	if err != nil {
		return err
	}

	candles, err := loadCandles(opts, log)
	if err != nil {
		return err
	}

	engine, err := backtest.NewEngine(cfg, strat, log)
	if err != nil {
		return err
	}
	result, err := engine.Run(candles)
	if err != nil {
		return err
	}

	printReport(result, opts.maxTrades)
	return nil
}

func buildStrategy(name string) (strategy.Strategy, error) {
	switch name {
	case regime.StrategyMomentum:
		return strategy.NewMomentum(strategy.DefaultMomentumConfig()), nil
	case regime.StrategyMeanReversion:
		return strategy.NewMeanReversion(strategy.DefaultMeanReversionConfig()), nil
	case regime.StrategyGrid:
		return strategy.NewGrid(strategy.DefaultGridConfig()), nil
	case regime.StrategyScalping:
		return strategy.NewScalping(strategy.DefaultScalpingConfig()), nil
	case regime.StrategyMultiIndicator:
		return strategy.NewMultiIndicator(signal.DefaultConfig()), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func loadCandles(opts *options, log *zap.Logger) ([]domain.Candle, error) {
	if opts.csvPath != "" {
		return readCandleCSV(opts.csvPath)
	}

	adapter := exchange.NewBybitAdapter("", "", exchange.BybitBaseURL, exchange.BybitWSURL, log)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return adapter.GetCandles(ctx, opts.symbol, opts.interval, opts.limit)
}

func readCandleCSV(path string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var candles []domain.Candle
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%s line %d: need 6 columns, got %d", path, i+1, len(row))
		}
		// skip a header row
		if i == 0 {
			if _, err := strconv.ParseInt(row[0], 10, 64); err != nil {
				continue
			}
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad timestamp %q", path, i+1, row[0])
		}
		vals := make([]float64, 5)
		for j := 1; j < 6; j++ {
			if vals[j-1], err = strconv.ParseFloat(row[j], 64); err != nil {
				return nil, fmt.Errorf("%s line %d: bad value %q", path, i+1, row[j])
			}
		}
		candles = append(candles, domain.Candle{
			Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	return candles, nil
}

func printReport(result *backtest.Result, maxTrades int) {
	m := result.Metrics

	fmt.Printf("\nBacktest: %s, strategy %s\n\n", result.Config.Symbol, tradeStrategy(result))

	summary := tablewriter.NewWriter(os.Stdout)
	summary.SetHeader([]string{"Metric", "Value"})
	summary.Append([]string{"Trades", strconv.Itoa(m.TotalTrades)})
	summary.Append([]string{"Wins / Losses", fmt.Sprintf("%d / %d", m.Wins, m.Losses)})
	summary.Append([]string{"Win rate", fmt.Sprintf("%.1f%%", m.WinRate)})
	summary.Append([]string{"Profit factor", fmt.Sprintf("%.2f", m.ProfitFactor)})
	summary.Append([]string{"Total return", fmt.Sprintf("%.2f%%", m.TotalReturnPct)})
	summary.Append([]string{"Max drawdown", fmt.Sprintf("%.2f%%", m.MaxDrawdownPct)})
	summary.Append([]string{"Avg hold", m.AvgHold.Round(time.Second).String()})
	summary.Append([]string{"Final equity", fmt.Sprintf("%.2f", m.FinalEquity)})
	summary.Append([]string{"Fees paid", fmt.Sprintf("%.2f", m.FeesPaid)})
	summary.Render()

	if len(result.Trades) == 0 {
		return
	}

	fmt.Println()
	trades := tablewriter.NewWriter(os.Stdout)
	trades.SetHeader([]string{"Entry", "Exit", "Entry Px", "Exit Px", "PnL", "Reason"})
	shown := result.Trades
	if len(shown) > maxTrades {
		shown = shown[len(shown)-maxTrades:]
	}
	for _, t := range shown {
		trades.Append([]string{
			t.EntryTime.Format("2006-01-02 15:04"),
			t.ExitTime.Format("2006-01-02 15:04"),
			fmt.Sprintf("%.4f", t.EntryPrice),
			fmt.Sprintf("%.4f", t.ExitPrice),
			fmt.Sprintf("%+.2f", t.PnL),
			t.Reason,
		})
	}
	trades.Render()
}

func tradeStrategy(result *backtest.Result) string {
	if len(result.Trades) > 0 {
		return result.Trades[0].Strategy
	}
	return "n/a"
}
