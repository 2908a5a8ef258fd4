package main

import (
	"context"
	"flag"
	"log"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"

	"hydra_bot/internal/backtest"
	"hydra_bot/internal/exchange"
	"hydra_bot/internal/modules/config"
	"hydra_bot/internal/modules/postgres"
	"hydra_bot/internal/repo"
	"hydra_bot/pkg/logger"
)

func main() {
	var (
		userID      = flag.Int64("user", 0, "automation owner id")
		automations = flag.String("automations", "", "comma separated automation ids")
		symbol      = flag.String("symbol", "", "trading pair, e.g. BTCUSDT")
		interval    = flag.String("interval", "1h", "candle interval")
		start       = flag.String("start", "", "window start, RFC3339")
		end         = flag.String("end", "", "window end, RFC3339")
		baseQty     = flag.Float64("base", 0, "starting base balance")
		quoteQty    = flag.Float64("quote", 1000, "starting quote balance")
		description = flag.String("desc", "", "free-form run description")
	)
	flag.Parse()

	logger.SetServiceName("hydra-backtest")
	logger.Init()

	req := backtest.Request{
		UserID:      *userID,
		Symbol:      *symbol,
		Interval:    *interval,
		StartBase:   *baseQty,
		StartQuote:  *quoteQty,
		Description: *description,
	}
	for _, part := range strings.Split(*automations, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Fatalf("bad automation id %q", part)
		}
		req.AutomationIDs = append(req.AutomationIDs, id)
	}
	for _, stamp := range []struct {
		raw string
		dst *int64
	}{{*start, &req.StartTime}, {*end, &req.EndTime}} {
		at, err := time.Parse(time.RFC3339, stamp.raw)
		if err != nil {
			log.Fatalf("bad timestamp %q: %v", stamp.raw, err)
		}
		*stamp.dst = at.UnixMilli()
	}

	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		postgres.Module(),
		fx.Provide(
			repo.NewAutomations,
			repo.NewUsers,
			repo.NewSettings,
			repo.NewSymbols,
			repo.NewBacktests,
			func() exchange.Factory { return exchange.NewBinanceClient },
			backtest.NewRunner,
		),
		fx.Invoke(func(runner *backtest.Runner, cfg *config.Config, shutdowner fx.Shutdowner) {
			runner.CandleDir = cfg.CandleDir
			report, err := runner.Run(context.Background(), req)
			if err != nil {
				logger.Error("backtest failed: %v", err)
				_ = shutdowner.Shutdown(fx.ExitCode(1))
				return
			}
			bt := report.Backtest
			logger.Info("backtest %d done: base %.8f -> %.8f (%.2f%%), quote %.2f -> %.2f (%.2f%%), %d results",
				bt.ID, bt.StartBase, bt.EndBase, bt.BasePerc,
				bt.StartQuote, bt.EndQuote, bt.QuotePerc, len(report.Results))
			_ = shutdowner.Shutdown()
		}),
	)
	app.Run()
}
