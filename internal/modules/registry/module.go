// Package registry composes the live engine: repositories, the shared
// redis fact store, the per-user brains, the agenda and the public
// market data feeds that keep the memory fresh.
package registry

import (
	"context"
	"time"

	"go.uber.org/fx"

	"hydra_bot/internal/agenda"
	"hydra_bot/internal/backtest"
	"hydra_bot/internal/engine"
	"hydra_bot/internal/exchange"
	"hydra_bot/internal/memory"
	"hydra_bot/internal/models"
	"hydra_bot/internal/modules/config"
	"hydra_bot/internal/notify"
	"hydra_bot/internal/repo"
	"hydra_bot/internal/stream"
	"hydra_bot/pkg/db"
	"hydra_bot/pkg/logger"
)

func Module() fx.Option {
	return fx.Module("registry",
		fx.Provide(
			repo.NewAutomations,
			repo.NewOrderTemplates,
			repo.NewWithdrawTemplates,
			repo.NewSymbols,
			repo.NewUsers,
			repo.NewSettings,
			repo.NewOrders,
			repo.NewGrids,
			repo.NewBacktests,
			stream.NewHub,
			func() exchange.Factory { return exchange.NewBinanceClient },
			newNotifier,
			newBrains,
			newAgenda,
			newBacktestRunner,
		),
		fx.Invoke(start),
	)
}

func newNotifier(tx db.TxManager, settings *repo.SettingsRepo) *notify.Notifier {
	var s *models.Settings
	err := tx.RunMaster(context.Background(), func(ctx context.Context, txx db.Transaction) error {
		var err error
		s, err = settings.GetDefault(ctx, txx)
		return err
	})
	if err != nil {
		logger.Error("platform settings unavailable, senders stay unconfigured: %v", err)
	}
	return notify.New(s)
}

func newBrains(
	cfg *config.Config,
	store memory.Store,
	tx db.TxManager,
	factory exchange.Factory,
	notifier *notify.Notifier,
	hub *stream.Hub,
	automations *repo.Automations,
	orderTemplates *repo.OrderTemplates,
	withdrawTemplates *repo.WithdrawTemplates,
	symbols *repo.Symbols,
	users *repo.Users,
	settings *repo.SettingsRepo,
	orders *repo.Orders,
	grids *repo.Grids,
) *engine.Brains {
	return engine.NewBrains(engine.Deps{
		Store:             store,
		Tx:                tx,
		Exchange:          factory,
		Notifier:          notifier,
		Hub:               hub,
		Automations:       automations,
		OrderTemplates:    orderTemplates,
		WithdrawTemplates: withdrawTemplates,
		Symbols:           symbols,
		Users:             users,
		Settings:          settings,
		Orders:            orders,
		Grids:             grids,
		SettleInterval:    cfg.AutomationInterval,
	})
}

func newAgenda(tx db.TxManager, automations *repo.Automations, brains *engine.Brains) *agenda.Agenda {
	return agenda.New(tx, automations, func(userID int64) agenda.Evaluator {
		return brains.For(userID)
	})
}

func newBacktestRunner(
	cfg *config.Config,
	tx db.TxManager,
	factory exchange.Factory,
	automations *repo.Automations,
	users *repo.Users,
	settings *repo.SettingsRepo,
	symbols *repo.Symbols,
	backtests *repo.Backtests,
) *backtest.Runner {
	r := backtest.NewRunner(tx, factory, automations, users, settings, symbols, backtests)
	r.CandleDir = cfg.CandleDir
	return r
}

func start(
	lc fx.Lifecycle,
	cfg *config.Config,
	tx db.TxManager,
	store memory.Store,
	brains *engine.Brains,
	ag *agenda.Agenda,
	automations *repo.Automations,
	users *repo.Users,
	factory exchange.Factory,
) {
	feedCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := brains.Bootstrap(ctx, automations); err != nil {
				return err
			}

			var autos []*models.Automation
			err := tx.RunMaster(ctx, func(ctx context.Context, txx db.Transaction) error {
				var err error
				autos, err = automations.GetActive(ctx, txx)
				return err
			})
			if err != nil {
				return err
			}
			ag.Start()
			for _, auto := range autos {
				if auto.Schedule == "" {
					continue
				}
				if err := ag.Add(auto); err != nil {
					logger.Error("schedule automation %d: %v", auto.ID, err)
				}
			}

			up := memory.NewUpdater(store, cfg.Logs)
			if err := startFeeds(feedCtx, factory, up); err != nil {
				return err
			}
			return startUserFeeds(feedCtx, tx, users, factory, up)
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			ag.Stop()
			return nil
		},
	})
}

// startFeeds connects the public market streams and funnels every
// frame through the normalizing write path, notify on.
func startFeeds(ctx context.Context, factory exchange.Factory, up *memory.Updater) error {
	client := factory("", "")
	feed := func(index string) exchange.StreamHandler {
		return func(symbol string, payload map[string]interface{}) {
			if err := up.Update(ctx, symbol, index, "", payload, true); err != nil {
				logger.Error("feed write %s:%s: %v", symbol, index, err)
			}
		}
	}
	if err := client.BookStream(ctx, feed(models.IndexBook)); err != nil {
		return err
	}
	if err := client.TickerStream(ctx, feed(models.IndexTicker)); err != nil {
		return err
	}
	if err := client.MarkPriceStream(ctx, feed(models.IndexMarkPrice)); err != nil {
		return err
	}
	return client.LiquidationStream(ctx, feed(models.IndexLastLiq))
}

// startUserFeeds connects each trader's private stream so balance
// changes land in memory as soon as the exchange reports them. One
// failing user never blocks the rest.
func startUserFeeds(ctx context.Context, tx db.TxManager, users *repo.Users, factory exchange.Factory, up *memory.Updater) error {
	var traders []*models.User
	err := tx.RunMaster(ctx, func(ctx context.Context, txx db.Transaction) error {
		var err error
		traders, err = users.GetTraders(ctx, txx)
		return err
	})
	if err != nil {
		return err
	}

	for _, trader := range traders {
		client := factory(trader.AccessKey, trader.SecretKey)
		seedAccount(ctx, client, trader.ID, up)

		listenKey, err := client.ListenKey(ctx)
		if err != nil {
			logger.Error("user %d listen key: %v", trader.ID, err)
			continue
		}

		walletIndex := models.OwnedIndex(models.IndexWallet, trader.ID)
		handler := func(event string, payload map[string]interface{}) {
			if event != "outboundAccountPosition" {
				return
			}
			balances, _ := payload["B"].([]interface{})
			for _, raw := range balances {
				bal, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				asset, _ := bal["a"].(string)
				free, _ := bal["f"].(string)
				if asset == "" {
					continue
				}
				if err := up.Update(ctx, asset, walletIndex, "", free, true); err != nil {
					logger.Error("wallet write %s:%s: %v", asset, walletIndex, err)
				}
			}
		}
		if err := client.UserDataStream(ctx, listenKey, handler); err != nil {
			logger.Error("user %d data stream: %v", trader.ID, err)
			continue
		}

		go keepAlive(ctx, client, trader.ID, listenKey)
	}
	return nil
}

// seedAccount loads a trader's balances and open positions into memory
// with notification off, so rules don't fire on bootstrap but balance
// and position sizing works from the first trigger.
func seedAccount(ctx context.Context, client exchange.Client, userID int64, up *memory.Updater) {
	walletIndex := models.OwnedIndex(models.IndexWallet, userID)
	if balances, err := client.Balances(ctx); err != nil {
		logger.Error("user %d balances: %v", userID, err)
	} else {
		for _, bal := range balances {
			if err := up.Update(ctx, bal.Asset, walletIndex, "", bal.Available, false); err != nil {
				logger.Error("wallet seed %s:%s: %v", bal.Asset, walletIndex, err)
			}
		}
	}

	fwalletIndex := models.OwnedIndex(models.IndexFWallet, userID)
	if balances, err := client.FuturesBalances(ctx); err != nil {
		logger.Error("user %d futures balances: %v", userID, err)
	} else {
		for _, bal := range balances {
			if err := up.Update(ctx, bal.Asset, fwalletIndex, "", bal.Available, false); err != nil {
				logger.Error("wallet seed %s:%s: %v", bal.Asset, fwalletIndex, err)
			}
		}
	}

	positionIndex := models.OwnedIndex(models.IndexPosition, userID)
	if positions, err := client.FuturesPositions(ctx); err != nil {
		logger.Error("user %d positions: %v", userID, err)
	} else {
		for _, pos := range positions {
			symbol, _ := pos["symbol"].(string)
			if symbol == "" {
				continue
			}
			if err := up.Update(ctx, symbol, positionIndex, "", pos, false); err != nil {
				logger.Error("position seed %s:%s: %v", symbol, positionIndex, err)
			}
		}
	}
}

func keepAlive(ctx context.Context, client exchange.Client, userID int64, listenKey string) {
	t := time.NewTicker(30 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := client.KeepAliveListenKey(ctx, listenKey); err != nil {
				logger.Error("user %d listen key refresh: %v", userID, err)
			}
		}
	}
}
