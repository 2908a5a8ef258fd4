// Package backtest replays historical candles through an isolated
// rule engine: every fact write goes to a per-run local store, every
// order is a simulated fill, and live deployment state is never
// touched.
package backtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"hydra_bot/internal/engine"
	"hydra_bot/internal/exchange"
	"hydra_bot/internal/memory"
	"hydra_bot/internal/models"
	"hydra_bot/internal/repo"
	"hydra_bot/pkg/db"
	"hydra_bot/pkg/logger"
)

type Request struct {
	UserID        int64
	AutomationIDs []int64
	Symbol        string
	Interval      string
	StartTime     int64 // ms
	EndTime       int64 // ms
	StartBase     float64
	StartQuote    float64
	Description   string
}

type Report struct {
	Backtest *models.Backtest
	Results  []models.Result
}

type Runner struct {
	tx          db.TxManager
	exchange    exchange.Factory
	automations *repo.Automations
	users       *repo.Users
	settings    *repo.SettingsRepo
	symbols     *repo.Symbols
	backtests   *repo.Backtests

	// CandleDir caches downloaded candle files between runs.
	CandleDir string
}

func NewRunner(tx db.TxManager, factory exchange.Factory, automations *repo.Automations,
	users *repo.Users, settings *repo.SettingsRepo, symbols *repo.Symbols, backtests *repo.Backtests) *Runner {
	return &Runner{
		tx:          tx,
		exchange:    factory,
		automations: automations,
		users:       users,
		settings:    settings,
		symbols:     symbols,
		backtests:   backtests,
		CandleDir:   "candles",
	}
}

func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	var (
		user     *models.User
		settings *models.Settings
		sym      *models.Symbol
		autos    []*models.Automation
	)
	err := r.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		var err error
		if user, err = r.users.Get(ctx, tx, req.UserID); err != nil {
			return err
		}
		if settings, err = r.settings.GetDefault(ctx, tx); err != nil {
			return err
		}
		if sym, err = r.symbols.Get(ctx, tx, req.Symbol); err != nil {
			return err
		}
		if autos, err = r.automations.GetByIDs(ctx, tx, req.AutomationIDs, req.UserID); err != nil {
			return err
		}

		monthStart := time.Date(time.Now().Year(), time.Now().Month(), 1, 0, 0, 0, 0, time.UTC)
		count, err := r.backtests.CountSince(ctx, tx, req.UserID, monthStart)
		if err != nil {
			return err
		}
		if user.MaxBacktests > 0 && count >= user.MaxBacktests {
			return errors.Errorf("monthly backtest quota of %d reached", user.MaxBacktests)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(autos) == 0 {
		return nil, errors.New("no automations to test")
	}

	candles, err := r.candles(ctx, user, req)
	if err != nil {
		return nil, err
	}
	if candles.Len() == 0 {
		return nil, errors.New("no candles in the requested window")
	}

	store := memory.NewLocalStore()
	up := memory.NewUpdater(store, false)
	brain := engine.NewBrain(req.UserID, engine.Deps{
		Store:         store,
		Test:          true,
		Owner:         user,
		OwnerSettings: settings,
		SymbolCache:   map[string]*models.Symbol{sym.Symbol: sym},
	})

	var indicators []indicator
	for _, auto := range autos {
		auto.Test = true
		brain.UpdateBrain(auto)
		for _, key := range auto.IndexList() {
			_, index := splitKey(key)
			if in, ok := parseIndicator(index); ok {
				indicators = append(indicators, in)
			}
		}
	}

	// seed the simulated wallets without waking any rule
	baseKey := models.MemoryKey(sym.Base, models.OwnedIndex(models.IndexWallet, req.UserID), "")
	quoteKey := models.MemoryKey(sym.Quote, models.OwnedIndex(models.IndexWallet, req.UserID), "")
	if err := store.Set(ctx, baseKey, req.StartBase, false, 0); err != nil {
		return nil, err
	}
	if err := store.Set(ctx, quoteKey, req.StartQuote, false, 0); err != nil {
		return nil, err
	}

	bookKey := models.MemoryKey(req.Symbol, models.IndexBook, "")
	step := intervalMs(req.Interval)
	nextExec := make(map[int64]int64, len(autos))

	var results []models.Result
	for i := 0; i < candles.Len(); i++ {
		candle := candles.At(i)

		if err := up.Update(ctx, req.Symbol, models.IndexBook, "", map[string]interface{}{
			"bestBid": candle.Close,
			"bestAsk": candle.Close + 1e-8,
		}, false); err != nil {
			return nil, err
		}
		if err := up.Update(ctx, req.Symbol, models.IndexTicker, "", candleMap(candle), false); err != nil {
			return nil, err
		}
		if err := up.Update(ctx, req.Symbol, models.IndexLastCandle, req.Interval, candleMap(candle), false); err != nil {
			return nil, err
		}
		if i > 0 {
			if err := up.Update(ctx, req.Symbol, models.IndexPreviousCandle, req.Interval, candleMap(candles.At(i-1)), false); err != nil {
				return nil, err
			}
		}

		window := candles.Slice(i)
		for _, in := range indicators {
			if v, ok := in.calc(window); ok {
				if err := up.Update(ctx, req.Symbol, in.index, "", v, false); err != nil {
					return nil, err
				}
			}
		}

		// one rule at a time, in registration order: deterministic
		for _, auto := range autos {
			if !auto.IsActive || candle.Time < nextExec[auto.ID] {
				continue
			}
			res := brain.EvalDecision(ctx, bookKey, auto)
			if len(res) > 0 {
				results = append(results, res...)
				nextExec[auto.ID] = candle.Time + step
			}
		}
	}

	endBase := r.walletValue(ctx, store, baseKey)
	endQuote := r.walletValue(ctx, store, quoteKey)
	bt := &models.Backtest{
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		StartDate:   time.UnixMilli(req.StartTime).UTC(),
		EndDate:     time.UnixMilli(req.EndTime).UTC(),
		Description: req.Description,
		StartBase:   req.StartBase,
		StartQuote:  req.StartQuote,
		EndBase:     endBase,
		EndQuote:    endQuote,
		BasePerc:    profitPerc(req.StartBase, endBase),
		QuotePerc:   profitPerc(req.StartQuote, endQuote),
	}
	err = r.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		bt, err = r.backtests.Insert(ctx, tx, bt)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "persist backtest")
	}

	_ = store.FlushAll(ctx)
	return &Report{Backtest: bt, Results: results}, nil
}

func (r *Runner) walletValue(ctx context.Context, store memory.Store, key string) float64 {
	v, err := store.Get(ctx, key)
	if err != nil {
		return 0
	}
	f, _ := memory.ToFloat(v)
	return f
}

func profitPerc(start, end float64) float64 {
	if start == 0 {
		return 0
	}
	return (end - start) / start * 100
}

func candleMap(c models.Candle) map[string]interface{} {
	return map[string]interface{}{
		"open":       c.Open,
		"high":       c.High,
		"low":        c.Low,
		"close":      c.Close,
		"volume":     c.Volume,
		"time":       c.Time,
		"isComplete": c.IsComplete,
	}
}

func splitKey(key string) (symbol, index string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}

func intervalMs(interval string) int64 {
	if interval == "" {
		return 60_000
	}
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n < 1 {
		return 60_000
	}
	switch interval[len(interval)-1] {
	case 's':
		return n * 1_000
	case 'm':
		return n * 60_000
	case 'h':
		return n * 3_600_000
	case 'd':
		return n * 86_400_000
	case 'w':
		return n * 7 * 86_400_000
	}
	return 60_000
}

// candles downloads the window through the owner's exchange client,
// caching the series as a JSON file so repeated runs over the same
// window stay offline.
func (r *Runner) candles(ctx context.Context, user *models.User, req Request) (*models.OHLC, error) {
	name := fmt.Sprintf("%s_%s_%d_%d.json", req.Symbol, req.Interval, req.StartTime, req.EndTime)
	cache := filepath.Join(r.CandleDir, name)

	if raw, err := os.ReadFile(cache); err == nil {
		var ohlc models.OHLC
		if err := sonic.Unmarshal(raw, &ohlc); err == nil {
			return &ohlc, nil
		}
		logger.Error("corrupt candle cache %s, refetching", cache)
	}

	client := r.exchange(user.AccessKey, user.SecretKey)
	ohlc := &models.OHLC{}
	start := req.StartTime
	for {
		batch, err := client.Klines(ctx, req.Symbol, req.Interval, start, req.EndTime, 1000)
		if err != nil {
			return nil, errors.Wrap(err, "download candles")
		}
		if batch.Len() == 0 {
			break
		}
		ohlc.Append(batch)
		last := batch.Time[batch.Len()-1]
		if last >= req.EndTime || batch.Len() < 1000 {
			break
		}
		start = last + 1
	}

	if raw, err := sonic.Marshal(ohlc); err == nil {
		if err := os.MkdirAll(r.CandleDir, 0o755); err == nil {
			if err := os.WriteFile(cache, raw, 0o644); err != nil {
				logger.Error("write candle cache: %v", err)
			}
		}
	}
	return ohlc, nil
}
