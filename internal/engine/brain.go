// Package engine holds the reactive rule registry and the action
// evaluator. Each user gets one Brain: an in-process index from memory
// keys to the automations that depend on them, with per-automation
// locks so a burst of updates cannot run the same rule twice at once.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"hydra_bot/internal/condition"
	"hydra_bot/internal/exchange"
	"hydra_bot/internal/memory"
	"hydra_bot/internal/models"
	"hydra_bot/internal/notify"
	"hydra_bot/internal/repo"
	"hydra_bot/internal/stream"
	"hydra_bot/pkg/db"
	"hydra_bot/pkg/logger"
)

// Deps bundles the evaluator's collaborators. Tx may be shared across
// brains; Store is per deployment in live mode and per run in backtest
// mode.
type Deps struct {
	Store    memory.Store
	Tx       db.TxManager
	Exchange exchange.Factory
	Notifier *notify.Notifier
	Hub      *stream.Hub

	Automations       *repo.Automations
	OrderTemplates    *repo.OrderTemplates
	WithdrawTemplates *repo.WithdrawTemplates
	Symbols           *repo.Symbols
	Users             *repo.Users
	Settings          *repo.SettingsRepo
	Orders            *repo.Orders
	Grids             *repo.Grids

	// SettleInterval delays lock release after an evaluation that
	// produced results, coalescing the feed bursts that follow an
	// order fill. Zero releases immediately.
	SettleInterval time.Duration

	// Test routes orders to the simulated fill path and skips
	// persistence.
	Test bool

	// Owner, OwnerSettings and SymbolCache short-circuit the database
	// lookups; backtest runs preload them once per run.
	Owner        *models.User
	OwnerSettings *models.Settings
	SymbolCache  map[string]*models.Symbol
}

type Brain struct {
	userID int64
	deps   Deps

	mu          sync.Mutex
	automations map[int64]*models.Automation
	index       map[string][]int64
	locks       map[int64]bool
}

func NewBrain(userID int64, deps Deps) *Brain {
	return &Brain{
		userID:      userID,
		deps:        deps,
		automations: make(map[int64]*models.Automation),
		index:       make(map[string][]int64),
		locks:       make(map[int64]bool),
	}
}

// UpdateBrain registers or refreshes one automation. Rules with no
// indexes and no schedule are refused: nothing could ever wake them.
func (b *Brain) UpdateBrain(auto *models.Automation) {
	if auto == nil || !auto.IsActive {
		return
	}
	if !auto.Reactive() {
		if auto.Schedule == "" {
			logger.Auto(auto.ID, "refusing to register %q: no indexes and no schedule", auto.Name)
		}
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(auto.ID)
	b.automations[auto.ID] = auto
	for _, key := range auto.IndexList() {
		fresh := len(b.index[key]) == 0
		b.index[key] = append(b.index[key], auto.ID)
		if fresh {
			b.deps.Store.Subscribe(key, b.handler)
		}
	}
}

// DeleteBrain unregisters one automation, locking it for the duration
// so an in-flight notification cannot race the removal.
func (b *Brain) DeleteBrain(auto *models.Automation) {
	if auto == nil {
		return
	}
	b.mu.Lock()
	b.locks[auto.ID] = true
	b.removeLocked(auto.ID)
	delete(b.locks, auto.ID)
	b.mu.Unlock()
}

func (b *Brain) removeLocked(id int64) {
	delete(b.automations, id)
	for key, ids := range b.index {
		kept := ids[:0]
		for _, cur := range ids {
			if cur != id {
				kept = append(kept, cur)
			}
		}
		if len(kept) == 0 {
			delete(b.index, key)
			b.deps.Store.Unsubscribe(key)
		} else {
			b.index[key] = kept
		}
	}
}

func (b *Brain) handler(key string, _ interface{}) {
	b.OnMemoryUpdate(context.Background(), key)
}

// OnMemoryUpdate runs every automation indexed under key. If any of
// them is still locked from a previous update the whole notification
// is dropped, not queued; the feeds republish within moments.
func (b *Brain) OnMemoryUpdate(ctx context.Context, key string) []models.Result {
	b.mu.Lock()
	seen := make(map[int64]bool, len(b.index[key]))
	ids := make([]int64, 0, len(b.index[key]))
	for _, id := range b.index[key] {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	autos := make([]*models.Automation, 0, len(ids))
	for _, id := range ids {
		if b.locks[id] {
			b.mu.Unlock()
			logger.Debug("automation %d locked, dropping update for %s", id, key)
			return nil
		}
	}
	for _, id := range ids {
		if auto, ok := b.automations[id]; ok {
			b.locks[id] = true
			autos = append(autos, auto)
		}
	}
	b.mu.Unlock()

	if len(autos) == 0 {
		return nil
	}

	var all []models.Result
	for _, auto := range autos {
		results := b.EvalDecision(ctx, key, auto)
		if len(results) > 0 {
			all = append(all, results...)
			b.publish(auto, results)
		}
	}

	b.release(autos, len(all) > 0)
	return all
}

func (b *Brain) release(autos []*models.Automation, settled bool) {
	unlock := func() {
		b.mu.Lock()
		for _, auto := range autos {
			delete(b.locks, auto.ID)
		}
		b.mu.Unlock()
	}
	if settled && b.deps.SettleInterval > 0 {
		time.AfterFunc(b.deps.SettleInterval, unlock)
		return
	}
	unlock()
}

func (b *Brain) publish(auto *models.Automation, results []models.Result) {
	if b.deps.Hub == nil {
		return
	}
	b.deps.Hub.Direct(auto.UserID, map[string]interface{}{
		"notification": results,
	})
}

// skipInversion mirrors the registry's exceptions: grid and trailing
// automations manage their own firing, scheduled rules have no edge to
// detect, and order/candle keys never carry a previous envelope.
func skipInversion(memoryKey string, auto *models.Automation) bool {
	if memoryKey == "" || auto.Schedule != "" {
		return true
	}
	if len(auto.Actions) > 0 {
		switch auto.Actions[0].Type {
		case models.ActionGrid, models.ActionTrailing:
			return true
		}
	}
	for _, frag := range []string{":LAST_ORDER", ":LAST_CANDLE", ":PREVIOUS_CANDLE"} {
		if strings.Contains(memoryKey, frag) {
			return true
		}
	}
	return false
}

// EvalDecision checks one automation against the current fact snapshot
// and, when the condition holds, runs its actions in order. A missing
// fact means the rule is not ready yet, not that it failed. Runtime
// faults are contained: the registry never panics out of a feed
// handler.
func (b *Brain) EvalDecision(ctx context.Context, memoryKey string, auto *models.Automation) (results []models.Result) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "engine.EvalDecision")
	defer span.Finish()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("automation %d eval panic: %v", auto.ID, r)
			results = []models.Result{models.Errorf("automation %s failed: %v", auto.Name, r)}
		}
	}()

	keys := auto.IndexList()
	snapshot, err := b.deps.Store.GetAll(ctx, keys...)
	if err != nil {
		return []models.Result{models.Errorf("automation %s failed: %v", auto.Name, err)}
	}
	for _, key := range keys {
		if snapshot[key] == nil {
			if auto.Logs {
				logger.Auto(auto.ID, "not ready, missing %s", key)
			}
			return nil
		}
	}

	if auto.Conditions != "" {
		expr, err := condition.Parse(auto.Conditions)
		if err != nil {
			return []models.Result{models.Errorf("automation %s has a bad condition: %v", auto.Name, err)}
		}
		if !expr.Eval(snapshot) {
			return nil
		}
		if !skipInversion(memoryKey, auto) {
			if inv, ok := condition.Invert(expr, memoryKey); ok && !inv.Eval(snapshot) {
				if auto.Logs {
					logger.Auto(auto.ID, "edge not crossed on %s", memoryKey)
				}
				return nil
			}
		}
	}

	if len(auto.Actions) == 0 {
		return nil
	}
	if auto.Logs {
		logger.Auto(auto.ID, "%s fired on %s", auto.Name, memoryKey)
	}

	e, err := b.loadEnv(ctx, auto)
	if err != nil {
		return []models.Result{models.Errorf("automation %s failed: %v", auto.Name, err)}
	}

	for _, action := range auto.Actions {
		res := b.doAction(ctx, e, auto, action)
		if res.Type != "" {
			results = append(results, res)
		}
		if res.IsError() {
			break
		}
	}
	return results
}

// env is the per-evaluation context every action shares: the owner,
// the platform sender settings and the owner's exchange client.
type env struct {
	user     *models.User
	settings *models.Settings
	client   exchange.Client
}

func (b *Brain) loadEnv(ctx context.Context, auto *models.Automation) (*env, error) {
	e := &env{user: b.deps.Owner, settings: b.deps.OwnerSettings}
	if e.user == nil {
		err := b.deps.Tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
			var err error
			if e.user, err = b.deps.Users.Get(ctx, tx, auto.UserID); err != nil {
				return err
			}
			e.settings, err = b.deps.Settings.GetDefault(ctx, tx)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	if b.deps.Exchange != nil {
		e.client = b.deps.Exchange(e.user.AccessKey, e.user.SecretKey)
	}
	return e, nil
}

func (b *Brain) doAction(ctx context.Context, e *env, auto *models.Automation, action models.Action) models.Result {
	switch action.Type {
	case models.ActionAlertEmail:
		return b.alert(ctx, e, auto, action.Type)
	case models.ActionAlertSMS:
		return b.alert(ctx, e, auto, action.Type)
	case models.ActionAlertTelegram:
		return b.alert(ctx, e, auto, action.Type)
	case models.ActionOrder:
		return b.orderEval(ctx, e, auto, action)
	case models.ActionWithdraw:
		return b.withdrawEval(ctx, e, auto, action)
	case models.ActionGrid:
		return b.gridEval(ctx, e, auto)
	case models.ActionTrailing:
		return b.trailingEval(ctx, e, auto, action)
	}
	return models.Errorf("automation %s has an unknown action %s", auto.Name, action.Type)
}

func (b *Brain) alert(ctx context.Context, e *env, auto *models.Automation, kind models.ActionType) models.Result {
	text := auto.Name + " has fired!"
	if b.deps.Test {
		return models.Success(text)
	}
	notifier := b.deps.Notifier
	if notifier == nil {
		notifier = notify.New(e.settings)
	}

	var err error
	switch kind {
	case models.ActionAlertEmail:
		err = notifier.Email(ctx, e.user, text, text)
	case models.ActionAlertSMS:
		err = notifier.SMS(ctx, e.user, text)
	case models.ActionAlertTelegram:
		err = notifier.Telegram(ctx, e.user, text)
	}
	if err != nil {
		return models.Errorf("automation %s alert failed: %v", auto.Name, err)
	}
	return models.Success(text)
}
