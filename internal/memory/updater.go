package memory

import (
	"context"
	"regexp"
	"strings"
	"time"

	"hydra_bot/internal/models"
	"hydra_bot/pkg/logger"
)

var ownedOrderRe = regexp.MustCompile(`^F?LAST_ORDER_\d+$`)

// Updater is the single write path into a Store: it applies the
// per-index normalization and maintains the previous/current envelope
// for volatile facts before overwriting.
type Updater struct {
	store Store
	logs  bool
}

func NewUpdater(store Store, logs bool) *Updater {
	return &Updater{store: store, logs: logs}
}

func (u *Updater) Store() Store { return u.store }

// Update writes one fact under "{symbol}:{index}[_{interval}]".
// notify=false suppresses subscriber notification, used when seeding
// balances so rules don't fire on bootstrap.
func (u *Updater) Update(ctx context.Context, symbol, index, interval string, value interface{}, notify bool) error {
	return u.UpdateTTL(ctx, symbol, index, interval, value, notify, 0)
}

func (u *Updater) UpdateTTL(ctx context.Context, symbol, index, interval string, value interface{}, notify bool, ttl time.Duration) error {
	if value == nil {
		return nil
	}

	key := models.MemoryKey(symbol, indexKey(index, interval), "")

	var err error
	switch {
	case index == models.IndexBook:
		err = u.setEnvelope(ctx, key, lightBook(value), notify)
	case index == models.IndexTicker:
		err = u.setEnvelope(ctx, key, lightTicker(value), notify)
	case index == models.IndexMarkPrice:
		err = u.setEnvelope(ctx, key, lightMarkPrice(value), notify)
	case index == models.IndexLastLiq:
		err = u.store.Set(ctx, key, lightLiquidation(value), notify, 0)
	case strings.HasPrefix(index, models.IndexPosition+"_"):
		err = u.store.Set(ctx, key, lightPosition(value), notify, 0)
	case ownedOrderRe.MatchString(index):
		err = u.store.Set(ctx, key, lightOrder(value), notify, 0)
	default:
		err = u.store.Set(ctx, key, value, notify, ttl)
	}

	if u.logs {
		logger.Info("memory updated: %s, notify=%v", key, notify)
	}
	return err
}

// UpdateAll writes a batch of same-interval facts (calculated
// indicators) in one shot.
func (u *Updater) UpdateAll(ctx context.Context, symbol string, values map[string]interface{}, interval string, notify bool) error {
	keyValues := make(map[string]interface{}, len(values))
	for index, v := range values {
		keyValues[models.MemoryKey(symbol, indexKey(index, interval), "")] = v
	}
	return u.store.SetAll(ctx, keyValues, notify)
}

func (u *Updater) Delete(ctx context.Context, symbol, index, interval string) error {
	return u.store.Del(ctx, models.MemoryKey(symbol, indexKey(index, interval), ""))
}

// ClearWallet drops every balance fact of a user, the disconnect path.
func (u *Updater) ClearWallet(ctx context.Context, userID int64) error {
	facts, err := u.store.Search(ctx, "*:"+models.OwnedIndex(models.IndexWallet, userID))
	if err != nil {
		return err
	}
	for key := range facts {
		if err := u.store.Del(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// setEnvelope reads the prior current value and wraps the new one as
// {previous, current} so conditions can detect edge transitions.
func (u *Updater) setEnvelope(ctx context.Context, key string, current map[string]interface{}, notify bool) error {
	prior, err := u.store.Get(ctx, key)
	if err != nil {
		return err
	}

	previous := current
	if m, ok := prior.(map[string]interface{}); ok {
		if cur, ok := m["current"].(map[string]interface{}); ok {
			previous = cur
		}
	}

	return u.store.Set(ctx, key, map[string]interface{}{
		"previous": previous,
		"current":  current,
	}, notify, 0)
}

func indexKey(index, interval string) string {
	if interval != "" {
		return index + "_" + interval
	}
	return index
}
