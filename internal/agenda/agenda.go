// Package agenda runs scheduled automations: rules with a cron spec
// fire on their schedule, rules with a single date fire once and then
// deactivate. Scheduled rules never react to memory updates.
package agenda

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hydra_bot/internal/models"
	"hydra_bot/internal/repo"
	"hydra_bot/pkg/db"
	"hydra_bot/pkg/logger"
)

// Evaluator is the slice of the rule engine the agenda needs: run one
// automation with no triggering key.
type Evaluator interface {
	EvalDecision(ctx context.Context, memoryKey string, auto *models.Automation) []models.Result
}

type entry struct {
	cronID cron.EntryID
	timer  *time.Timer
}

type Agenda struct {
	cron        *cron.Cron
	tx          db.TxManager
	automations *repo.Automations
	brains      func(userID int64) Evaluator

	mu      sync.Mutex
	entries map[int64]entry
}

func New(tx db.TxManager, automations *repo.Automations, brains func(userID int64) Evaluator) *Agenda {
	return &Agenda{
		cron:        cron.New(cron.WithSeconds()),
		tx:          tx,
		automations: automations,
		brains:      brains,
		entries:     make(map[int64]entry),
	}
}

func (a *Agenda) Start() {
	a.cron.Start()
}

func (a *Agenda) Stop() {
	a.cron.Stop()
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, e := range a.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(a.entries, id)
	}
}

// Add schedules one automation. A schedule parsing as RFC3339 is a
// one-shot: it runs at that instant and the automation deactivates
// afterwards. Everything else is treated as a cron spec with seconds.
func (a *Agenda) Add(auto *models.Automation) error {
	if auto.Schedule == "" || !auto.IsActive {
		return nil
	}
	a.Cancel(auto.ID)

	if at, err := time.Parse(time.RFC3339, auto.Schedule); err == nil {
		delay := time.Until(at)
		if delay < 0 {
			logger.Auto(auto.ID, "date schedule %s is in the past, deactivating", auto.Schedule)
			a.expire(auto)
			return nil
		}
		timer := time.AfterFunc(delay, func() {
			a.run(auto)
			a.expire(auto)
		})
		a.mu.Lock()
		a.entries[auto.ID] = entry{timer: timer}
		a.mu.Unlock()
		return nil
	}

	id, err := a.cron.AddFunc(auto.Schedule, func() { a.run(auto) })
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.entries[auto.ID] = entry{cronID: id}
	a.mu.Unlock()
	return nil
}

func (a *Agenda) Cancel(automationID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[automationID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		} else {
			a.cron.Remove(e.cronID)
		}
		delete(a.entries, automationID)
	}
}

// List reports the next run time per scheduled automation; one-shot
// entries report the zero time.
func (a *Agenda) List() map[int64]time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int64]time.Time, len(a.entries))
	for id, e := range a.entries {
		if e.timer != nil {
			out[id] = time.Time{}
			continue
		}
		out[id] = a.cron.Entry(e.cronID).Next
	}
	return out
}

func (a *Agenda) run(auto *models.Automation) {
	ctx := context.Background()
	results := a.brains(auto.UserID).EvalDecision(ctx, "", auto)
	for _, r := range results {
		if r.IsError() {
			logger.Auto(auto.ID, "scheduled run: %s", r.Text)
		}
	}
}

func (a *Agenda) expire(auto *models.Automation) {
	a.Cancel(auto.ID)
	ctx := context.Background()
	err := a.tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		return a.automations.SetActive(ctx, tx, auto.ID, false)
	})
	if err != nil {
		logger.Error("deactivate one-shot automation %d: %v", auto.ID, err)
	}
}
