package engine

import (
	"context"
	"sync"

	"hydra_bot/internal/models"
	"hydra_bot/internal/repo"
	"hydra_bot/pkg/db"
	"hydra_bot/pkg/logger"
)

// Brains routes automations to their owner's registry, creating one
// Brain per user on first use. All brains share the same
// collaborators; isolation is per-owner state, not per-owner
// infrastructure.
type Brains struct {
	deps Deps

	mu     sync.Mutex
	byUser map[int64]*Brain
}

func NewBrains(deps Deps) *Brains {
	return &Brains{deps: deps, byUser: make(map[int64]*Brain)}
}

func (s *Brains) For(userID int64) *Brain {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byUser[userID]
	if !ok {
		b = NewBrain(userID, s.deps)
		s.byUser[userID] = b
	}
	return b
}

func (s *Brains) Update(auto *models.Automation) {
	s.For(auto.UserID).UpdateBrain(auto)
}

func (s *Brains) Delete(auto *models.Automation) {
	s.For(auto.UserID).DeleteBrain(auto)
}

// Bootstrap loads every active reactive automation into its owner's
// registry; scheduled rules are the agenda's business, not ours.
func (s *Brains) Bootstrap(ctx context.Context, automations *repo.Automations) error {
	var autos []*models.Automation
	err := s.deps.Tx.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		var err error
		autos, err = automations.GetActive(ctx, tx)
		return err
	})
	if err != nil {
		return err
	}

	count := 0
	for _, auto := range autos {
		if auto.Reactive() {
			s.Update(auto)
			count++
		}
	}
	logger.Info("registry bootstrapped: %d reactive automations", count)
	return nil
}
