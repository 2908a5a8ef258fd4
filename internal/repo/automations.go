package repo

import (
	"context"

	"hydra_bot/internal/models"
	"hydra_bot/pkg/db"

	"github.com/pkg/errors"
)

type Automations struct{}

func NewAutomations() *Automations { return &Automations{} }

const automationCols = `id, user_id, name, symbol, indexes, conditions,
	COALESCE(schedule, ''), is_active, logs`

func (r *Automations) Get(ctx context.Context, tx db.Transaction, id int64) (*models.Automation, error) {
	row := tx.QueryRow(ctx, `SELECT `+automationCols+` FROM automations WHERE id = $1`, id)

	auto := &models.Automation{}
	err := row.Scan(&auto.ID, &auto.UserID, &auto.Name, &auto.Symbol,
		&auto.Indexes, &auto.Conditions, &auto.Schedule, &auto.IsActive, &auto.Logs)
	if err != nil {
		return nil, errors.Wrap(err, "Automations.Get")
	}

	if err := r.loadChildren(ctx, tx, auto); err != nil {
		return nil, err
	}
	return auto, nil
}

// GetActive loads every active automation, the set the engine
// registers at startup.
func (r *Automations) GetActive(ctx context.Context, tx db.Transaction) ([]*models.Automation, error) {
	rows, err := tx.Query(ctx, `SELECT `+automationCols+` FROM automations WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "Automations.GetActive")
	}
	defer rows.Close()

	var out []*models.Automation
	for rows.Next() {
		auto := &models.Automation{}
		if err := rows.Scan(&auto.ID, &auto.UserID, &auto.Name, &auto.Symbol,
			&auto.Indexes, &auto.Conditions, &auto.Schedule, &auto.IsActive, &auto.Logs); err != nil {
			return nil, errors.Wrap(err, "Automations.GetActive scan")
		}
		out = append(out, auto)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "Automations.GetActive rows")
	}

	for _, auto := range out {
		if err := r.loadChildren(ctx, tx, auto); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Automations) GetByIDs(ctx context.Context, tx db.Transaction, ids []int64, userID int64) ([]*models.Automation, error) {
	var out []*models.Automation
	for _, id := range ids {
		auto, err := r.Get(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if auto.UserID != userID {
			continue
		}
		out = append(out, auto)
	}
	return out, nil
}

func (r *Automations) SetActive(ctx context.Context, tx db.Transaction, id int64, active bool) error {
	_, err := tx.Exec(ctx, `UPDATE automations SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	return errors.Wrap(err, "Automations.SetActive")
}

func (r *Automations) loadChildren(ctx context.Context, tx db.Transaction, auto *models.Automation) error {
	actions, err := loadActions(ctx, tx, auto.ID)
	if err != nil {
		return err
	}
	auto.Actions = actions

	grids, err := loadGrids(ctx, tx, auto.ID)
	if err != nil {
		return err
	}
	auto.Grids = grids

	return hydrateTemplates(ctx, tx, auto)
}

// hydrateTemplates resolves template ids into the loaded records the
// engine acts on; an action row without its template cannot fire.
func hydrateTemplates(ctx context.Context, tx db.Transaction, auto *models.Automation) error {
	orderTemplates := NewOrderTemplates()
	withdrawTemplates := NewWithdrawTemplates()

	for i := range auto.Actions {
		a := &auto.Actions[i]
		if a.OrderTemplateID != 0 {
			t, err := orderTemplates.Get(ctx, tx, auto.UserID, a.OrderTemplateID)
			if err != nil {
				return err
			}
			a.OrderTemplate = t
		}
		if a.WithdrawTemplateID != 0 {
			t, err := withdrawTemplates.Get(ctx, tx, a.WithdrawTemplateID)
			if err != nil {
				return err
			}
			a.WithdrawTemplate = t
		}
	}

	for i := range auto.Grids {
		g := &auto.Grids[i]
		if g.OrderTemplateID == 0 {
			continue
		}
		t, err := orderTemplates.Get(ctx, tx, auto.UserID, g.OrderTemplateID)
		if err != nil {
			return err
		}
		g.OrderTemplate = t
	}
	return nil
}

func loadActions(ctx context.Context, tx db.Transaction, automationID int64) ([]models.Action, error) {
	rows, err := tx.Query(ctx, `SELECT id, automation_id, type,
		COALESCE(order_template_id, 0), COALESCE(withdraw_template_id, 0)
		FROM actions WHERE automation_id = $1 ORDER BY id`, automationID)
	if err != nil {
		return nil, errors.Wrap(err, "Automations.loadActions")
	}
	defer rows.Close()

	var out []models.Action
	for rows.Next() {
		var a models.Action
		if err := rows.Scan(&a.ID, &a.AutomationID, &a.Type, &a.OrderTemplateID, &a.WithdrawTemplateID); err != nil {
			return nil, errors.Wrap(err, "Automations.loadActions scan")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "Automations.loadActions rows")
}
