package repo

import (
	"context"

	"hydra_bot/internal/models"
	"hydra_bot/pkg/db"

	"github.com/pkg/errors"
)

type Grids struct{}

func NewGrids() *Grids { return &Grids{} }

// DeleteByAutomation clears every level of an automation's ladder;
// always called inside the regeneration transaction.
func (r *Grids) DeleteByAutomation(ctx context.Context, tx db.Transaction, automationID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM grids WHERE automation_id = $1`, automationID)
	return errors.Wrap(err, "Grids.DeleteByAutomation")
}

func (r *Grids) InsertBatch(ctx context.Context, tx db.Transaction, grids []models.Grid) error {
	for _, g := range grids {
		_, err := tx.Exec(ctx, `INSERT INTO grids
			(automation_id, order_template_id, conditions, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())`,
			g.AutomationID, g.OrderTemplateID, g.Conditions)
		if err != nil {
			return errors.Wrap(err, "Grids.InsertBatch")
		}
	}
	return nil
}

func loadGrids(ctx context.Context, tx db.Transaction, automationID int64) ([]models.Grid, error) {
	rows, err := tx.Query(ctx, `SELECT id, automation_id, COALESCE(order_template_id, 0), conditions
		FROM grids WHERE automation_id = $1 ORDER BY id`, automationID)
	if err != nil {
		return nil, errors.Wrap(err, "Grids.load")
	}
	defer rows.Close()

	var out []models.Grid
	for rows.Next() {
		var g models.Grid
		if err := rows.Scan(&g.ID, &g.AutomationID, &g.OrderTemplateID, &g.Conditions); err != nil {
			return nil, errors.Wrap(err, "Grids.load scan")
		}
		out = append(out, g)
	}
	return out, errors.Wrap(rows.Err(), "Grids.load rows")
}
