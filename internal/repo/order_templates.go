package repo

import (
	"context"

	"hydra_bot/internal/models"
	"hydra_bot/pkg/db"

	"github.com/pkg/errors"
)

type OrderTemplates struct{}

func NewOrderTemplates() *OrderTemplates { return &OrderTemplates{} }

const orderTemplateCols = `id, user_id, name, symbol, type, side,
	COALESCE(limit_price, ''), limit_price_multiplier,
	COALESCE(stop_price, ''), stop_price_multiplier,
	COALESCE(quantity, ''), quantity_multiplier,
	COALESCE(leverage, 0), COALESCE(margin_type, ''), reduce_only`

func scanOrderTemplate(row interface{ Scan(...any) error }) (*models.OrderTemplate, error) {
	t := &models.OrderTemplate{}
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Symbol, &t.Type, &t.Side,
		&t.LimitPrice, &t.LimitPriceMultiplier,
		&t.StopPrice, &t.StopPriceMultiplier,
		&t.Quantity, &t.QuantityMultiplier,
		&t.Leverage, &t.MarginType, &t.ReduceOnly)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *OrderTemplates) Get(ctx context.Context, tx db.Transaction, userID, id int64) (*models.OrderTemplate, error) {
	row := tx.QueryRow(ctx, `SELECT `+orderTemplateCols+` FROM order_templates
		WHERE id = $1 AND user_id = $2`, id, userID)

	t, err := scanOrderTemplate(row)
	return t, errors.Wrap(err, "OrderTemplates.Get")
}

// GetByGridName finds the BUY/SELL templates a grid automation owns;
// they are named "<automation name> BUY" and "<automation name> SELL".
func (r *OrderTemplates) GetByGridName(ctx context.Context, tx db.Transaction, userID int64, name string) ([]*models.OrderTemplate, error) {
	rows, err := tx.Query(ctx, `SELECT `+orderTemplateCols+` FROM order_templates
		WHERE user_id = $1 AND name IN ($2, $3)`, userID, name+" BUY", name+" SELL")
	if err != nil {
		return nil, errors.Wrap(err, "OrderTemplates.GetByGridName")
	}
	defer rows.Close()

	var out []*models.OrderTemplate
	for rows.Next() {
		t, err := scanOrderTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "OrderTemplates.GetByGridName scan")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "OrderTemplates.GetByGridName rows")
}

func (r *OrderTemplates) Insert(ctx context.Context, tx db.Transaction, t *models.OrderTemplate) (*models.OrderTemplate, error) {
	row := tx.QueryRow(ctx, `INSERT INTO order_templates
		(user_id, name, symbol, type, side, limit_price, limit_price_multiplier,
		 stop_price, stop_price_multiplier, quantity, quantity_multiplier,
		 leverage, margin_type, reduce_only, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9,
		        NULLIF($10, ''), $11, NULLIF($12, 0), NULLIF($13, ''), $14, NOW(), NOW())
		RETURNING id`,
		t.UserID, t.Name, t.Symbol, t.Type, t.Side,
		t.LimitPrice, t.LimitPriceMultiplier,
		t.StopPrice, t.StopPriceMultiplier,
		t.Quantity, t.QuantityMultiplier,
		t.Leverage, t.MarginType, t.ReduceOnly)

	if err := row.Scan(&t.ID); err != nil {
		return nil, errors.Wrap(err, "OrderTemplates.Insert")
	}
	return t, nil
}

func (r *OrderTemplates) UpdateQuantity(ctx context.Context, tx db.Transaction, userID, id int64, quantity string) error {
	_, err := tx.Exec(ctx, `UPDATE order_templates SET quantity = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`, id, userID, quantity)
	return errors.Wrap(err, "OrderTemplates.UpdateQuantity")
}

// UpdateStopPrice persists the trailing tracker's ratcheted stop.
func (r *OrderTemplates) UpdateStopPrice(ctx context.Context, tx db.Transaction, userID, id int64, stopPrice string) error {
	_, err := tx.Exec(ctx, `UPDATE order_templates SET stop_price = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`, id, userID, stopPrice)
	return errors.Wrap(err, "OrderTemplates.UpdateStopPrice")
}

// UpdateLimitPrice persists the trailing tracker's resolved activation
// price; done exactly once per rule instance.
func (r *OrderTemplates) UpdateLimitPrice(ctx context.Context, tx db.Transaction, userID, id int64, limitPrice string) error {
	_, err := tx.Exec(ctx, `UPDATE order_templates SET limit_price = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`, id, userID, limitPrice)
	return errors.Wrap(err, "OrderTemplates.UpdateLimitPrice")
}
