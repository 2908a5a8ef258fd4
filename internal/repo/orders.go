package repo

import (
	"context"

	"hydra_bot/internal/models"
	"hydra_bot/pkg/db"

	"github.com/pkg/errors"
)

type Orders struct{}

func NewOrders() *Orders { return &Orders{} }

func (r *Orders) Insert(ctx context.Context, tx db.Transaction, o *models.Order) (*models.Order, error) {
	row := tx.QueryRow(ctx, `INSERT INTO orders
		(automation_id, user_id, symbol, order_id, client_order_id, side, type, status,
		 quantity, limit_price, stop_price, avg_price, commission, net, is_maker,
		 transact_time, reduce_only, position_side, close_position, price_rate,
		 activate_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
		        NULLIF($10, 0::numeric), NULLIF($11, 0::numeric), NULLIF($12, 0::numeric),
		        $13, $14, $15, $16, $17, NULLIF($18, ''), $19,
		        NULLIF($20, 0::numeric), NULLIF($21, 0::numeric), NOW(), NOW())
		RETURNING id`,
		o.AutomationID, o.UserID, o.Symbol, o.OrderID, o.ClientOrderID,
		o.Side, o.Type, o.Status, o.Quantity, o.LimitPrice, o.StopPrice,
		o.AvgPrice, o.Commission, o.Net, o.IsMaker, o.TransactTime,
		o.ReduceOnly, o.PositionSide, o.ClosePosition, o.PriceRate, o.ActivatePrice)

	if err := row.Scan(&o.ID); err != nil {
		return nil, errors.Wrap(err, "Orders.Insert")
	}
	return o, nil
}

type Backtests struct{}

func NewBacktests() *Backtests { return &Backtests{} }

func (r *Backtests) Insert(ctx context.Context, tx db.Transaction, b *models.Backtest) (*models.Backtest, error) {
	row := tx.QueryRow(ctx, `INSERT INTO backtests
		(user_id, symbol, start_date, end_date, description,
		 start_base, start_quote, end_base, end_quote, base_perc, quote_perc,
		 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id`,
		b.UserID, b.Symbol, b.StartDate, b.EndDate, b.Description,
		b.StartBase, b.StartQuote, b.EndBase, b.EndQuote, b.BasePerc, b.QuotePerc)

	if err := row.Scan(&b.ID); err != nil {
		return nil, errors.Wrap(err, "Backtests.Insert")
	}
	return b, nil
}

// CountSince supports the per-month backtest quota check.
func (r *Backtests) CountSince(ctx context.Context, tx db.Transaction, userID int64, since interface{}) (int, error) {
	row := tx.QueryRow(ctx, `SELECT COUNT(*) FROM backtests
		WHERE user_id = $1 AND created_at >= $2`, userID, since)

	var n int
	err := row.Scan(&n)
	return n, errors.Wrap(err, "Backtests.CountSince")
}
