package repo

import (
	"context"

	"hydra_bot/internal/models"
	"hydra_bot/pkg/db"

	"github.com/pkg/errors"
)

type WithdrawTemplates struct{}

func NewWithdrawTemplates() *WithdrawTemplates { return &WithdrawTemplates{} }

func (r *WithdrawTemplates) Get(ctx context.Context, tx db.Transaction, id int64) (*models.WithdrawTemplate, error) {
	row := tx.QueryRow(ctx, `SELECT id, user_id, name, coin, amount, amount_multiplier,
		address, COALESCE(network, ''), COALESCE(address_tag, '')
		FROM withdraw_templates WHERE id = $1`, id)

	t := &models.WithdrawTemplate{}
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Coin, &t.Amount, &t.AmountMultiplier,
		&t.Address, &t.Network, &t.AddressTag)
	return t, errors.Wrap(err, "WithdrawTemplates.Get")
}

type Symbols struct{}

func NewSymbols() *Symbols { return &Symbols{} }

func (r *Symbols) Get(ctx context.Context, tx db.Transaction, symbol string) (*models.Symbol, error) {
	row := tx.QueryRow(ctx, `SELECT symbol, base, quote, base_precision, quote_precision,
		tick_size, step_size, min_notional,
		COALESCE(f_tick_size, 0), COALESCE(f_step_size, 0), COALESCE(f_min_notional, 0),
		is_active
		FROM symbols WHERE symbol = $1`, symbol)

	s := &models.Symbol{}
	err := row.Scan(&s.Symbol, &s.Base, &s.Quote, &s.BasePrecision, &s.QuotePrecision,
		&s.TickSize, &s.StepSize, &s.MinNotional,
		&s.FTickSize, &s.FStepSize, &s.FMinNotional, &s.IsActive)
	return s, errors.Wrap(err, "Symbols.Get")
}

type Users struct{}

func NewUsers() *Users { return &Users{} }

const userCols = `u.id, u.name, COALESCE(u.email, ''), COALESCE(u.phone, ''),
	COALESCE(u.telegram_chat, ''), COALESCE(u.push_token, ''),
	COALESCE(u.access_key, ''), COALESCE(u.secret_key, ''), u.is_active,
	COALESCE(u.limit_id, 0), COALESCE(l.max_backtests, 0)`

// Get returns the user with exchange credentials already decrypted by
// the configuration layer; the engine only reads them.
func (r *Users) Get(ctx context.Context, tx db.Transaction, id int64) (*models.User, error) {
	row := tx.QueryRow(ctx, `SELECT `+userCols+`
		FROM users u LEFT JOIN limits l ON l.id = u.limit_id
		WHERE u.id = $1`, id)

	u := &models.User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.TelegramChat, &u.PushToken,
		&u.AccessKey, &u.SecretKey, &u.IsActive, &u.LimitID, &u.MaxBacktests)
	return u, errors.Wrap(err, "Users.Get")
}

// GetTraders returns the active users that have exchange credentials
// on file, the set whose private streams are worth connecting.
func (r *Users) GetTraders(ctx context.Context, tx db.Transaction) ([]*models.User, error) {
	rows, err := tx.Query(ctx, `SELECT `+userCols+`
		FROM users u LEFT JOIN limits l ON l.id = u.limit_id
		WHERE u.is_active AND COALESCE(u.access_key, '') <> '' ORDER BY u.id`)
	if err != nil {
		return nil, errors.Wrap(err, "Users.GetTraders")
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.TelegramChat, &u.PushToken,
			&u.AccessKey, &u.SecretKey, &u.IsActive, &u.LimitID, &u.MaxBacktests); err != nil {
			return nil, errors.Wrap(err, "Users.GetTraders scan")
		}
		out = append(out, u)
	}
	return out, errors.Wrap(rows.Err(), "Users.GetTraders rows")
}

type SettingsRepo struct{}

func NewSettings() *SettingsRepo { return &SettingsRepo{} }

// GetDefault loads the platform-wide sender settings row.
func (r *SettingsRepo) GetDefault(ctx context.Context, tx db.Transaction) (*models.Settings, error) {
	row := tx.QueryRow(ctx, `SELECT COALESCE(email, ''), COALESCE(sendgrid_key, ''),
		COALESCE(twilio_sid, ''), COALESCE(twilio_token, ''), COALESCE(twilio_phone, ''),
		COALESCE(telegram_bot, ''), COALESCE(telegram_token, ''),
		COALESCE(push_basic_uri, ''), COALESCE(push_deep_uri, ''), COALESCE(push_key, '')
		FROM settings ORDER BY id LIMIT 1`)

	s := &models.Settings{}
	err := row.Scan(&s.Email, &s.SendGridKey, &s.TwilioSid, &s.TwilioToken, &s.TwilioPhone,
		&s.TelegramBot, &s.TelegramToken, &s.PushBasicURI, &s.PushDeepURI, &s.PushKey)
	return s, errors.Wrap(err, "Settings.GetDefault")
}
