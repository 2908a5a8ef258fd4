package models

import "strings"

type ActionType string

const (
	ActionAlertEmail    ActionType = "ALERT_EMAIL"
	ActionAlertSMS      ActionType = "ALERT_SMS"
	ActionAlertTelegram ActionType = "ALERT_TELEGRAM"
	ActionOrder         ActionType = "ORDER"
	ActionWithdraw      ActionType = "WITHDRAW"
	ActionGrid          ActionType = "GRID"
	ActionTrailing      ActionType = "TRAILING"
)

// Automation is a user-owned reactive rule: a boolean condition over
// memory keys plus an ordered action list. Reactive automations list
// the memory keys they depend on in Indexes (comma separated);
// scheduled automations carry a cron spec or a date in Schedule and
// never react to memory updates.
type Automation struct {
	ID         int64
	UserID     int64
	Name       string
	Symbol     string
	Indexes    string
	Conditions string
	Schedule   string
	IsActive   bool
	Logs       bool

	Actions []Action
	Grids   []Grid

	// Test marks the automation as running against an isolated
	// backtest store; orders are simulated, never submitted.
	Test bool
}

func (a *Automation) IndexList() []string {
	if a.Indexes == "" {
		return nil
	}
	parts := strings.Split(a.Indexes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Reactive reports whether the automation may fire on memory updates.
// An automation with no indexes and no schedule never fires.
func (a *Automation) Reactive() bool {
	return a.Schedule == "" && len(a.IndexList()) > 0
}

type Action struct {
	ID                 int64
	AutomationID       int64
	Type               ActionType
	OrderTemplateID    int64
	WithdrawTemplateID int64

	OrderTemplate    *OrderTemplate
	WithdrawTemplate *WithdrawTemplate
}

type Grid struct {
	ID              int64
	AutomationID    int64
	OrderTemplateID int64
	Conditions      string

	OrderTemplate *OrderTemplate
}
