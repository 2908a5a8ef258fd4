package models

// Result is the outcome of a single executed action, the shape the
// evaluator returns and the stream hub fans out.
type Result struct {
	Type  string         `json:"type"` // success | error
	Text  string         `json:"text"`
	Order *Order         `json:"order,omitempty"`
}

func Success(text string) Result { return Result{Type: "success", Text: text} }
func Errorf(format string, args ...interface{}) Result {
	return Result{Type: "error", Text: sprintf(format, args...)}
}

func (r Result) IsError() bool { return r.Type == "error" }

// Order is a persisted exchange order, also written to memory as the
// owner's LAST_ORDER fact after normalization.
type Order struct {
	ID            int64
	AutomationID  int64
	UserID        int64
	Symbol        string
	OrderID       int64
	ClientOrderID string
	Side          OrderSide
	Type          OrderType
	Status        string
	Quantity      float64
	LimitPrice    float64
	StopPrice     float64
	AvgPrice      float64
	Commission    float64
	Net           float64
	IsMaker       bool
	TransactTime  int64

	// Futures only.
	ReduceOnly    *bool
	PositionSide  string
	ClosePosition bool
	PriceRate     float64
	ActivatePrice float64
}
