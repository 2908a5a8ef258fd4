package models

// Symbol carries the exchange trading rules the sizing math needs:
// tick/step sizes, minimal notional and display precision, with the
// futures variants alongside the spot ones.
type Symbol struct {
	Symbol         string
	Base           string
	Quote          string
	BasePrecision  int
	QuotePrecision int
	TickSize       float64
	StepSize       float64
	MinNotional    float64

	FTickSize    float64
	FStepSize    float64
	FMinNotional float64

	IsActive bool
}

func (s *Symbol) Tick(future bool) float64 {
	if future {
		return s.FTickSize
	}
	return s.TickSize
}

func (s *Symbol) Step(future bool) float64 {
	if future {
		return s.FStepSize
	}
	return s.StepSize
}

func (s *Symbol) Notional(future bool) float64 {
	if future {
		return s.FMinNotional
	}
	return s.MinNotional
}
