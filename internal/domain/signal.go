package domain

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// IndicatorReading is one indicator's opinion on the current window.
// Valid is false when the window was too short to compute the value.
type IndicatorReading struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Valid    bool    `json:"valid"`
	Signal   Action  `json:"signal"`
	Strength float64 `json:"strength"` // 0..1
}

// Signal is a composed buy/sell/hold decision. Produced fresh on every
// evaluation, never mutated.
type Signal struct {
	Action     Action             `json:"action"`
	Confidence float64            `json:"confidence"` // 0..100
	Reason     string             `json:"reason"`
	Readings   []IndicatorReading `json:"readings,omitempty"`
}

// Hold returns a neutral signal with the given reason.
func Hold(reason string) Signal {
	return Signal{Action: ActionHold, Confidence: 0, Reason: reason}
}
