package domain

import "time"

type RegimeType string

const (
	RegimeTrendingUp   RegimeType = "trending-up"
	RegimeTrendingDown RegimeType = "trending-down"
	RegimeRanging      RegimeType = "ranging"
	RegimeVolatile     RegimeType = "volatile"
	RegimeChoppy       RegimeType = "choppy"
)

type VolatilityBucket string

const (
	VolatilityLow      VolatilityBucket = "low"
	VolatilityModerate VolatilityBucket = "moderate"
	VolatilityHigh     VolatilityBucket = "high"
)

// RegimeAssessment is the classifier's view of the market, recomputed on a
// fixed cadence rather than on every tick.
type RegimeAssessment struct {
	Type                RegimeType       `json:"type"`
	Confidence          float64          `json:"confidence"` // 0..100
	RecommendedStrategy string           `json:"recommendedStrategy"`
	TrendScore          float64          `json:"trendScore"` // 0..100
	Volatility          VolatilityBucket `json:"volatility"`
	Ranging             bool             `json:"ranging"`
	EvaluatedAt         time.Time        `json:"evaluatedAt"`
}

// RegimeChange reports a reclassification, including whether the
// recommended strategy actually changed.
type RegimeChange struct {
	Previous         RegimeType `json:"previous"`
	Current          RegimeType `json:"current"`
	PreviousStrategy string     `json:"previousStrategy"`
	CurrentStrategy  string     `json:"currentStrategy"`
	SwitchStrategy   bool       `json:"switchStrategy"`
}
