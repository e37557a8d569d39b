package service

import (
	"fmt"

	"github.com/aqi-agent/internal/types"
)

// Tier maps a contiguous AQI range to a fixed reward
type Tier struct {
	MinAQI int
	MaxAQI int
	Tokens int64
	Label  string
}

// Tiers is evaluated top-down; the first tier containing the AQI wins.
// Bounds are inclusive on both edges.
var Tiers = []Tier{
	{MinAQI: 0, MaxAQI: 25, Tokens: 50, Label: "Excellent"},
	{MinAQI: 26, MaxAQI: 50, Tokens: 35, Label: "Good"},
	{MinAQI: 51, MaxAQI: 100, Tokens: 20, Label: "Moderate"},
	{MinAQI: 101, MaxAQI: 150, Tokens: 10, Label: "Unhealthy for Sensitive Groups"},
	{MinAQI: 151, MaxAQI: 200, Tokens: 5, Label: "Unhealthy"},
	{MinAQI: 201, MaxAQI: 500, Tokens: 3, Label: "Very Unhealthy"},
}

// CalculateReward returns the tier an AQI falls in
func CalculateReward(aqi int) (Tier, error) {
	for _, tier := range Tiers {
		if aqi >= tier.MinAQI && aqi <= tier.MaxAQI {
			return tier, nil
		}
	}
	return Tier{}, fmt.Errorf("no reward tier for AQI %d", aqi)
}

// Score returns the verification score of an accepted submission.
// Users with a prior verified submission get the consistency bonus, capped at MaxScore.
func Score(hasPriorVerified bool) int {
	score := types.MaxScore
	if hasPriorVerified {
		score += types.ConsistencyBonus
	}
	if score > types.MaxScore {
		score = types.MaxScore
	}
	return score
}
