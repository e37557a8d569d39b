package service

import (
	"strconv"
	"testing"

	"github.com/aqi-agent/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func TestCalculateReward(t *testing.T) {
	tests := []struct {
		aqi    int
		tokens int64
		label  string
	}{
		{0, 50, "Excellent"},
		{20, 50, "Excellent"},
		{25, 50, "Excellent"},
		{26, 35, "Good"},
		{50, 35, "Good"},
		{51, 20, "Moderate"},
		{100, 20, "Moderate"},
		{101, 10, "Unhealthy for Sensitive Groups"},
		{150, 10, "Unhealthy for Sensitive Groups"},
		{151, 5, "Unhealthy"},
		{175, 5, "Unhealthy"},
		{200, 5, "Unhealthy"},
		{201, 3, "Very Unhealthy"},
		{500, 3, "Very Unhealthy"},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.aqi), func(t *testing.T) {
			tier, err := CalculateReward(tt.aqi)
			require.NoError(t, err)
			assert.Equal(t, tt.tokens, tier.Tokens)
			assert.Equal(t, tt.label, tier.Label)
		})
	}
}

func TestCalculateRewardOutOfRange(t *testing.T) {
	_, err := CalculateReward(-1)
	assert.Error(t, err)
	_, err = CalculateReward(501)
	assert.Error(t, err)
}

func TestTiersCoverDomain(t *testing.T) {
	expected := types.MinAQI
	for _, tier := range Tiers {
		assert.Equal(t, expected, tier.MinAQI, "tiers must be contiguous")
		assert.GreaterOrEqual(t, tier.MaxAQI, tier.MinAQI)
		expected = tier.MaxAQI + 1
	}
	assert.Equal(t, types.MaxAQI+1, expected)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 100, Score(false))
	assert.Equal(t, 100, Score(true), "consistency bonus is capped")
}

func TestRewardMonotonicProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("reward never increases with pollution", prop.ForAll(
		func(a, b int) bool {
			if a > b {
				a, b = b, a
			}
			ta, errA := CalculateReward(a)
			tb, errB := CalculateReward(b)
			if errA != nil || errB != nil {
				return false
			}
			if ta.Label == tb.Label {
				return ta.Tokens == tb.Tokens
			}
			return ta.Tokens >= tb.Tokens
		},
		gen.IntRange(types.MinAQI, types.MaxAQI),
		gen.IntRange(types.MinAQI, types.MaxAQI),
	))

	properties.TestingRun(t)
}
