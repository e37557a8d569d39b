package models

import (
	"testing"

	"github.com/aqi-agent/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name          string
		verifications []*Verification
		want          VerificationStats
	}{
		{
			name: "empty history",
			want: VerificationStats{},
		},
		{
			name: "verified and rate limited",
			verifications: []*Verification{
				{Status: types.StatusVerified, Score: 100, TokensAwarded: 50},
				{Status: types.StatusRejected, Score: 90},
			},
			want: VerificationStats{
				TotalSubmissions:         2,
				VerifiedSubmissions:      1,
				TotalTokensAwarded:       50,
				AverageVerificationScore: 95,
			},
		},
		{
			name: "average rounds half up",
			verifications: []*Verification{
				{Status: types.StatusVerified, Score: 100, TokensAwarded: 5},
				{Status: types.StatusVerified, Score: 100, TokensAwarded: 3},
				{Status: types.StatusRejected, Score: 90},
				{Status: types.StatusRejected, Score: 91},
			},
			// (100+100+90+91)/4 = 95.25
			want: VerificationStats{
				TotalSubmissions:         4,
				VerifiedSubmissions:      2,
				TotalTokensAwarded:       8,
				AverageVerificationScore: 95,
			},
		},
		{
			name: "exact half rounds up",
			verifications: []*Verification{
				{Status: types.StatusVerified, Score: 100, TokensAwarded: 20},
				{Status: types.StatusRejected, Score: 91},
			},
			// 95.5
			want: VerificationStats{
				TotalSubmissions:         2,
				VerifiedSubmissions:      1,
				TotalTokensAwarded:       20,
				AverageVerificationScore: 96,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStats(tt.verifications)
			assert.Equal(t, tt.want, *got)
		})
	}
}
