// Package models provides the persisted rows of the air-quality reward agent.
package models

import (
	"time"

	"github.com/aqi-agent/internal/types"
)

// Submission is one reported air-quality observation. It is never mutated.
type Submission struct {
	ID          string       `json:"id" db:"id"`
	UserID      string       `json:"userId" db:"user_id"`
	Latitude    string       `json:"latitude" db:"latitude"`
	Longitude   string       `json:"longitude" db:"longitude"`
	AQI         int          `json:"aqi" db:"aqi"`
	Source      types.Source `json:"source" db:"source"`
	Location    *string      `json:"location,omitempty" db:"location"`
	SubmittedAt time.Time    `json:"submittedAt" db:"submitted_at"`
}
