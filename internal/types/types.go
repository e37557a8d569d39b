// Package types provides common type definitions for the air-quality reward agent.
package types

import "time"

// VerificationStatus represents the lifecycle state of a verification
type VerificationStatus string

const (
	// StatusPending represents a verification awaiting a deferred scoring pass
	StatusPending VerificationStatus = "pending"
	// StatusVerified represents an accepted submission that earned a token grant
	StatusVerified VerificationStatus = "verified"
	// StatusRejected represents a submission that earned nothing
	StatusRejected VerificationStatus = "rejected"
)

// IsTerminal reports whether the status can no longer change
func (s VerificationStatus) IsTerminal() bool {
	return s == StatusVerified || s == StatusRejected
}

// Valid reports whether s is a known status
func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected:
		return true
	}
	return false
}

// Source identifies where a reading came from
type Source string

const (
	// SourceSelfReported is the default for readings entered without a provider
	SourceSelfReported Source = "self_reported"
	// SourceOpenWeatherMap represents readings fetched from OpenWeatherMap
	SourceOpenWeatherMap Source = "openweathermap"
	// SourceUserManual represents readings typed in by the user from a local display
	SourceUserManual Source = "user_manual"
	// SourceSensorNetwork represents readings relayed from a sensor network
	SourceSensorNetwork Source = "sensor_network"
)

// TrustedSources lists every accepted source tag
var TrustedSources = []Source{
	SourceSelfReported,
	SourceOpenWeatherMap,
	SourceUserManual,
	SourceSensorNetwork,
}

// Valid reports whether s is one of the trusted sources
func (s Source) Valid() bool {
	for _, src := range TrustedSources {
		if s == src {
			return true
		}
	}
	return false
}

// RejectionCode classifies why a submission earned nothing
type RejectionCode string

const (
	// RejectInvalidReading marks malformed or out-of-range input
	RejectInvalidReading RejectionCode = "INVALID_READING"
	// RejectTooSoon marks a submission inside the rate-limit window
	RejectTooSoon RejectionCode = "TOO_SOON"
)

// Scoring constants shared by the agent and its storage layers
const (
	// MinAQI is the lowest accepted pollutant index
	MinAQI = 0
	// MaxAQI is the highest accepted pollutant index
	MaxAQI = 500
	// MaxScore caps the verification score
	MaxScore = 100
	// InvalidReadingScore is reported for data-invalid rejections
	InvalidReadingScore = 0
	// TooSoonScore is reported for rate-limited rejections
	TooSoonScore = 90
	// ConsistencyBonus is added for users with a prior verified submission
	ConsistencyBonus = 5
)

// DefaultMinInterval is the minimum time between two verified submissions of a user
const DefaultMinInterval = time.Hour

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
