package api

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Coordinate accepts a JSON string or number and keeps its decimal text.
// Any other JSON value is kept as its raw text, which the validator rejects
// as an invalid reading.
type Coordinate string

// UnmarshalJSON implements json.Unmarshaler
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Coordinate(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		*c = Coordinate(data)
		return nil
	}
	*c = Coordinate(n.String())
	return nil
}

// SubmitRequest is the body of POST /api/agent/submit
type SubmitRequest struct {
	Latitude  Coordinate      `json:"latitude"`
	Longitude Coordinate      `json:"longitude"`
	AQI       json.RawMessage `json:"aqi"`
	Location  *string         `json:"location,omitempty"`
	Source    string          `json:"source,omitempty"`
}

// SubmitResponse is the body of a submit call, accepted or rejected
type SubmitResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	TokensAwarded  int64  `json:"tokensAwarded"`
	Score          int    `json:"score"`
	VerificationID string `json:"verificationId,omitempty"`
	QualityLabel   string `json:"qualityLabel,omitempty"`
	Code           string `json:"code,omitempty"`
	RetryAfter     int64  `json:"retryAfter,omitempty"`
}

// VerificationsResponse is the body of GET /api/agent/verifications
type VerificationsResponse struct {
	Verifications interface{} `json:"verifications"`
}

// BalanceResponse is the body of GET /api/tokens/balance
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// GrantsResponse is the body of GET /api/tokens/grants
type GrantsResponse struct {
	Grants interface{} `json:"grants"`
}
