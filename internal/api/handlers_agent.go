package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aqi-agent/internal/auth"
	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/logging"
	"github.com/aqi-agent/internal/service"
	"github.com/aqi-agent/internal/types"
)

// handleSubmit handles POST /api/agent/submit
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	userID, _ := auth.UserIDFromContext(r.Context())

	var req SubmitRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondAppError(w, logger, apperrors.NewInvalidParameterError("body", err.Error()))
		return
	}

	aqi, field, reason := parseAQI(req.AQI)
	if reason != "" {
		respondRejected(w, service.Rejected{
			Code:   types.RejectInvalidReading,
			Reason: reason,
			Score:  types.InvalidReadingScore,
			Field:  field,
		})
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, err := s.agent.Submit(ctx, userID, service.Reading{
		Latitude:  string(req.Latitude),
		Longitude: string(req.Longitude),
		AQI:       aqi,
		Source:    types.Source(req.Source),
		Location:  req.Location,
	})
	if err != nil {
		respondAppError(w, logger, err)
		return
	}

	switch res := result.(type) {
	case service.Accepted:
		respondJSON(w, http.StatusOK, SubmitResponse{
			Success:        true,
			Message:        fmt.Sprintf("Verified: %s air quality, %d tokens awarded", res.Tier.Label, res.Tokens),
			TokensAwarded:  res.Tokens,
			Score:          res.Score,
			VerificationID: res.VerificationID,
			QualityLabel:   res.Tier.Label,
		})
	case service.Rejected:
		respondRejected(w, res)
	default:
		respondAppError(w, logger, apperrors.NewInternalError(fmt.Sprintf("unexpected result %T", result), nil))
	}
}

// parseAQI requires an integral JSON number; range checks belong to the validator.
// A non-empty reason means the value is unusable.
func parseAQI(raw json.RawMessage) (int, string, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, "aqi", "aqi is required"
	}
	v, err := strconv.ParseInt(string(raw), 10, 32)
	if err != nil {
		return 0, "aqi", fmt.Sprintf("aqi must be an integer, got %s", truncate(string(raw), 32))
	}
	return int(v), "", ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func respondRejected(w http.ResponseWriter, res service.Rejected) {
	catErr := res.Err()
	body := SubmitResponse{
		Success:        false,
		Message:        res.Reason,
		Score:          res.Score,
		VerificationID: res.VerificationID,
		Code:           catErr.Code,
	}
	if res.RetryAfter > 0 {
		seconds := int64((res.RetryAfter + time.Second - 1) / time.Second)
		body.RetryAfter = seconds
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	respondJSON(w, catErr.StatusCode, body)
}

// handleStats handles GET /api/agent/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	ctx, cancel := s.requestContext(r)
	defer cancel()

	stats, err := s.agent.Stats(ctx, userID)
	if err != nil {
		respondAppError(w, logging.FromContext(r.Context()), err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleVerifications handles GET /api/agent/verifications
func (s *Server) handleVerifications(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	ctx, cancel := s.requestContext(r)
	defer cancel()

	verifications, err := s.agent.Verifications(ctx, userID)
	if err != nil {
		respondAppError(w, logging.FromContext(r.Context()), err)
		return
	}
	respondJSON(w, http.StatusOK, VerificationsResponse{Verifications: verifications})
}
