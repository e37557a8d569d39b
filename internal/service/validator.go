package service

import (
	"fmt"
	"strings"

	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/types"
	"github.com/shopspring/decimal"
)

// Coordinates are plain decimals. Exponent notation and oversized text are
// refused before parsing since comparing a huge exponent allocates 10^exp.
const (
	maxCoordinateLen      = 32
	minCoordinateExponent = -20
)

var (
	minLatitude  = decimal.NewFromInt(-90)
	maxLatitude  = decimal.NewFromInt(90)
	minLongitude = decimal.NewFromInt(-180)
	maxLongitude = decimal.NewFromInt(180)
)

// Reading is one raw air-quality observation as reported by a user.
// Coordinates stay decimal strings so no precision is lost before storage.
type Reading struct {
	Latitude  string
	Longitude string
	AQI       int
	Source    types.Source // empty means the configured default
	Location  *string
}

// ValidateReading checks a reading for domain validity and fills in the
// default source. It has no side effects.
func ValidateReading(r Reading, defaultSource types.Source) (Reading, error) {
	if r.AQI < types.MinAQI || r.AQI > types.MaxAQI {
		return r, apperrors.NewInvalidReadingError("aqi",
			fmt.Sprintf("AQI must be between %d and %d, got %d", types.MinAQI, types.MaxAQI, r.AQI))
	}

	if err := validateCoordinate("latitude", r.Latitude, minLatitude, maxLatitude); err != nil {
		return r, err
	}
	if err := validateCoordinate("longitude", r.Longitude, minLongitude, maxLongitude); err != nil {
		return r, err
	}

	if r.Source == "" {
		r.Source = defaultSource
	}
	if !r.Source.Valid() {
		return r, apperrors.NewInvalidReadingError("source",
			fmt.Sprintf("unknown source %q", r.Source))
	}

	return r, nil
}

func validateCoordinate(field, value string, lo, hi decimal.Decimal) error {
	if value == "" {
		return apperrors.NewInvalidReadingError(field, field+" is required")
	}

	if len(value) > maxCoordinateLen {
		return apperrors.NewInvalidReadingError(field,
			fmt.Sprintf("%s must be at most %d characters", field, maxCoordinateLen))
	}
	if strings.ContainsAny(value, "eE") {
		return apperrors.NewInvalidReadingError(field,
			fmt.Sprintf("%s %q must be a plain decimal without exponent", field, value))
	}

	d, err := decimal.NewFromString(value)
	if err != nil || d.Exponent() < minCoordinateExponent || d.Exponent() > 0 {
		return apperrors.NewInvalidReadingError(field,
			fmt.Sprintf("%s %q is not a decimal number", field, value))
	}
	if d.LessThan(lo) || d.GreaterThan(hi) {
		return apperrors.NewInvalidReadingError(field,
			fmt.Sprintf("%s must be between %s and %s, got %s", field, lo, hi, value))
	}
	return nil
}
