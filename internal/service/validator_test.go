package service

import (
	"strconv"
	"strings"
	"testing"
	"time"

	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReading() Reading {
	return Reading{Latitude: "37.7749", Longitude: "-122.4194", AQI: 42}
}

func TestValidateReading(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *Reading)
		wantField string
	}{
		{"valid", func(r *Reading) {}, ""},
		{"aqi lower bound", func(r *Reading) { r.AQI = 0 }, ""},
		{"aqi upper bound", func(r *Reading) { r.AQI = 500 }, ""},
		{"negative aqi", func(r *Reading) { r.AQI = -5 }, "aqi"},
		{"aqi above range", func(r *Reading) { r.AQI = 501 }, "aqi"},
		{"missing latitude", func(r *Reading) { r.Latitude = "" }, "latitude"},
		{"malformed latitude", func(r *Reading) { r.Latitude = "north" }, "latitude"},
		{"latitude out of range", func(r *Reading) { r.Latitude = "90.0001" }, "latitude"},
		{"latitude edge", func(r *Reading) { r.Latitude = "-90" }, ""},
		{"missing longitude", func(r *Reading) { r.Longitude = "" }, "longitude"},
		{"longitude out of range", func(r *Reading) { r.Longitude = "-180.5" }, "longitude"},
		{"exponent latitude", func(r *Reading) { r.Latitude = "1e100000000" }, "latitude"},
		{"small exponent latitude", func(r *Reading) { r.Latitude = "1E-100000000" }, "latitude"},
		{"exponent longitude", func(r *Reading) { r.Longitude = "-1.5e2" }, "longitude"},
		{"oversized latitude", func(r *Reading) { r.Latitude = "1." + strings.Repeat("0", 40) }, "latitude"},
		{"too many decimals", func(r *Reading) { r.Latitude = "0.000000000000000000001" }, "latitude"},
		{"unknown source", func(r *Reading) { r.Source = "random_blog" }, "source"},
		{"trusted source", func(r *Reading) { r.Source = types.SourceOpenWeatherMap }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReading()
			tt.mutate(&r)

			_, err := ValidateReading(r, types.SourceSelfReported)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			catErr := apperrors.Categorize(err)
			assert.Equal(t, apperrors.CodeInvalidReading, catErr.Code)
			assert.Equal(t, tt.wantField, catErr.Details["field"])
		})
	}
}

func TestValidateReadingHugeExponentIsFast(t *testing.T) {
	start := time.Now()
	for _, lat := range []string{"1e100000000", "9e2147483647", "1e-2147483648"} {
		r := validReading()
		r.Latitude = lat
		_, err := ValidateReading(r, types.SourceSelfReported)
		require.Error(t, err, lat)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestValidateReadingDefaultsSource(t *testing.T) {
	got, err := ValidateReading(validReading(), types.SourceSelfReported)
	require.NoError(t, err)
	assert.Equal(t, types.SourceSelfReported, got.Source)
	assert.Equal(t, "37.7749", got.Latitude, "coordinate text is kept as given")
}

func TestValidateReadingAQIProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("aqi is accepted exactly inside [0, 500]", prop.ForAll(
		func(aqi int) bool {
			r := validReading()
			r.AQI = aqi
			_, err := ValidateReading(r, types.SourceSelfReported)
			inRange := aqi >= types.MinAQI && aqi <= types.MaxAQI
			return (err == nil) == inRange
		},
		gen.IntRange(-1000, 1000),
	))

	properties.Property("latitude is accepted exactly inside [-90, 90]", prop.ForAll(
		func(lat float64) bool {
			r := validReading()
			r.Latitude = formatCoordinate(lat)
			rounded, _ := strconv.ParseFloat(r.Latitude, 64)
			_, err := ValidateReading(r, types.SourceSelfReported)
			return (err == nil) == (rounded >= -90 && rounded <= 90)
		},
		gen.Float64Range(-200, 200),
	))

	properties.TestingRun(t)
}
