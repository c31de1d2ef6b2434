package weather

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// MissingText is the fallback for text fields absent from a feed
const MissingText = "Missing"

// Forecast fallbacks. An unparseable forecast visibility is assumed unrestrictive,
// unlike observations where it stays missing.
const (
	forecastDefaultVisibilityMi = 10
	forecastDefaultBaseFt       = 60000
)

// Measurement is a numeric feed value that may be missing
type Measurement struct {
	Value float64
	Valid bool
}

// Known wraps a present value
func Known(v float64) Measurement {
	return Measurement{Value: v, Valid: true}
}

// Missing returns the missing sentinel
func Missing() Measurement {
	return Measurement{}
}

// Int returns the value truncated to an int, or fallback when missing
func (m Measurement) Int(fallback int) int {
	if !m.Valid {
		return fallback
	}
	return int(m.Value)
}

func (m Measurement) String() string {
	if !m.Valid {
		return MissingText
	}
	return strconv.FormatFloat(m.Value, 'f', -1, 64)
}

// MarshalJSON renders a number, or the missing sentinel text
func (m Measurement) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return json.Marshal(MissingText)
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts a number, a numeric string or the missing sentinel
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*m = Known(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = FloatField(&s)
	return nil
}

// TextField returns the trimmed text, or MissingText when absent
func TextField(raw *string) string {
	if raw == nil {
		return MissingText
	}
	return strings.TrimSpace(*raw)
}

// IntField parses an integer feed value. Absent or non-numeric text (for example "VRB")
// degrades to zero; ok is false whenever the fallback was used.
func IntField(raw *string) (value int, ok bool) {
	if raw == nil {
		return 0, false
	}
	s := strings.TrimSpace(*raw)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	// feeds occasionally write integral values as "10.0"
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f), true
	}
	return 0, false
}

// FloatField parses a float feed value, yielding the missing sentinel on absence or failure
func FloatField(raw *string) Measurement {
	if raw == nil {
		return Missing()
	}
	s := strings.TrimSpace(*raw)
	if s == "" || strings.EqualFold(s, MissingText) {
		return Missing()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Missing()
	}
	return Known(f)
}

// VisibilityField parses a statute mile visibility. The "at least" idiom ("6+", "10+")
// is read as its number.
func VisibilityField(raw *string) Measurement {
	if raw == nil {
		return Missing()
	}
	s := strings.TrimSuffix(strings.TrimSpace(*raw), "+")
	return FloatField(&s)
}

// ForecastVisibilityField parses a forecast visibility; present but unparseable text
// becomes the unrestrictive default instead of missing.
func ForecastVisibilityField(raw *string) (Measurement, bool) {
	if raw == nil {
		return Missing(), true
	}
	if m := VisibilityField(raw); m.Valid {
		return m, true
	}
	return Known(forecastDefaultVisibilityMi), false
}
