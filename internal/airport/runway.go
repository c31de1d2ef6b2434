package airport

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/livemap/internal/physics"
)

// RunwayEnd is one landing direction of a runway
type RunwayEnd struct {
	Ident           string  `json:"ident"`
	TrueHeading     float64 `json:"heading_true"`
	MagneticHeading float64 `json:"heading_magnetic"`
	HeadingValid    bool    `json:"heading_valid"`
}

// Runway is a runway record from the runway dataset
type Runway struct {
	AirportIdent string    `json:"airport_ident"`
	LengthFt     int       `json:"length_ft"`
	WidthFt      int       `json:"width_ft"`
	Surface      string    `json:"surface"`
	Lighted      bool      `json:"lighted"`
	Closed       bool      `json:"closed"`
	LE           RunwayEnd `json:"le"`
	HE           RunwayEnd `json:"he"`
}

// RunwayChoice is the runway end best aligned with the wind
type RunwayChoice struct {
	Runway    Runway    `json:"runway"`
	End       RunwayEnd `json:"end"`
	Delta     float64   `json:"delta"`
	Headwind  float64   `json:"headwind_kt"`
	Crosswind float64   `json:"crosswind_kt"`
}

// BestRunway picks the open runway end whose heading is closest to the wind direction.
// Ties keep the first end enumerated, low end before high end, in dataset order.
// It returns false when no runway dataset is attached or no end has a heading.
func (a *Airport) BestRunway(windDirDeg int) (RunwayChoice, bool) {
	a.mu.RLock()
	runways := a.runways
	speed := float64(a.metar.WindSpeedKt)
	a.mu.RUnlock()

	return bestRunway(runways, float64(windDirDeg), speed)
}

// BestRunway runs the same selection on a copied state using its observed wind
func (s State) BestRunway() (RunwayChoice, bool) {
	speed := 0.0
	if s.METAR != nil {
		speed = float64(s.METAR.WindSpeedKt)
	}
	return bestRunway(s.Runways, float64(s.WindDirDegrees()), speed)
}

func bestRunway(runways []Runway, windDir, windSpeed float64) (RunwayChoice, bool) {
	var (
		best  RunwayChoice
		found bool
	)
	for _, rwy := range runways {
		if rwy.Closed {
			continue
		}
		for _, end := range []RunwayEnd{rwy.LE, rwy.HE} {
			if !end.HeadingValid {
				continue
			}
			delta := physics.AngularDelta(end.TrueHeading, windDir)
			if found && delta >= best.Delta {
				continue
			}
			head, cross := physics.WindComponents(windDir, windSpeed, end.TrueHeading)
			best = RunwayChoice{Runway: rwy, End: end, Delta: delta, Headwind: head, Crosswind: cross}
			found = true
		}
	}
	return best, found
}

// headingFromIdent derives a true-ish heading from a runway designator such as "16L"
func headingFromIdent(ident string) (float64, bool) {
	digits := strings.TrimRight(strings.ToUpper(ident), "LCRWT")
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 || n > 36 {
		return 0, false
	}
	return float64(n * 10 % 360), true
}

// applyDeclination fills magnetic headings for every end with a known true heading.
// A failed field computation leaves magnetic equal to true.
func applyDeclination(runways []Runway, declination float64) {
	for i := range runways {
		for _, end := range []*RunwayEnd{&runways[i].LE, &runways[i].HE} {
			if !end.HeadingValid {
				continue
			}
			end.MagneticHeading = math.Round(physics.TrueToMagnetic(end.TrueHeading, declination)*10) / 10
		}
	}
}

// Declination returns the magnetic declination at the airport, or zero with an error
// when coordinates are invalid or the field model rejects the date
func (s State) Declination(at time.Time) (float64, error) {
	if !s.ValidCoordinates {
		return 0, errInvalidCoordinates
	}
	return physics.MagneticVariation(s.Latitude, s.Longitude, s.ElevationFt, at)
}
