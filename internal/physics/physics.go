package physics

import (
	"fmt"
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	FeetToMeters  = 0.3048
	EarthRadiusNM = 3440.065
)

// NormalizeHeading folds a heading in degrees into [0, 360)
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// AngularDelta returns the smallest angle between two headings, in [0, 180]
func AngularDelta(a, b float64) float64 {
	d := math.Abs(NormalizeHeading(a) - NormalizeHeading(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// WindComponents splits a wind into its headwind and crosswind components relative to a
// runway heading. Wind direction is where the wind blows from; a negative headwind is a
// tailwind and a positive crosswind comes from the right.
func WindComponents(windDirDeg, windSpeedKt, runwayHeadingDeg float64) (headwind, crosswind float64) {
	rad := (windDirDeg - runwayHeadingDeg) * math.Pi / 180
	return windSpeedKt * math.Cos(rad), windSpeedKt * math.Sin(rad)
}

// DistanceNM returns the great circle distance between two positions in nautical miles
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	return EarthRadiusNM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// MagneticVariation calculates the magnetic declination for a given position and time
// Returns declination in degrees (+East, -West)
func MagneticVariation(lat, lon, altFt float64, date time.Time) (float64, error) {
	loc := egm96.NewLocationGeodetic(lat, lon, altFt*FeetToMeters)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		return 0, fmt.Errorf("magnetic field at %.4f,%.4f: %w", lat, lon, err)
	}
	return mag.D(), nil
}

// TrueToMagnetic converts a true heading to magnetic given an east-positive declination
func TrueToMagnetic(trueDeg, declination float64) float64 {
	return NormalizeHeading(trueDeg - declination)
}
