package weather

import (
	"errors"
	"fmt"
	"strings"
)

// Category is an airport flight category
type Category string

const (
	CategoryVFR     Category = "VFR"
	CategoryMVFR    Category = "MVFR"
	CategoryIFR     Category = "IFR"
	CategoryLIFR    Category = "LIFR"
	CategoryUnknown Category = "UNKN"
	CategoryOff     Category = "OFF"
	CategoryOld     Category = "OLD"
)

// Category thresholds, ceiling in feet AGL and visibility in statute miles
const (
	lifrCeilingFt   = 500
	ifrCeilingFt    = 1000
	mvfrCeilingFt   = 3000
	lifrVisibilityM = 1.0
	ifrVisibilityM  = 3.0
	mvfrVisibilityM = 5.0
)

// UnlimitedCeilingFt stands in for "no ceiling" so that clear skies never constrain the category
const UnlimitedCeilingFt = 100000

// ErrLayerWithoutHeight is returned when a cloud layer that needs a base height has none
var ErrLayerWithoutHeight = errors.New("cloud layer without height")

// ParseCategory maps feed text onto a Category. The feed spelling "UNKNOWN" is accepted.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VFR":
		return CategoryVFR, true
	case "MVFR":
		return CategoryMVFR, true
	case "IFR":
		return CategoryIFR, true
	case "LIFR":
		return CategoryLIFR, true
	case "UNKN", "UNKNOWN":
		return CategoryUnknown, true
	case "OFF":
		return CategoryOff, true
	case "OLD":
		return CategoryOld, true
	default:
		return CategoryUnknown, false
	}
}

// Severity orders the four weather categories, higher is worse. Other categories rank zero.
func (c Category) Severity() int {
	switch c {
	case CategoryVFR:
		return 1
	case CategoryMVFR:
		return 2
	case CategoryIFR:
		return 3
	case CategoryLIFR:
		return 4
	default:
		return 0
	}
}

// Classify maps a ceiling and a visibility onto a flight category.
// Either value missing yields CategoryUnknown; otherwise the first matching band wins,
// checked from LIFR up to VFR.
func Classify(ceiling, visibility Measurement) Category {
	if !ceiling.Valid || !visibility.Valid {
		return CategoryUnknown
	}
	c, v := ceiling.Value, visibility.Value

	switch {
	case v < lifrVisibilityM || c < lifrCeilingFt:
		return CategoryLIFR
	case v < ifrVisibilityM || c < ifrCeilingFt:
		return CategoryIFR
	case v <= mvfrVisibilityM || c <= mvfrCeilingFt:
		return CategoryMVFR
	default:
		return CategoryVFR
	}
}

// SkyLayer is a single reported or forecast cloud layer
type SkyLayer struct {
	Cover  string      `json:"sky_cover"`
	BaseFt Measurement `json:"cloud_base_ft_agl"`
}

// IsClear reports whether the cover code means there is no cloud at all
func (l SkyLayer) IsClear() bool {
	switch strings.ToUpper(l.Cover) {
	case "CLR", "SKC", "NSC", "NCD", "CAVOK":
		return true
	}
	return false
}

// IsCeiling reports whether the cover code forms a ceiling (broken, overcast or obscured)
func (l SkyLayer) IsCeiling() bool {
	switch strings.ToUpper(l.Cover) {
	case "BKN", "OVC", "OVX", "VV":
		return true
	}
	return false
}

// CeilingFromLayers scans layers lowest first and returns the base of the first ceiling layer.
// A clear-sky code short-circuits to UnlimitedCeilingFt, as does a list without any ceiling.
// A non-clear layer lacking a base height is reported as ErrLayerWithoutHeight.
// An empty list yields a missing ceiling.
func CeilingFromLayers(layers []SkyLayer) (Measurement, error) {
	if len(layers) == 0 {
		return Missing(), nil
	}

	for _, layer := range layers {
		if layer.IsClear() {
			return Known(UnlimitedCeilingFt), nil
		}
		if !layer.BaseFt.Valid {
			return Missing(), fmt.Errorf("%w: %s", ErrLayerWithoutHeight, layer.Cover)
		}
		if layer.IsCeiling() {
			return layer.BaseFt, nil
		}
	}
	return Known(UnlimitedCeilingFt), nil
}

// forecastCeiling applies the forecast rules: the first ceiling layer wins, a ceiling layer
// without its own base borrows the vertical visibility, and failing that is treated as high cloud.
func forecastCeiling(layers []SkyLayer, vertVis Measurement) Measurement {
	for _, layer := range layers {
		if !layer.IsCeiling() {
			continue
		}
		if layer.BaseFt.Valid {
			return layer.BaseFt
		}
		if vertVis.Valid {
			return vertVis
		}
		return Known(forecastDefaultBaseFt)
	}
	return Known(UnlimitedCeilingFt)
}

// ClassifyForecast computes the category of one forecast period. Missing visibility and
// missing ceilings never constrain a forecast, so the result is always one of the four bands.
func ClassifyForecast(layers []SkyLayer, vertVis, visibility Measurement) (Category, Measurement) {
	ceiling := forecastCeiling(layers, vertVis)
	if !visibility.Valid {
		visibility = Known(forecastDefaultVisibilityMi)
	}
	return Classify(ceiling, visibility), ceiling
}
