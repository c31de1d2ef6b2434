package airport

import (
	"fmt"
	"strings"
)

// SourceKind enumerates where an airport's weather comes from
type SourceKind int

const (
	// SourcePrimary reads the station from the bulk METAR feed
	SourcePrimary SourceKind = iota
	// SourceNeighbor borrows another station's observation
	SourceNeighbor
	// SourceDirect queries the single-station text service
	SourceDirect
	// SourceDisabled turns weather off for the airport
	SourceDisabled
)

// Configuration spellings of the weather sources
const (
	sourcePrimaryText  = "adds"
	sourceDirectText   = "usa-metar"
	sourceDisabledText = "off"
	sourceNeighborText = "neighbor:"
)

// WeatherSource selects how an airport obtains its observation. The zero value is Primary.
type WeatherSource struct {
	kind     SourceKind
	neighbor string
}

// Primary returns the bulk feed source
func Primary() WeatherSource { return WeatherSource{kind: SourcePrimary} }

// Neighbor returns a source borrowing the given station's observation
func Neighbor(icao string) WeatherSource {
	return WeatherSource{kind: SourceNeighbor, neighbor: NormalizeICAO(icao)}
}

// DirectQuery returns the single-station query source
func DirectQuery() WeatherSource { return WeatherSource{kind: SourceDirect} }

// Disabled returns the source that switches weather off
func Disabled() WeatherSource { return WeatherSource{kind: SourceDisabled} }

// ParseWeatherSource parses the configuration text of a weather source
func ParseWeatherSource(s string) (WeatherSource, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == sourcePrimaryText || v == "":
		return Primary(), nil
	case v == sourceDirectText:
		return DirectQuery(), nil
	case v == sourceDisabledText:
		return Disabled(), nil
	case strings.HasPrefix(v, sourceNeighborText):
		icao := strings.TrimPrefix(v, sourceNeighborText)
		if icao == "" {
			return Primary(), fmt.Errorf("neighbor source without station: %q", s)
		}
		return Neighbor(icao), nil
	default:
		return Primary(), fmt.Errorf("unknown weather source %q", s)
	}
}

// Kind returns the source variant
func (s WeatherSource) Kind() SourceKind { return s.kind }

// NeighborICAO returns the borrowed station for Neighbor sources and "" otherwise
func (s WeatherSource) NeighborICAO() string { return s.neighbor }

func (s WeatherSource) String() string {
	switch s.kind {
	case SourceNeighbor:
		return sourceNeighborText + s.neighbor
	case SourceDirect:
		return sourceDirectText
	case SourceDisabled:
		return sourceDisabledText
	default:
		return sourcePrimaryText
	}
}

func (s WeatherSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *WeatherSource) UnmarshalText(text []byte) error {
	src, err := ParseWeatherSource(string(text))
	if err != nil {
		return err
	}
	*s = src
	return nil
}
