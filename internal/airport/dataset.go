package airport

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
)

// runwayRow mirrors the columns of the OurAirports runways.csv we use.
// Every value is read as text since the dataset leaves numbers blank freely.
type runwayRow struct {
	AirportIdent string `csv:"airport_ident"`
	LengthFt     string `csv:"length_ft"`
	WidthFt      string `csv:"width_ft"`
	Surface      string `csv:"surface"`
	Lighted      string `csv:"lighted"`
	Closed       string `csv:"closed"`
	LEIdent      string `csv:"le_ident"`
	LEHeading    string `csv:"le_heading_degT"`
	HEIdent      string `csv:"he_ident"`
	HEHeading    string `csv:"he_heading_degT"`
}

// airportRow mirrors the columns of the OurAirports airports.csv we use
type airportRow struct {
	Ident       string `csv:"ident"`
	Type        string `csv:"type"`
	Name        string `csv:"name"`
	Latitude    string `csv:"latitude_deg"`
	Longitude   string `csv:"longitude_deg"`
	ElevationFt string `csv:"elevation_ft"`
	GPSCode     string `csv:"gps_code"`
	IATACode    string `csv:"iata_code"`
	ICAOCode    string `csv:"icao_code"`
}

// Info is descriptive airport data from the airport dataset
type Info struct {
	ICAO        string
	IATA        string
	Name        string
	Type        string
	Latitude    float64
	Longitude   float64
	ElevationFt float64
	ValidCoords bool
}

// ParseRunways decodes a runways.csv document into runways keyed by lowercase airport ident,
// in file order
func ParseRunways(r io.Reader) (map[string][]Runway, error) {
	var rows []runwayRow

	decoder, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV decoder for runways: %w", err)
	}
	if err := decoder.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode runways CSV data: %w", err)
	}

	result := make(map[string][]Runway)
	for _, row := range rows {
		ident := NormalizeICAO(row.AirportIdent)
		if ident == "" {
			continue
		}
		rwy := Runway{
			AirportIdent: ident,
			LengthFt:     atoiOrZero(row.LengthFt),
			WidthFt:      atoiOrZero(row.WidthFt),
			Surface:      strings.TrimSpace(row.Surface),
			Lighted:      csvBool(row.Lighted),
			Closed:       csvBool(row.Closed),
			LE:           runwayEnd(row.LEIdent, row.LEHeading),
			HE:           runwayEnd(row.HEIdent, row.HEHeading),
		}
		result[ident] = append(result[ident], rwy)
	}
	return result, nil
}

// ParseAirportInfo decodes an airports.csv document keyed by lowercase ident.
// Airports are also indexed by ICAO code when it differs from the ident.
func ParseAirportInfo(r io.Reader) (map[string]Info, error) {
	var rows []airportRow

	decoder, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV decoder for airports: %w", err)
	}
	if err := decoder.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode airports CSV data: %w", err)
	}

	result := make(map[string]Info, len(rows))
	for _, row := range rows {
		ident := NormalizeICAO(row.Ident)
		if ident == "" {
			continue
		}
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(row.Latitude), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(row.Longitude), 64)
		elev, _ := strconv.ParseFloat(strings.TrimSpace(row.ElevationFt), 64)

		info := Info{
			ICAO:        ident,
			IATA:        strings.ToUpper(strings.TrimSpace(row.IATACode)),
			Name:        strings.TrimSpace(row.Name),
			Type:        strings.TrimSpace(row.Type),
			Latitude:    lat,
			Longitude:   lon,
			ElevationFt: elev,
			ValidCoords: latErr == nil && lonErr == nil,
		}
		result[ident] = info
		if code := NormalizeICAO(row.ICAOCode); code != "" && code != ident {
			if _, exists := result[code]; !exists {
				result[code] = info
			}
		}
	}
	return result, nil
}

func runwayEnd(ident, heading string) RunwayEnd {
	end := RunwayEnd{Ident: strings.ToUpper(strings.TrimSpace(ident))}
	if h, err := strconv.ParseFloat(strings.TrimSpace(heading), 64); err == nil {
		end.TrueHeading = h
		end.HeadingValid = true
	} else if h, ok := headingFromIdent(end.Ident); ok {
		end.TrueHeading = h
		end.HeadingValid = true
	}
	end.MagneticHeading = end.TrueHeading
	return end
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func csvBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
