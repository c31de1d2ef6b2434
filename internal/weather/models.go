package weather

import (
	"errors"
	"time"
)

var (
	// ErrFeedUnavailable is returned when a feed file cannot be opened
	ErrFeedUnavailable = errors.New("weather feed unavailable")
	// ErrFeedMalformed is returned when a feed document cannot be decoded
	ErrFeedMalformed = errors.New("weather feed malformed")
)

// MetarFields is one station's normalized observation, as produced by the feed parser
// or the direct station client
type MetarFields struct {
	Station         string      `json:"station_id"`
	RawText         string      `json:"raw_text"`
	ObservationTime time.Time   `json:"observation_time"`
	MetarType       string      `json:"metar_type"`
	WindDirDegrees  int         `json:"wind_dir_degrees"`
	WindSpeedKt     int         `json:"wind_speed_kt"`
	WindGustKt      int         `json:"wind_gust_kt"`
	VariableWind    bool        `json:"variable_wind,omitempty"`
	Visibility      Measurement `json:"visibility_statute_mi"`
	Ceiling         Measurement `json:"ceiling_ft_agl"`
	SkyCondition    []SkyLayer  `json:"sky_condition,omitempty"`
	TemperatureC    Measurement `json:"temp_c"`
	Latitude        Measurement `json:"latitude"`
	Longitude       Measurement `json:"longitude"`
	Category        Category    `json:"flight_category"`
	Phenomena       []string    `json:"wx,omitempty"`
}

// ForecastPeriod is a single validity window of a TAF
type ForecastPeriod struct {
	From            time.Time   `json:"fcst_time_from"`
	To              time.Time   `json:"fcst_time_to"`
	ChangeIndicator string      `json:"change_indicator,omitempty"`
	WxString        string      `json:"wx_string,omitempty"`
	WindDirDegrees  int         `json:"wind_dir_degrees"`
	WindSpeedKt     int         `json:"wind_speed_kt"`
	WindGustKt      int         `json:"wind_gust_kt"`
	Visibility      Measurement `json:"visibility_statute_mi"`
	VertVisFt       Measurement `json:"vert_vis_ft"`
	SkyCondition    []SkyLayer  `json:"sky_condition,omitempty"`
	Ceiling         Measurement `json:"ceiling_ft_agl"`
	Category        Category    `json:"flight_category"`
}

// Covers reports whether t falls inside [From, To)
func (p ForecastPeriod) Covers(t time.Time) bool {
	return !t.Before(p.From) && t.Before(p.To)
}

// ForecastRecord is one station's TAF with its periods in document order
type ForecastRecord struct {
	Station   string           `json:"station_id"`
	IssueTime time.Time        `json:"issue_time"`
	RawText   string           `json:"raw_text"`
	Periods   []ForecastPeriod `json:"forecast"`
}

// PeriodAt returns the last period covering t. Amendment groups (TEMPO, BECMG) follow
// their base period in document order, so the latest match is the most specific one.
func (r ForecastRecord) PeriodAt(t time.Time) (ForecastPeriod, bool) {
	var (
		found  ForecastPeriod
		exists bool
	)
	for _, p := range r.Periods {
		if p.Covers(t) {
			found = p
			exists = true
		}
	}
	return found, exists
}

// WorstCategory returns the most severe category across all periods
func (r ForecastRecord) WorstCategory() Category {
	worst := CategoryUnknown
	for _, p := range r.Periods {
		if p.Category.Severity() > worst.Severity() {
			worst = p.Category
		}
	}
	return worst
}
