package weather

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/yegors/livemap/pkg/logger"
)

// progressEvery is how often (in stations) the parser reports progress
const progressEvery = 20

type xmlSkyCondition struct {
	SkyCover  *string `xml:"sky_cover,attr"`
	CloudBase *string `xml:"cloud_base_ft_agl,attr"`
}

type xmlMETAR struct {
	StationID       *string           `xml:"station_id"`
	RawText         *string           `xml:"raw_text"`
	ObservationTime *string           `xml:"observation_time"`
	Latitude        *string           `xml:"latitude"`
	Longitude       *string           `xml:"longitude"`
	TempC           *string           `xml:"temp_c"`
	WindDir         *string           `xml:"wind_dir_degrees"`
	WindSpeed       *string           `xml:"wind_speed_kt"`
	WindGust        *string           `xml:"wind_gust_kt"`
	Visibility      *string           `xml:"visibility_statute_mi"`
	WxString        *string           `xml:"wx_string"`
	SkyCondition    []xmlSkyCondition `xml:"sky_condition"`
	FlightCategory  *string           `xml:"flight_category"`
	Ceiling         *string           `xml:"ceiling"`
	MetarType       *string           `xml:"metar_type"`
}

type xmlForecast struct {
	TimeFrom        *string           `xml:"fcst_time_from"`
	TimeTo          *string           `xml:"fcst_time_to"`
	ChangeIndicator *string           `xml:"change_indicator"`
	WxString        *string           `xml:"wx_string"`
	WindDir         *string           `xml:"wind_dir_degrees"`
	WindSpeed       *string           `xml:"wind_speed_kt"`
	WindGust        *string           `xml:"wind_gust_kt"`
	Visibility      *string           `xml:"visibility_statute_mi"`
	VertVis         *string           `xml:"vert_vis_ft"`
	SkyCondition    []xmlSkyCondition `xml:"sky_condition"`
}

type xmlTAF struct {
	StationID *string       `xml:"station_id"`
	IssueTime *string       `xml:"issue_time"`
	RawText   *string       `xml:"raw_text"`
	Forecasts []xmlForecast `xml:"forecast"`
}

// Parser turns METAR and TAF XML documents into normalized per-station records.
// It holds no state between calls; every parse returns a fresh map owned by the caller.
type Parser struct {
	logger *logger.Logger
}

// NewParser creates a new feed parser
func NewParser(log *logger.Logger) *Parser {
	return &Parser{logger: log.Named("feed-parser")}
}

// ParseMETARFile parses a METAR feed file, plain or gzip compressed.
// A non-nil error means the feed was not updated; the returned map is then nil.
func (p *Parser) ParseMETARFile(path string) (map[string]MetarFields, error) {
	f, err := openFeed(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return p.ParseMETAR(f)
}

// ParseMETAR parses a METAR XML document keyed by lowercase station id
func (p *Parser) ParseMETAR(r io.Reader) (map[string]MetarFields, error) {
	result := make(map[string]MetarFields)

	err := decodeEach(r, "METAR", func(d *xml.Decoder, start *xml.StartElement) error {
		var x xmlMETAR
		if err := d.DecodeElement(&x, start); err != nil {
			return err
		}
		fields, ok := p.metarFields(&x)
		if !ok {
			return nil
		}
		result[fields.Station] = fields
		if len(result)%progressEvery == 0 {
			p.logger.Debug("METAR feed progress",
				logger.Int("stations", len(result)),
				logger.String("station", fields.Station))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ParseTAFFile parses a TAF feed file, plain or gzip compressed
func (p *Parser) ParseTAFFile(path string) (map[string]ForecastRecord, error) {
	f, err := openFeed(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return p.ParseTAF(f)
}

// ParseTAF parses a TAF XML document keyed by lowercase station id
func (p *Parser) ParseTAF(r io.Reader) (map[string]ForecastRecord, error) {
	result := make(map[string]ForecastRecord)

	err := decodeEach(r, "TAF", func(d *xml.Decoder, start *xml.StartElement) error {
		var x xmlTAF
		if err := d.DecodeElement(&x, start); err != nil {
			return err
		}
		record, ok := p.forecastRecord(&x)
		if !ok {
			return nil
		}
		result[record.Station] = record
		if len(result)%progressEvery == 0 {
			p.logger.Debug("TAF feed progress",
				logger.Int("stations", len(result)),
				logger.String("station", record.Station))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Parser) metarFields(x *xmlMETAR) (MetarFields, bool) {
	station := stationKey(x.StationID)
	if station == "" {
		return MetarFields{}, false
	}

	fields := MetarFields{
		Station:      station,
		RawText:      TextField(x.RawText),
		MetarType:    TextField(x.MetarType),
		Visibility:   VisibilityField(x.Visibility),
		TemperatureC: FloatField(x.TempC),
		Latitude:     FloatField(x.Latitude),
		Longitude:    FloatField(x.Longitude),
		SkyCondition: skyLayers(x.SkyCondition),
	}
	fields.ObservationTime, _ = feedTime(x.ObservationTime)
	fields.WindDirDegrees = p.intField(station, "wind_dir_degrees", x.WindDir)
	fields.WindSpeedKt = p.intField(station, "wind_speed_kt", x.WindSpeed)
	fields.WindGustKt = p.intField(station, "wind_gust_kt", x.WindGust)
	fields.VariableWind = x.WindDir != nil && strings.EqualFold(strings.TrimSpace(*x.WindDir), "VRB")

	fields.Ceiling = FloatField(x.Ceiling)
	if !fields.Ceiling.Valid {
		ceiling, err := CeilingFromLayers(fields.SkyCondition)
		if err != nil {
			p.logger.Debug("Ceiling unavailable",
				logger.String("station", station),
				logger.Error(err))
		}
		fields.Ceiling = ceiling
	}

	if cat, ok := ParseCategory(TextField(x.FlightCategory)); ok && cat.Severity() > 0 {
		fields.Category = cat
	} else {
		fields.Category = Classify(fields.Ceiling, fields.Visibility)
	}

	if x.WxString != nil && strings.TrimSpace(*x.WxString) != "" {
		fields.Phenomena = strings.Fields(*x.WxString)
	} else {
		fields.Phenomena = PresentWeather(fields.RawText)
	}

	return fields, true
}

func (p *Parser) forecastRecord(x *xmlTAF) (ForecastRecord, bool) {
	station := stationKey(x.StationID)
	if station == "" {
		return ForecastRecord{}, false
	}

	record := ForecastRecord{
		Station: station,
		RawText: TextField(x.RawText),
		Periods: make([]ForecastPeriod, 0, len(x.Forecasts)),
	}
	record.IssueTime, _ = feedTime(x.IssueTime)

	for i := range x.Forecasts {
		record.Periods = append(record.Periods, p.forecastPeriod(station, &x.Forecasts[i]))
	}
	return record, true
}

func (p *Parser) forecastPeriod(station string, x *xmlForecast) ForecastPeriod {
	period := ForecastPeriod{
		WindDirDegrees: p.intField(station, "wind_dir_degrees", x.WindDir),
		WindSpeedKt:    p.intField(station, "wind_speed_kt", x.WindSpeed),
		WindGustKt:     p.intField(station, "wind_gust_kt", x.WindGust),
		VertVisFt:      FloatField(x.VertVis),
		SkyCondition:   skyLayers(x.SkyCondition),
	}
	period.From, _ = feedTime(x.TimeFrom)
	period.To, _ = feedTime(x.TimeTo)
	if x.ChangeIndicator != nil {
		period.ChangeIndicator = strings.TrimSpace(*x.ChangeIndicator)
	}
	if x.WxString != nil {
		period.WxString = strings.TrimSpace(*x.WxString)
	}

	visibility, ok := ForecastVisibilityField(x.Visibility)
	if !ok {
		p.logger.Debug("Forecast visibility not numeric, assuming unrestricted",
			logger.String("station", station),
			logger.String("value", *x.Visibility))
	}
	period.Visibility = visibility
	period.Category, period.Ceiling = ClassifyForecast(period.SkyCondition, period.VertVisFt, period.Visibility)
	return period
}

func (p *Parser) intField(station, name string, raw *string) int {
	v, ok := IntField(raw)
	if !ok && raw != nil {
		p.logger.Debug("Field not numeric, using zero",
			logger.String("station", station),
			logger.String("field", name),
			logger.String("value", *raw))
	}
	return v
}

func stationKey(raw *string) string {
	if raw == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*raw))
}

func skyLayers(raw []xmlSkyCondition) []SkyLayer {
	if len(raw) == 0 {
		return nil
	}
	layers := make([]SkyLayer, 0, len(raw))
	for _, sc := range raw {
		cover := ""
		if sc.SkyCover != nil {
			cover = strings.ToUpper(strings.TrimSpace(*sc.SkyCover))
		}
		layers = append(layers, SkyLayer{Cover: cover, BaseFt: FloatField(sc.CloudBase)})
	}
	return layers
}

func feedTime(raw *string) (time.Time, bool) {
	if raw == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw))
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// decodeEach streams the document and hands every element called name to fn.
// Any syntax error aborts the whole document.
func decodeEach(r io.Reader, name string, fn func(d *xml.Decoder, start *xml.StartElement) error) error {
	d := xml.NewDecoder(r)
	sawElement := false

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFeedMalformed, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawElement = true
		if start.Name.Local != name {
			continue
		}
		if err := fn(d, &start); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrFeedMalformed, name, err)
		}
	}

	if !sawElement {
		return fmt.Errorf("%w: empty document", ErrFeedMalformed)
	}
	return nil
}

type feedReader struct {
	io.Reader
	closers []io.Closer
}

func (f *feedReader) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openFeed opens a feed file, transparently decompressing gzip content
func openFeed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}

	br := bufio.NewReader(f)
	magic, _ := br.Peek(2)
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrFeedMalformed, err)
		}
		return &feedReader{Reader: zr, closers: []io.Closer{f, zr}}, nil
	}
	return &feedReader{Reader: br, closers: []io.Closer{f}}, nil
}
