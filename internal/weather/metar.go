package weather

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// HighWindsKt is the sustained speed above which an airport reports high winds
const HighWindsKt = 20

const (
	metersPerStatuteMile = 1609.344
	knotsPerMPS          = 1.943844
)

// ErrNotMETAR is returned when text does not look like a METAR report
var ErrNotMETAR = errors.New("not a METAR report")

var (
	reTime    = regexp.MustCompile(`^(\d{2})(\d{2})(\d{2})Z$`)
	reWind    = regexp.MustCompile(`^(VRB|\d{3})(\d{2,3})(?:G(\d{2,3}))?(KT|MPS)$`)
	reVisSM   = regexp.MustCompile(`^([MP])?(\d+)(?:/(\d+))?SM$`)
	reVisM    = regexp.MustCompile(`^(\d{4})(?:NDV)?$`)
	reWhole   = regexp.MustCompile(`^\d$`)
	reCloud   = regexp.MustCompile(`^(SKC|CLR|NSC|NCD|FEW|SCT|BKN|OVC|VV)(\d{3}|///)?(CB|TCU)?$`)
	reTGroup  = regexp.MustCompile(`\bT([01])(\d{3})`)
	reTempStd = regexp.MustCompile(`\s(M)?(\d{2})/(?:M)?\d{2}\b`)

	// optional intensity, optional proximity, optional descriptor, phenomena
	reWeather = regexp.MustCompile(`^([+-]?)(VC)?(MI|PR|BC|DR|BL|SH|TS|FZ)?((?:DZ|RA|SN|SG|IC|PL|GR|GS|UP|BR|FG|FU|VA|DU|SA|HZ|PO|SQ|FC|SS|DS)*)$`)
)

// Condition is a notable weather condition derived from an observation
type Condition string

const (
	ConditionHighWinds Condition = "HIGHWINDS"
	ConditionGusts     Condition = "GUSTS"
	ConditionSnow      Condition = "SNOW"
	ConditionLightning Condition = "LIGHTNING"
	ConditionFog       Condition = "FOG"
)

// Conditions lists the notable conditions present in the observation
func (m MetarFields) Conditions() []Condition {
	var out []Condition
	if m.WindSpeedKt > HighWindsKt {
		out = append(out, ConditionHighWinds)
	}
	if m.WindGustKt > 0 {
		out = append(out, ConditionGusts)
	}

	var snow, lightning, fog bool
	for _, wx := range m.Phenomena {
		snow = snow || strings.Contains(wx, "SN")
		lightning = lightning || strings.Contains(wx, "TS")
		fog = fog || strings.Contains(wx, "FG") || strings.Contains(wx, "BR")
	}
	if snow {
		out = append(out, ConditionSnow)
	}
	if lightning {
		out = append(out, ConditionLightning)
	}
	if fog {
		out = append(out, ConditionFog)
	}
	return out
}

// reportBody strips the remarks section from a raw report
func reportBody(raw string) string {
	if i := strings.Index(raw, " RMK"); i >= 0 {
		return raw[:i]
	}
	return raw
}

func isWeatherToken(tok string) bool {
	m := reWeather.FindStringSubmatch(tok)
	if m == nil {
		return false
	}
	// a lone descriptor is only meaningful for thunderstorms
	return m[4] != "" || m[3] == "TS"
}

// PresentWeather extracts present weather tokens such as "-RA" or "+TSRA"
// from the body of a raw report
func PresentWeather(raw string) []string {
	tokens := strings.Fields(reportBody(raw))
	var out []string
	for i, tok := range tokens {
		// station id and report type never count
		if i == 0 || tok == "METAR" || tok == "SPECI" {
			continue
		}
		if isWeatherToken(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// ParseTemperature extracts the temperature in Celsius from a raw report.
// The remarks T-group carries tenths and wins over the body temperature group.
func ParseTemperature(raw string) (float64, bool) {
	if strings.Contains(raw, "RMK") {
		if m := reTGroup.FindStringSubmatch(raw[strings.Index(raw, "RMK"):]); len(m) == 3 {
			if val, err := strconv.ParseFloat(m[2], 64); err == nil {
				val /= 10.0
				if m[1] == "1" {
					val = -val
				}
				return val, true
			}
		}
	}

	if m := reTempStd.FindStringSubmatch(reportBody(raw)); len(m) == 3 {
		if val, err := strconv.ParseFloat(m[2], 64); err == nil {
			if m[1] == "M" {
				val = -val
			}
			return val, true
		}
	}
	return 0, false
}

// DecodeRawMETAR decodes a raw report into normalized fields.
// ref anchors the day-hour-minute group to a full timestamp.
func DecodeRawMETAR(raw string, ref time.Time) (MetarFields, error) {
	tokens := strings.Fields(reportBody(raw))
	if len(tokens) > 0 && (tokens[0] == "METAR" || tokens[0] == "SPECI") {
		tokens = tokens[1:]
	}
	if len(tokens) < 2 || len(tokens[0]) != 4 {
		return MetarFields{}, fmt.Errorf("%w: %q", ErrNotMETAR, raw)
	}

	fields := MetarFields{
		Station:    strings.ToLower(tokens[0]),
		RawText:    strings.TrimSpace(raw),
		MetarType:  "METAR",
		Visibility: Missing(),
		Latitude:   Missing(),
		Longitude:  Missing(),
	}
	if strings.HasPrefix(strings.TrimSpace(raw), "SPECI") {
		fields.MetarType = "SPECI"
	}

	for i := 1; i < len(tokens); i++ {
		tok := tokens[i]

		if m := reTime.FindStringSubmatch(tok); m != nil && fields.ObservationTime.IsZero() {
			fields.ObservationTime = reportTime(m, ref)
			continue
		}
		if m := reWind.FindStringSubmatch(tok); m != nil {
			decodeWind(&fields, m)
			continue
		}
		if tok == "CAVOK" {
			fields.Visibility = Known(10)
			fields.SkyCondition = append(fields.SkyCondition, SkyLayer{Cover: "CAVOK", BaseFt: Missing()})
			continue
		}
		if reWhole.MatchString(tok) && i+1 < len(tokens) {
			if m := reVisSM.FindStringSubmatch(tokens[i+1]); m != nil && m[3] != "" {
				whole, _ := strconv.ParseFloat(tok, 64)
				fields.Visibility = Known(whole + statuteMiles(m).Value)
				i++
				continue
			}
		}
		if m := reVisSM.FindStringSubmatch(tok); m != nil {
			fields.Visibility = statuteMiles(m)
			continue
		}
		if m := reVisM.FindStringSubmatch(tok); m != nil && !fields.Visibility.Valid {
			meters, _ := strconv.ParseFloat(m[1], 64)
			if meters >= 9999 {
				fields.Visibility = Known(10)
			} else {
				fields.Visibility = Known(meters / metersPerStatuteMile)
			}
			continue
		}
		if m := reCloud.FindStringSubmatch(tok); m != nil {
			layer := SkyLayer{Cover: m[1], BaseFt: Missing()}
			if h, err := strconv.Atoi(m[2]); err == nil {
				layer.BaseFt = Known(float64(h * 100))
			}
			fields.SkyCondition = append(fields.SkyCondition, layer)
			continue
		}
		if isWeatherToken(tok) {
			fields.Phenomena = append(fields.Phenomena, tok)
		}
	}

	if t, ok := ParseTemperature(raw); ok {
		fields.TemperatureC = Known(t)
	}

	ceiling, err := CeilingFromLayers(fields.SkyCondition)
	if err != nil {
		ceiling = Missing()
	}
	fields.Ceiling = ceiling
	fields.Category = Classify(fields.Ceiling, fields.Visibility)
	return fields, nil
}

func decodeWind(fields *MetarFields, m []string) {
	scale := 1.0
	if m[4] == "MPS" {
		scale = knotsPerMPS
	}
	if m[1] == "VRB" {
		fields.VariableWind = true
	} else {
		fields.WindDirDegrees, _ = strconv.Atoi(m[1])
	}
	speed, _ := strconv.Atoi(m[2])
	fields.WindSpeedKt = int(float64(speed)*scale + 0.5)
	if m[3] != "" {
		gust, _ := strconv.Atoi(m[3])
		fields.WindGustKt = int(float64(gust)*scale + 0.5)
	}
}

func statuteMiles(m []string) Measurement {
	n, _ := strconv.ParseFloat(m[2], 64)
	if m[3] != "" {
		d, _ := strconv.ParseFloat(m[3], 64)
		if d == 0 {
			return Missing()
		}
		n /= d
	}
	return Known(n)
}

// reportTime resolves a day-hour-minute group against ref, stepping back a month
// when the day lies in the future
func reportTime(m []string, ref time.Time) time.Time {
	day, _ := strconv.Atoi(m[1])
	hour, _ := strconv.Atoi(m[2])
	minute, _ := strconv.Atoi(m[3])

	ref = ref.UTC()
	t := time.Date(ref.Year(), ref.Month(), day, hour, minute, 0, 0, time.UTC)
	if t.After(ref.Add(time.Hour)) {
		t = time.Date(ref.Year(), ref.Month()-1, day, hour, minute, 0, 0, time.UTC)
	}
	return t
}
