package api

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/yegors/livemap/internal/airport"
	"github.com/yegors/livemap/internal/weather"
)

const (
	airportsSheet = "Airports"
	summarySheet  = "Summary"
)

var categoryColors = map[weather.Category][2]string{
	weather.CategoryVFR:  {"#006100", "#C6EFCE"},
	weather.CategoryMVFR: {"#1F3A93", "#C9DAF8"},
	weather.CategoryIFR:  {"#9C0006", "#FFC7CE"},
	weather.CategoryLIFR: {"#7B1FA2", "#E8D5F0"},
	weather.CategoryOld:  {"#9C6500", "#FFEB9C"},
	weather.CategoryOff:  {"#808080", "#EFEFEF"},
}

// BuildWorkbook lays the airports out as an xlsx workbook with a per-category summary
func BuildWorkbook(states []airport.State, now time.Time, maxAge time.Duration) (*excelize.File, error) {
	f := excelize.NewFile()

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#2B5797"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    []excelize.Border{{Type: "bottom", Color: "#000000", Style: 2}},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	categoryStyles := make(map[weather.Category]int, len(categoryColors))
	for c, colors := range categoryColors {
		id, err := f.NewStyle(&excelize.Style{
			Font:      &excelize.Font{Color: colors[0], Bold: true},
			Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{colors[1]}},
			Alignment: &excelize.Alignment{Horizontal: "center"},
		})
		if err != nil {
			f.Close()
			return nil, err
		}
		categoryStyles[c] = id
	}

	counts, err := writeAirportsSheet(f, header, categoryStyles, states, now, maxAge)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("excel: airports: %w", err)
	}
	if err := writeSummarySheet(f, header, categoryStyles, counts, now); err != nil {
		f.Close()
		return nil, fmt.Errorf("excel: summary: %w", err)
	}

	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(0)
	return f, nil
}

func writeAirportsSheet(f *excelize.File, header int, styles map[weather.Category]int, states []airport.State, now time.Time, maxAge time.Duration) (map[weather.Category]int, error) {
	if _, err := f.NewSheet(airportsSheet); err != nil {
		return nil, err
	}

	headers := []string{
		"LED", "ICAO", "IATA", "Name", "Purpose", "Source",
		"Category", "Display", "Observed (UTC)", "Wind", "Visibility (SM)",
		"Ceiling (ft)", "Raw METAR",
	}
	widths := []float64{6, 8, 6, 36, 9, 14, 10, 10, 18, 12, 14, 12, 70}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(airportsSheet, cell, h); err != nil {
			return nil, err
		}
		_ = f.SetCellStyle(airportsSheet, cell, cell, header)
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(airportsSheet, col, col, w)
	}

	counts := make(map[weather.Category]int)
	for i, st := range states {
		row := i + 2
		display := st.DisplayCategory(now, maxAge)
		counts[display]++

		led := any("")
		if st.LED != airport.NoLED {
			led = st.LED
		}
		observed, wind, raw := "", "", weather.MissingText
		visibility, ceiling := weather.MissingText, weather.MissingText
		if m := st.METAR; m != nil {
			if !m.ObservationTime.IsZero() {
				observed = m.ObservationTime.UTC().Format("2006-01-02 15:04")
			}
			wind = fmt.Sprintf("%03d@%d", m.WindDirDegrees, m.WindSpeedKt)
			if m.WindGustKt > 0 {
				wind += fmt.Sprintf("G%d", m.WindGustKt)
			}
			visibility = m.Visibility.String()
			ceiling = m.Ceiling.String()
			raw = m.RawText
		}

		vals := []any{
			led, st.ICAO, st.IATA, st.Name, string(st.Purpose), st.Source.String(),
			string(st.Category), string(display), observed, wind, visibility,
			ceiling, raw,
		}
		for col, v := range vals {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(airportsSheet, cell, v); err != nil {
				return nil, err
			}
		}

		if id, ok := styles[display]; ok {
			cell, _ := excelize.CoordinatesToCellName(8, row)
			_ = f.SetCellStyle(airportsSheet, cell, cell, id)
		}
	}

	_ = f.SetPanes(airportsSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	})
	return counts, nil
}

func writeSummarySheet(f *excelize.File, header int, styles map[weather.Category]int, counts map[weather.Category]int, now time.Time) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Category")
	_ = f.SetCellValue(summarySheet, "B1", "Airports")
	_ = f.SetCellStyle(summarySheet, "A1", "B1", header)
	_ = f.SetColWidth(summarySheet, "A", "B", 14)

	order := []weather.Category{
		weather.CategoryVFR, weather.CategoryMVFR, weather.CategoryIFR, weather.CategoryLIFR,
		weather.CategoryOld, weather.CategoryUnknown, weather.CategoryOff,
	}
	row := 2
	for _, c := range order {
		a, _ := excelize.CoordinatesToCellName(1, row)
		b, _ := excelize.CoordinatesToCellName(2, row)
		if err := f.SetCellValue(summarySheet, a, string(c)); err != nil {
			return err
		}
		_ = f.SetCellValue(summarySheet, b, counts[c])
		if id, ok := styles[c]; ok {
			_ = f.SetCellStyle(summarySheet, a, a, id)
		}
		row++
	}

	row++
	a, _ := excelize.CoordinatesToCellName(1, row)
	b, _ := excelize.CoordinatesToCellName(2, row)
	_ = f.SetCellValue(summarySheet, a, "Generated (UTC)")
	return f.SetCellValue(summarySheet, b, now.UTC().Format("2006-01-02 15:04"))
}
