package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refTime = time.Date(2024, 5, 12, 20, 0, 0, 0, time.UTC)

func TestDecodeRawMETAR(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		visibility Measurement
		ceiling    Measurement
		category   Category
	}{
		{
			name:       "fractional visibility and rain",
			raw:        "KSEA 121853Z 18010G22KT 1 1/2SM -RA BR BKN008 OVC015 12/08 A3012 RMK AO2 T01220083",
			visibility: Known(1.5),
			ceiling:    Known(800),
			category:   CategoryIFR,
		},
		{
			name:       "metric visibility",
			raw:        "EGLL 121850Z 24015KT 9999 FEW030 15/09 Q1015",
			visibility: Known(10),
			ceiling:    Known(UnlimitedCeilingFt),
			category:   CategoryVFR,
		},
		{
			name:       "cavok",
			raw:        "CYVR 121900Z VRB03KT CAVOK 14/06 A3001",
			visibility: Known(10),
			ceiling:    Known(UnlimitedCeilingFt),
			category:   CategoryVFR,
		},
		{
			name:       "obscured",
			raw:        "METAR KXYZ 121853Z AUTO 00000KT 1/4SM FG VV002 08/08 A2990",
			visibility: Known(0.25),
			ceiling:    Known(200),
			category:   CategoryLIFR,
		},
		{
			name:       "no sky report",
			raw:        "KABC 121853Z 18005KT 10SM 20/10 A3000",
			visibility: Known(10),
			ceiling:    Missing(),
			category:   CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := DecodeRawMETAR(tt.raw, refTime)
			require.NoError(t, err)
			assert.InDelta(t, tt.visibility.Value, fields.Visibility.Value, 0.001)
			assert.Equal(t, tt.visibility.Valid, fields.Visibility.Valid)
			assert.Equal(t, tt.ceiling, fields.Ceiling)
			assert.Equal(t, tt.category, fields.Category)
		})
	}
}

func TestDecodeRawMETAR_Fields(t *testing.T) {
	fields, err := DecodeRawMETAR("KSEA 121853Z 18010G22KT 1 1/2SM -RA BR BKN008 OVC015 12/08 A3012 RMK AO2 T01220083", refTime)
	require.NoError(t, err)

	assert.Equal(t, "ksea", fields.Station)
	assert.Equal(t, 180, fields.WindDirDegrees)
	assert.Equal(t, 10, fields.WindSpeedKt)
	assert.Equal(t, 22, fields.WindGustKt)
	assert.Equal(t, []string{"-RA", "BR"}, fields.Phenomena)
	assert.Equal(t, Known(12.2), fields.TemperatureC)
	assert.Equal(t, time.Date(2024, 5, 12, 18, 53, 0, 0, time.UTC), fields.ObservationTime)

	variable, err := DecodeRawMETAR("CYVR 121900Z VRB03KT CAVOK 14/06 A3001", refTime)
	require.NoError(t, err)
	assert.True(t, variable.VariableWind)
	assert.Equal(t, 0, variable.WindDirDegrees)
	assert.Equal(t, 3, variable.WindSpeedKt)
}

func TestDecodeRawMETAR_PreviousMonth(t *testing.T) {
	ref := time.Date(2024, 5, 1, 0, 30, 0, 0, time.UTC)
	fields, err := DecodeRawMETAR("KSEA 302353Z 18010KT 10SM CLR 12/08 A3012", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 30, 23, 53, 0, 0, time.UTC), fields.ObservationTime)
}

func TestDecodeRawMETAR_Invalid(t *testing.T) {
	_, err := DecodeRawMETAR("", refTime)
	assert.ErrorIs(t, err, ErrNotMETAR)

	_, err = DecodeRawMETAR("404 Not Found", refTime)
	assert.ErrorIs(t, err, ErrNotMETAR)
}

func TestPresentWeather(t *testing.T) {
	raw := "KDEN 121853Z 27025G35KT 3SM +TSRAGR SN BKN040CB 02/M01 A2992 RMK TSB32 RAE10"
	assert.Equal(t, []string{"+TSRAGR", "SN"}, PresentWeather(raw))
	assert.Empty(t, PresentWeather("KSEA 121853Z 18010KT 10SM FEW040 12/08 A3012"))
	assert.Equal(t, []string{"VCTS"}, PresentWeather("KMIA 121853Z 09012KT 10SM VCTS SCT030CB 30/24 A3000"))
}

func TestConditions(t *testing.T) {
	fields := MetarFields{
		WindSpeedKt: 25,
		WindGustKt:  35,
		Phenomena:   []string{"+TSRAGR", "SN"},
	}
	assert.Equal(t, []Condition{ConditionHighWinds, ConditionGusts, ConditionSnow, ConditionLightning}, fields.Conditions())

	calm := MetarFields{WindSpeedKt: 20, Phenomena: []string{"BR"}}
	assert.Equal(t, []Condition{ConditionFog}, calm.Conditions())

	assert.Empty(t, MetarFields{}.Conditions())
}

func TestParseTemperature(t *testing.T) {
	temp, ok := ParseTemperature("KORD 121851Z 31012KT 10SM OVC030 M02/M10 A3021")
	require.True(t, ok)
	assert.Equal(t, -2.0, temp)

	temp, ok = ParseTemperature("KORD 121851Z 31012KT 10SM OVC030 M02/M10 A3021 RMK AO2 T10221100")
	require.True(t, ok)
	assert.InDelta(t, -2.2, temp, 0.0001)

	_, ok = ParseTemperature("KORD 121851Z 31012KT 10SM OVC030 A3021")
	assert.False(t, ok)
}
