package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/yegors/livemap/internal/airport"
	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/pkg/logger"
)

var categoryColors = map[weather.Category]*color.Color{
	weather.CategoryVFR:     color.New(color.FgGreen),
	weather.CategoryMVFR:    color.New(color.FgBlue),
	weather.CategoryIFR:     color.New(color.FgRed),
	weather.CategoryLIFR:    color.New(color.FgMagenta),
	weather.CategoryOld:     color.New(color.FgYellow),
	weather.CategoryUnknown: color.New(color.FgWhite),
	weather.CategoryOff:     color.New(color.FgHiBlack),
}

var (
	labelColor = color.New(color.FgCyan)
	rawColor   = color.New(color.FgWhite)
)

type options struct {
	metarFile    string
	snapshotFile string
	stations     []string
	maxAge       time.Duration
	showRaw      bool
	now          time.Time
}

type row struct {
	led        int
	icao       string
	category   weather.Category
	age        string
	conditions string
	raw        string
}

func main() {
	metarFile := flag.String("metars", "data/metars.xml", "METAR XML feed, plain or gzip compressed")
	snapshotFile := flag.String("airports", "", "Airport snapshot; when set only its airports are listed, in LED order")
	maxAge := flag.Duration("max-age", 3*time.Hour, "Observations older than this show as OLD")
	noRaw := flag.Bool("no-raw", false, "Hide raw reports")
	noColor := flag.Bool("no-color", false, "Disable color output")
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}

	err := run(os.Stdout, options{
		metarFile:    *metarFile,
		snapshotFile: *snapshotFile,
		stations:     flag.Args(),
		maxAge:       *maxAge,
		showRaw:      !*noRaw,
		now:          time.Now(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "wxstatus: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, opts options) error {
	parsed, err := weather.NewParser(logger.NewNop()).ParseMETARFile(opts.metarFile)
	if err != nil {
		return err
	}

	var rows []row
	if opts.snapshotFile != "" {
		rows, err = snapshotRows(opts, parsed)
		if err != nil {
			return err
		}
	} else {
		rows = feedRows(opts, parsed)
	}

	if len(rows) == 0 {
		return fmt.Errorf("no matching stations in %s", opts.metarFile)
	}

	counts := make(map[weather.Category]int)
	for _, r := range rows {
		counts[r.category]++
		printRow(w, r, opts.showRaw)
	}

	fmt.Fprintln(w)
	labelColor.Fprint(w, "Total: ")
	fmt.Fprintf(w, "%d", len(rows))
	for _, c := range []weather.Category{
		weather.CategoryVFR, weather.CategoryMVFR, weather.CategoryIFR, weather.CategoryLIFR,
		weather.CategoryOld, weather.CategoryUnknown, weather.CategoryOff,
	} {
		if counts[c] > 0 {
			fmt.Fprint(w, "  ")
			categoryColors[c].Fprintf(w, "%s %d", c, counts[c])
		}
	}
	fmt.Fprintln(w)
	return nil
}

func snapshotRows(opts options, parsed map[string]weather.MetarFields) ([]row, error) {
	f, err := os.Open(opts.snapshotFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	configs, err := airport.DecodeSnapshot(f, logger.NewNop())
	if err != nil {
		return nil, err
	}
	sort.SliceStable(configs, func(i, j int) bool { return configs[i].LED < configs[j].LED })

	filter := stationFilter(opts.stations)
	var rows []row
	for _, cfg := range configs {
		icao := airport.NormalizeICAO(cfg.ICAO)
		if airport.IsPlaceholder(icao) || !filter(icao) {
			continue
		}
		r := row{led: cfg.LED, icao: icao, category: weather.CategoryUnknown, raw: weather.MissingText}
		switch {
		case !cfg.Active:
			continue
		case cfg.Source.Kind() == airport.SourceDisabled:
			r.category = weather.CategoryOff
		case cfg.Source.Kind() == airport.SourceNeighbor:
			fillRow(&r, parsed, cfg.Source.NeighborICAO(), opts)
		default:
			fillRow(&r, parsed, icao, opts)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func feedRows(opts options, parsed map[string]weather.MetarFields) []row {
	filter := stationFilter(opts.stations)
	keys := make([]string, 0, len(parsed))
	for k := range parsed {
		if filter(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	rows := make([]row, 0, len(keys))
	for _, k := range keys {
		r := row{led: airport.NoLED, icao: k}
		fillRow(&r, parsed, k, opts)
		rows = append(rows, r)
	}
	return rows
}

func fillRow(r *row, parsed map[string]weather.MetarFields, key string, opts options) {
	fields, ok := parsed[key]
	if !ok {
		r.category = weather.CategoryUnknown
		r.raw = weather.MissingText
		return
	}
	r.category = fields.Category
	r.raw = fields.RawText
	if !fields.ObservationTime.IsZero() {
		age := opts.now.Sub(fields.ObservationTime)
		r.age = age.Truncate(time.Minute).String()
		if opts.maxAge > 0 && age > opts.maxAge && r.category != weather.CategoryOff {
			r.category = weather.CategoryOld
		}
	}

	conds := fields.Conditions()
	names := make([]string, 0, len(conds))
	for _, c := range conds {
		names = append(names, string(c))
	}
	r.conditions = strings.Join(names, ",")
}

func stationFilter(stations []string) func(string) bool {
	if len(stations) == 0 {
		return func(string) bool { return true }
	}
	want := make(map[string]bool, len(stations))
	for _, s := range stations {
		want[airport.NormalizeICAO(s)] = true
	}
	return func(icao string) bool { return want[icao] }
}

func printRow(w io.Writer, r row, showRaw bool) {
	led := "   "
	if r.led != airport.NoLED {
		led = fmt.Sprintf("%3d", r.led)
	}
	c, ok := categoryColors[r.category]
	if !ok {
		c = categoryColors[weather.CategoryUnknown]
	}

	labelColor.Fprintf(w, "%s %-5s", led, strings.ToUpper(r.icao))
	fmt.Fprint(w, " ")
	c.Fprintf(w, "%-5s", r.category)
	fmt.Fprintf(w, " %8s %-22s", r.age, r.conditions)
	if showRaw {
		rawColor.Fprintf(w, " %s", r.raw)
	}
	fmt.Fprintln(w)
}
