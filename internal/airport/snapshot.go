package airport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yegors/livemap/pkg/logger"
)

// SnapshotPaths names the files of the safe replace cycle
type SnapshotPaths struct {
	Current string // the live snapshot
	Backup  string // copy of the previous snapshot
	New     string // staging file written before the swap
}

var errUnreadableSnapshot = errors.New("snapshot unreadable")

type snapshotFile struct {
	Airports []snapshotEntry `json:"airports"`
}

// snapshotEntry fields are ordered alphabetically to keep the file diff friendly
type snapshotEntry struct {
	Active  flexBool `json:"active"`
	Heatmap flexInt  `json:"heatmap"`
	ICAO    string   `json:"icao"`
	LED     ledIndex `json:"led"`
	Purpose string   `json:"purpose"`
	WxSrc   string   `json:"wxsrc"`
}

// flexBool reads true, "True" and "1" alike and writes "True" or "False"
type flexBool bool

func (b flexBool) MarshalJSON() ([]byte, error) {
	if b {
		return []byte(`"True"`), nil
	}
	return []byte(`"False"`), nil
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("active: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		*b = true
	case "false", "0", "no", "off", "":
		*b = false
	default:
		return fmt.Errorf("active: unrecognized value %q", s)
	}
	return nil
}

// flexInt reads numbers and numeric strings
type flexInt int

func (n flexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(n))
}

func (n *flexInt) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err == nil {
		*n = flexInt(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not an integer: %q", s)
	}
	*n = flexInt(v)
	return nil
}

// ledIndex is a flexInt written as a string
type ledIndex flexInt

func (n ledIndex) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.Itoa(int(n)))
}

func (n *ledIndex) UnmarshalJSON(data []byte) error {
	return (*flexInt)(n).UnmarshalJSON(data)
}

// SaveSnapshot persists the configuration of every configured airport. The staging file
// is synced, the current file copied to the backup, and the staging file renamed over
// the current one, so an interrupted save leaves either the old or the new snapshot.
// A current file that does not decode never replaces the backup.
func (d *Directory) SaveSnapshot(paths SnapshotPaths) error {
	data, err := d.MarshalSnapshot()
	if err != nil {
		return err
	}

	if err := writeSynced(paths.New, data); err != nil {
		return fmt.Errorf("failed to write staging snapshot: %w", err)
	}

	if paths.Backup != "" {
		err := backupSnapshot(paths.Current, paths.Backup)
		switch {
		case errors.Is(err, errUnreadableSnapshot):
			d.logger.Warn("Current snapshot unreadable, keeping previous backup",
				logger.String("path", paths.Current),
				logger.Error(err))
		case err != nil:
			return fmt.Errorf("failed to back up snapshot: %w", err)
		}
	}

	if err := os.Rename(paths.New, paths.Current); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	d.logger.Info("Saved airport snapshot", logger.String("path", paths.Current))
	return nil
}

// MarshalSnapshot renders the configured airports in snapshot form
func (d *Directory) MarshalSnapshot() ([]byte, error) {
	file := snapshotFile{Airports: []snapshotEntry{}}
	for _, a := range d.Configured() {
		cfg := a.Config()
		file.Airports = append(file.Airports, snapshotEntry{
			Active:  flexBool(cfg.Active),
			Heatmap: flexInt(cfg.Heatmap),
			ICAO:    cfg.ICAO,
			LED:     ledIndex(cfg.LED),
			Purpose: string(cfg.Purpose),
			WxSrc:   cfg.Source.String(),
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(file); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadSnapshot restores configuration from the current snapshot, falling back to the
// backup when the current file is missing or unreadable
func (d *Directory) LoadSnapshot(paths SnapshotPaths) error {
	entries, err := readSnapshot(paths.Current)
	if err != nil {
		if paths.Backup == "" {
			return err
		}
		d.logger.Warn("Airport snapshot unreadable, trying backup",
			logger.String("path", paths.Current),
			logger.Error(err))

		var backupErr error
		entries, backupErr = readSnapshot(paths.Backup)
		if backupErr != nil {
			return errors.Join(err, backupErr)
		}
	}

	configs := snapshotConfigs(entries, d.logger)
	result := d.MergeConfig(configs)

	d.logger.Info("Loaded airport snapshot",
		logger.Int("airports", len(configs)),
		logger.Int("created", result.Created),
		logger.Int("updated", result.Updated))
	return nil
}

// DecodeSnapshot parses snapshot JSON into airport configurations, with the same
// tolerance for bad entries as LoadSnapshot
func DecodeSnapshot(r io.Reader, log *logger.Logger) ([]Config, error) {
	var file snapshotFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snapshotConfigs(file.Airports, log), nil
}

// snapshotConfigs converts entries, skipping those without an ICAO or with an unknown
// purpose. An unknown weather source falls back to the primary feed.
func snapshotConfigs(entries []snapshotEntry, log *logger.Logger) []Config {
	configs := make([]Config, 0, len(entries))
	for _, e := range entries {
		icao := NormalizeICAO(e.ICAO)
		if icao == "" {
			log.Warn("Skipping snapshot entry without icao")
			continue
		}
		purpose, ok := ParsePurpose(e.Purpose)
		if !ok {
			log.Warn("Skipping snapshot entry",
				logger.String("icao", e.ICAO),
				logger.String("purpose", e.Purpose))
			continue
		}
		src, err := ParseWeatherSource(e.WxSrc)
		if err != nil {
			log.Warn("Unknown weather source, using primary feed",
				logger.String("icao", e.ICAO),
				logger.String("wxsrc", e.WxSrc))
		}
		configs = append(configs, Config{
			ICAO:    icao,
			LED:     int(e.LED),
			Active:  bool(e.Active),
			Purpose: purpose,
			Heatmap: int(e.Heatmap),
			Source:  src,
		})
	}
	return configs
}

func readSnapshot(path string) ([]snapshotEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	var file snapshotFile
	if err := json.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return file.Airports, nil
}

func writeSynced(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// backupSnapshot copies src to dst when src holds a decodable snapshot.
// A missing src is not an error.
func backupSnapshot(src, dst string) error {
	data, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %v", errUnreadableSnapshot, err)
	}
	return writeSynced(dst, data)
}
