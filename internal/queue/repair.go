package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RepairStats summarizes one repair pass over a queue directory.
type RepairStats struct {
	Scanned       int
	Corrupted     int
	Repaired      int
	MovedToErrors int
}

// Repair scans every JSON file in dir, salvages corrupted ones where
// possible (stripping embedded NUL bytes and surrounding whitespace),
// and quarantines the rest. Running it again on clean data reports only
// scanned files. A missing directory yields zero stats.
func (s *Store) Repair(dir string) (RepairStats, error) {
	var stats RepairStats

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("queue directory does not exist", "path", dir)
			return stats, nil
		}
		return stats, Classify(err, dir, "repair")
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		stats.Scanned++

		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("read file during repair", "path", path, "error", err)
			continue
		}
		if json.Valid(data) {
			continue
		}
		stats.Corrupted++
		s.log.Warn("corrupted queue file detected", "path", path)

		cleaned := bytes.TrimSpace(bytes.ReplaceAll(data, []byte{0}, nil))
		if json.Valid(cleaned) {
			if err := os.WriteFile(path, cleaned, 0o640); err != nil {
				s.log.Error("rewrite repaired file", "path", path, "error", err)
				continue
			}
			stats.Repaired++
			s.log.Info("repaired corrupted queue file", "path", path)
			continue
		}

		if err := s.Move(path, LocationError); err != nil {
			s.log.Error("move unrecoverable file", "path", path, "error", err)
			continue
		}
		stats.MovedToErrors++
		s.log.Info("moved unrecoverable file to error directory", "path", path)
	}

	s.log.Info("queue repair completed",
		"scanned", stats.Scanned,
		"corrupted", stats.Corrupted,
		"repaired", stats.Repaired,
		"moved_to_errors", stats.MovedToErrors,
	)
	return stats, nil
}
