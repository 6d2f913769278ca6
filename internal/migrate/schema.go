// Package migrate applies the versioned Postgres schema and optional SQL seed
// files, recording what ran so repeated runs are no-ops.
package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration is one schema version: an up script and an optional down script.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Reversible reports whether the migration has a down script.
func (m Migration) Reversible() bool { return strings.TrimSpace(m.Down) != "" }

func (m Migration) String() string { return fmt.Sprintf("%04d_%s", m.Version, m.Name) }

// ErrIrreversible is returned when rolling back a migration without a down script.
var ErrIrreversible = errors.New("migrate: migration has no down script")

var fileName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Load reads NNNN_name.up.sql and NNNN_name.down.sql files from the root of
// fsys and returns them ordered by version. Files not matching the pattern
// are ignored. Every version needs an up script, and a version may be used
// by one name only.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	byVersion := make(map[int]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		parts := fileName.FindStringSubmatch(e.Name())
		if parts == nil {
			continue
		}
		version, err := strconv.Atoi(parts[1])
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("%s: bad version", e.Name())
		}
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		} else if m.Name != parts[2] {
			return nil, fmt.Errorf("version %d used by both %q and %q", version, m.Name, parts[2])
		}
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, err
		}
		if parts[3] == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.Up) == "" {
			return nil, fmt.Errorf("%s: missing up script", m)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// seedFiles lists the .sql files at the root of fsys in name order.
func seedFiles(fsys fs.FS) ([]string, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
