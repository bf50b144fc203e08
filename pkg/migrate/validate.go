package migrate

import (
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
)

const (
	versionLayout = "20060102150405"
	upMarker      = "-- +goose Up"
	downMarker    = "-- +goose Down"
)

// ValidateEmbedded checks the migrations compiled into the binary, which are
// the ones Run and MaybeRun apply.
func ValidateEmbedded() error {
	n, err := Validate(migrationsFS, DefaultDir)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no migrations embedded under %s", DefaultDir)
	}
	return nil
}

// Validate checks every .sql file in dir of fsys and returns how many it saw.
// Each file must be named <14-digit version>_<name>.sql with a unique version
// and carry an Up section followed by a Down section.
func Validate(fsys fs.FS, dir string) (int, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("read migrations %q: %w", dir, err)
	}

	versions := map[int64]string{}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		version, err := parseVersion(e.Name())
		if err != nil {
			return 0, err
		}
		if prev, ok := versions[version]; ok {
			return 0, fmt.Errorf("migrations %q and %q share version %d", prev, e.Name(), version)
		}
		versions[version] = e.Name()

		raw, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return 0, fmt.Errorf("read migration %q: %w", e.Name(), err)
		}
		if err := checkSections(string(raw)); err != nil {
			return 0, fmt.Errorf("migration %q: %w", e.Name(), err)
		}
	}
	return len(versions), nil
}

func parseVersion(filename string) (int64, error) {
	base := strings.TrimSuffix(filename, ".sql")
	version, name, ok := strings.Cut(base, "_")
	if !ok || len(version) != len(versionLayout) || sanitizeName(name) != name {
		return 0, fmt.Errorf("migration %q must be named <YYYYMMDDHHMMSS>_<lower_snake_name>.sql", filename)
	}
	v, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("migration %q has a non-numeric version", filename)
	}
	return v, nil
}

func checkSections(sql string) error {
	up := strings.Index(sql, upMarker)
	down := strings.Index(sql, downMarker)
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", upMarker)
	case down < 0:
		return fmt.Errorf("missing %q", downMarker)
	case down < up:
		return fmt.Errorf("%q must come before %q", upMarker, downMarker)
	}
	return nil
}
