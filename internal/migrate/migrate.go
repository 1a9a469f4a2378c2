// Package migrate applies the embedded schema migrations to a registry
// database. Versions are tracked in schema_migrations with a dirty flag so a
// half-applied migration is detected instead of silently reapplied.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/damienfeller/IC-test-lab-segmentation/migrations"
)

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

var upPattern = regexp.MustCompile(`^(\d+)_(.+)\.up\.sql$`)

// Load reads the embedded migration files sorted by version.
func Load() ([]Migration, error) {
	var result []Migration

	err := fs.WalkDir(migrations.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		matches := upPattern.FindStringSubmatch(filepath.Base(path))
		if matches == nil {
			return nil
		}

		version, _ := strconv.Atoi(matches[1])
		name := matches[2]

		upSQL, err := fs.ReadFile(migrations.FS, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		// Down migrations are optional.
		downSQL, err := fs.ReadFile(migrations.FS, fmt.Sprintf("%03d_%s.down.sql", version, name))
		if err != nil {
			downSQL = nil
		}

		result = append(result, Migration{
			Version: version,
			Name:    name,
			UpSQL:   string(upSQL),
			DownSQL: string(downSQL),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			dirty INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// CurrentVersion returns the applied version and whether a migration was
// interrupted mid-apply.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, bool, error) {
	var version, dirty int
	err := db.QueryRowContext(ctx,
		`SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &dirty)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, dirty == 1, nil
}

func setVersion(ctx context.Context, db *sql.DB, version int, dirty bool) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		return err
	}
	if version == 0 {
		return nil
	}
	dirtyInt := 0
	if dirty {
		dirtyInt = 1
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirtyInt)
	return err
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	if err := setVersion(ctx, db, m.Version, true); err != nil {
		return fmt.Errorf("set dirty flag: %w", err)
	}

	for _, stmt := range strings.Split(m.UpSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d_%s: %w", m.Version, m.Name, err)
		}
	}

	return setVersion(ctx, db, m.Version, false)
}

// RunAll applies every pending migration. A dirty database is an error; it
// needs manual repair, not another automatic pass.
func RunAll(ctx context.Context, db *sql.DB) error {
	if err := ensureTable(ctx, db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, dirty, err := CurrentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d", current)
	}

	all, err := Load()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	for _, m := range all {
		if m.Version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}
