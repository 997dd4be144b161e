// Package sqlite is the database layer (archived_media, assets,
// asset_blobs, radio_stations, schema_migrations), backed by
// modernc.org/sqlite — a pure-Go driver needing no cgo, matching the
// teacher's general avoidance of cgo elsewhere in its stack.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"
)

// Pool owns the single underlying connection. Like the reference
// implementation's Mutex<Connection>, every operation is serialized
// through one connection rather than a true multi-connection pool —
// SQLite only supports one writer at a time regardless, and modernc's
// driver needs SetMaxOpenConns(1) to avoid spurious "database is
// locked" errors under concurrent access.
type Pool struct {
	db *sql.DB
}

// Open opens path (creating it if absent) and runs migrations, exactly
// as the reference implementation's db::open does on every startup.
func Open(ctx context.Context, path string) (*Pool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Pool{db: db}, nil
}

func (p *Pool) Close() error {
	return p.db.Close()
}

// MigrationError reports that the database has migrations applied that
// this binary doesn't know about — refusing to start is safer than
// silently ignoring schema it can't account for.
type MigrationError struct {
	UnknownVersions []string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("unknown migration versions already applied in database: %v", e.UnknownVersions)
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		return err
	}
	applied := map[string]bool{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return err
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	remaining := map[string]bool{}
	for v := range applied {
		remaining[v] = true
	}

	for _, m := range migrations {
		version, _, ok := splitMigrationName(m.name)
		if !ok {
			return fmt.Errorf("migration name %q contains no underscore", m.name)
		}

		if remaining[version] {
			delete(remaining, version)
			continue
		}

		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return err
		}
	}

	if len(remaining) > 0 {
		versions := make([]string, 0, len(remaining))
		for v := range remaining {
			versions = append(versions, v)
		}
		sort.Strings(versions)
		return &MigrationError{UnknownVersions: versions}
	}

	return tx.Commit()
}

func splitMigrationName(name string) (version, description string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '_' {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}
