package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	stdfs "io/fs"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Open opens (or creates) the SQLite file backing the table store and applies pending migrations.
// Migrations live under internal/db/migrations as 0001_name.up.sql / 0001_name.down.sql.
// A script whose first line is "-- NO_TX" runs outside a transaction.
func Open(ctx context.Context, path string, log *zap.Logger) (*sql.DB, error) {
	if path == "" {
		path = "dispatch.db"
	}
	if log == nil {
		log = zap.NewNop()
	}
	d, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := d.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	// journal_mode is not supported for in-memory databases.
	_, _ = d.ExecContext(ctx, `PRAGMA journal_mode=WAL`)
	for _, pragma := range []string{`PRAGMA busy_timeout=5000`, `PRAGMA foreign_keys=ON`} {
		if _, err := d.ExecContext(ctx, pragma); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	applied, err := applyMigrations(ctx, d)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	if len(applied) > 0 {
		log.Info("applied migrations", zap.String("path", path), zap.Ints("versions", applied))
	}
	return d, nil
}

// RollbackLast reverts the most recently applied migration, if its down script exists.
func RollbackLast(ctx context.Context, d *sql.DB) error {
	if d == nil {
		return errors.New("nil db")
	}
	if err := ensureMigrationsTable(ctx, d); err != nil {
		return err
	}
	var version int
	err := d.QueryRowContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		return err
	}
	migs, err := loadMigrations()
	if err != nil {
		return err
	}
	m, ok := migs[version]
	if !ok || m.downFile == "" {
		return fmt.Errorf("no down migration found for version %d", version)
	}
	return runMigration(ctx, d, m.downFile, `DELETE FROM schema_migrations WHERE version = ?`, version)
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version  int
	name     string
	upFile   string
	downFile string
}

var migFileRe = regexp.MustCompile(`^([0-9]{4})_(.+)\.(up|down)\.sql$`)

func loadMigrations() (map[int]migration, error) {
	entries := map[int]migration{}
	list, err := stdfs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return entries, nil
	}
	for _, de := range list {
		if de.IsDir() {
			continue
		}
		m := migFileRe.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		var ver int
		if _, err := fmt.Sscanf(m[1], "%04d", &ver); err != nil {
			continue
		}
		item := entries[ver]
		item.version = ver
		item.name = m[2]
		p := "migrations/" + de.Name()
		if m[3] == "up" {
			item.upFile = p
		} else {
			item.downFile = p
		}
		entries[ver] = item
	}
	return entries, nil
}

func ensureMigrationsTable(ctx context.Context, d *sql.DB) error {
	_, err := d.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version INTEGER PRIMARY KEY,
        applied_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
    )`)
	return err
}

func appliedVersions(ctx context.Context, d *sql.DB) (map[int]bool, error) {
	if err := ensureMigrationsTable(ctx, d); err != nil {
		return nil, err
	}
	rows, err := d.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	got := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		got[v] = true
	}
	return got, rows.Err()
}

// applyMigrations runs every pending up script in version order and returns the versions applied.
func applyMigrations(ctx context.Context, d *sql.DB) ([]int, error) {
	migs, err := loadMigrations()
	if err != nil || len(migs) == 0 {
		return nil, err
	}
	applied, err := appliedVersions(ctx, d)
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(migs))
	for v := range migs {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	var done []int
	for _, v := range versions {
		if applied[v] {
			continue
		}
		m := migs[v]
		if strings.TrimSpace(m.upFile) == "" {
			return done, fmt.Errorf("missing up migration for version %04d", v)
		}
		if err := runMigration(ctx, d, m.upFile, `INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return done, fmt.Errorf("migration %04d (%s) failed: %w", v, m.name, err)
		}
		done = append(done, v)
	}
	return done, nil
}

// runMigration executes one script and records the bookkeeping statement,
// inside a transaction unless the script opts out with "-- NO_TX".
func runMigration(ctx context.Context, d *sql.DB, file, bookkeeping string, version int) error {
	raw, err := migrationsFS.ReadFile(file)
	if err != nil {
		return err
	}
	text := string(raw)
	if strings.HasPrefix(strings.TrimSpace(text), "-- NO_TX") {
		if _, err := d.ExecContext(ctx, text); err != nil {
			return err
		}
		_, err := d.ExecContext(ctx, bookkeeping, version)
		return err
	}
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, text); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
