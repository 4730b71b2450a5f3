package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// ErrMigrationDrift reports an applied migration whose embedded SQL has
// since changed. Migrations are append-only like the collections they
// create.
var ErrMigrationDrift = errors.New("applied migration changed")

const migrationsTable = "steward_schema_migrations"

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
)

// ParseDriver maps a configured driver name to a DBDriver.
func ParseDriver(name string) (DBDriver, error) {
	switch DBDriver(name) {
	case DBSQLite, DBPostgres:
		return DBDriver(name), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedStore, name)
	}
}

// placeholder returns the n-th bind parameter for the driver.
func (d DBDriver) placeholder(n int) string {
	if d == DBPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

type migration struct {
	version  string
	sql      string
	checksum string
}

// Migrate applies the embedded migrations for driver in version order.
// Each one runs in its own transaction together with its bookkeeping row,
// so a failed migration leaves nothing behind.
func Migrate(ctx context.Context, db *sql.DB, driver DBDriver) error {
	if db == nil {
		return fmt.Errorf("missing db")
	}
	migrations, err := loadMigrations(driver)
	if err != nil {
		return err
	}
	if err := ensureMigrationsTable(ctx, db, driver); err != nil {
		return err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if sum, ok := applied[m.version]; ok {
			if sum != m.checksum {
				return fmt.Errorf("%w: %s", ErrMigrationDrift, m.version)
			}
			continue
		}
		if err := applyMigration(ctx, db, driver, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, driver DBDriver, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	insert := fmt.Sprintf("INSERT INTO %s(version, checksum, applied_at) VALUES(%s, %s, %s)",
		migrationsTable, driver.placeholder(1), driver.placeholder(2), driver.placeholder(3))
	if _, err := tx.ExecContext(ctx, insert, m.version, m.checksum, time.Now().UTC().Format(TimeLayout)); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB, driver DBDriver) error {
	if _, err := ParseDriver(string(driver)); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  version TEXT PRIMARY KEY,
  checksum TEXT NOT NULL,
  applied_at TEXT NOT NULL
)`, migrationsTable))
	return err
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT version, checksum FROM %s", migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, err
		}
		out[version] = sum
	}
	return out, rows.Err()
}

// loadMigrations reads migrations/<driver>/*.sql sorted by file name.
func loadMigrations(driver DBDriver) ([]migration, error) {
	if _, err := ParseDriver(string(driver)); err != nil {
		return nil, err
	}
	dir := path.Join("migrations", string(driver))
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		raw, err := migrationsFS.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(raw)
		out = append(out, migration{
			version:  strings.TrimSuffix(e.Name(), ".sql"),
			sql:      string(raw),
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
