package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DBPair is a WAL-mode SQLite database opened twice: a single-connection
// writer and a small read-only pool.
type DBPair struct {
	reader *sql.DB
	writer *sql.DB
}

// Reader returns the read-only pool.
func (p *DBPair) Reader() *sql.DB { return p.reader }

// Writer returns the single writer connection.
func (p *DBPair) Writer() *sql.DB { return p.writer }

// Close closes both pools.
func (p *DBPair) Close() error {
	var errs []error
	if err := p.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if err := p.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	return errors.Join(errs...)
}

// Ping checks both pools. Used by the readiness probe.
func (p *DBPair) Ping() error {
	if err := p.writer.Ping(); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if err := p.reader.Ping(); err != nil {
		return fmt.Errorf("ping reader: %w", err)
	}
	return nil
}

// Init opens dbPath, creating it and its directory if needed, and brings the
// schema up to date. Callers must import the go-sqlite3 driver.
func Init(dbPath string) (*DBPair, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	writer, err := sql.Open("sqlite3", dsn(dbPath, "rwc"))
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	if err := prepare(writer); err != nil {
		writer.Close()
		return nil, err
	}

	// The read-only pool needs the file to exist.
	reader, err := sql.Open("sqlite3", dsn(dbPath, "ro"))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(2)
	reader.SetConnMaxLifetime(time.Hour)

	return &DBPair{reader: reader, writer: writer}, nil
}

func dsn(path, mode string) string {
	return fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=%s", path, mode)
}

func prepare(writer *sql.DB) error {
	if _, err := writer.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL: %w", err)
	}
	if _, err := writer.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return runMigrations(writer)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// runMigrations adds columns introduced after the first release.
func runMigrations(db *sql.DB) error {
	columns, err := tableColumns(db, "schedules")
	if err != nil {
		return err
	}

	if !columns["last_action"] {
		if _, err := db.Exec("ALTER TABLE schedules ADD COLUMN last_action TEXT"); err != nil {
			return fmt.Errorf("add schedules.last_action: %w", err)
		}
		// Rows written before last_action existed only recorded starts.
		if _, err := db.Exec("UPDATE schedules SET last_action = 'start' WHERE last_triggered_at IS NOT NULL"); err != nil {
			return fmt.Errorf("backfill schedules.last_action: %w", err)
		}
	}

	if !columns["armed_at"] {
		if _, err := db.Exec("ALTER TABLE schedules ADD COLUMN armed_at TEXT NOT NULL DEFAULT ''"); err != nil {
			return fmt.Errorf("add schedules.armed_at: %w", err)
		}
		if _, err := db.Exec("UPDATE schedules SET armed_at = created_at WHERE armed_at = ''"); err != nil {
			return fmt.Errorf("backfill schedules.armed_at: %w", err)
		}
	}

	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultVal sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return columns, nil
}
