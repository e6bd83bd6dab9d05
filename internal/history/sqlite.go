package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/synctab/synctab/internal/model"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a table with an explicit dry_run column.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		at DATETIME NOT NULL,
		exit_code INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		dry_run BOOLEAN NOT NULL DEFAULT 0,
		line TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_entity_id ON runs(entity_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, rec model.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (entity_id, kind, at, exit_code, outcome, dry_run, line) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.EntityID, string(rec.Kind), rec.Time.UTC(), rec.ExitCode, rec.Outcome, rec.DryRun, rec.Line(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, entityID string) ([]model.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, kind, at, exit_code, outcome, dry_run FROM runs WHERE entity_id = ? ORDER BY id`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var ret []model.RunRecord
	for rows.Next() {
		var rec model.RunRecord
		var kind string
		if err := rows.Scan(&rec.EntityID, &kind, &rec.Time, &rec.ExitCode, &rec.Outcome, &rec.DryRun); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Kind = model.EntityKind(kind)
		ret = append(ret, rec)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
