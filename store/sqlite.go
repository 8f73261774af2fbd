package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nvr-ai/go-par/attributes"
)

// Run describes one evaluation run.
type Run struct {
	ID int64
	// UUID identifies the run across databases; generated by BeginRun when empty.
	UUID       string
	Database   string
	Model      string
	Backend    string
	Images     int
	StartedAt  time.Time
	FinishedAt time.Time
	// MA is valid once the run is finished on a labelled database.
	MA    float32
	Final bool
}

// SQLite keeps runs and their predictions in a SQLite database.
type SQLite struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the results database at path.
//
// Arguments:
//   - path: The database file. Its directory is created if missing.
//
// Returns:
//   - *SQLite: The store.
//   - error: An error if the database cannot be opened or migrated.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		database_name TEXT NOT NULL,
		model TEXT,
		backend TEXT,
		images INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		ma REAL
	);
	`

	predictionsTable := `
	CREATE TABLE IF NOT EXISTS predictions (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		position INTEGER NOT NULL,
		image_index INTEGER NOT NULL,
		path TEXT NOT NULL,
		attributes TEXT NOT NULL,
		duration_ns INTEGER NOT NULL,
		PRIMARY KEY (run_id, position)
	);
	`

	for _, table := range []string{runsTable, predictionsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Path returns the database file.
func (s *SQLite) Path() string {
	return s.path
}

// BeginRun records the start of a run and returns its ID.
//
// Arguments:
//   - ctx: Bounds the insert.
//   - run: The run metadata; ID, FinishedAt and MA are ignored.
//
// Returns:
//   - int64: The run ID.
//   - error: An error if the insert fails.
func (s *SQLite) BeginRun(ctx context.Context, run Run) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.UUID == "" {
		run.UUID = uuid.New().String()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (uuid, database_name, model, backend, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.UUID, run.Database, run.Model, run.Backend, run.StartedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	return res.LastInsertId()
}

// SavePrediction appends a prediction to a run. Predictions keep the order they are saved in.
//
// Arguments:
//   - ctx: Bounds the insert.
//   - runID: The run returned by BeginRun.
//   - pred: The prediction.
//
// Returns:
//   - error: An error if the insert fails.
func (s *SQLite) SavePrediction(ctx context.Context, runID int64, pred attributes.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := json.Marshal(toRecord(pred).Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var position int
	if err := tx.QueryRowContext(ctx,
		`SELECT images FROM runs WHERE id = ?`, runID).Scan(&position); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("run %d does not exist", runID)
		}
		return fmt.Errorf("failed to look up run: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO predictions (run_id, position, image_index, path, attributes, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, position, pred.Index, pred.Path, string(attrs), int64(pred.Duration)); err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET images = images + 1 WHERE id = ?`, runID); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return tx.Commit()
}

// FinishRun stamps the end of a run with its mA. Pass a negative mA for unlabelled runs.
//
// Arguments:
//   - ctx: Bounds the update.
//   - runID: The run returned by BeginRun.
//   - mA: The mean accuracy, or a negative value when not evaluated.
//
// Returns:
//   - error: An error if the update fails.
func (s *SQLite) FinishRun(ctx context.Context, runID int64, mA float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ma any
	if mA >= 0 {
		ma = float64(mA)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, ma = ? WHERE id = ?`,
		time.Now().UnixNano(), ma, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %d does not exist", runID)
	}
	return nil
}

// GetRun loads a run's metadata.
func (s *SQLite) GetRun(ctx context.Context, runID int64) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		run      Run
		model    sql.NullString
		backend  sql.NullString
		started  int64
		finished sql.NullInt64
		ma       sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, database_name, model, backend, images, started_at, finished_at, ma FROM runs WHERE id = ?`,
		runID).Scan(&run.ID, &run.UUID, &run.Database, &model, &backend, &run.Images, &started, &finished, &ma)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", runID, err)
	}

	run.Model = model.String
	run.Backend = backend.String
	run.StartedAt = time.Unix(0, started)
	if finished.Valid {
		run.FinishedAt = time.Unix(0, finished.Int64)
		run.Final = true
	}
	if ma.Valid {
		run.MA = float32(ma.Float64)
	} else {
		run.MA = -1
	}
	return &run, nil
}

// Predictions returns the predictions of a run in the order they were saved.
//
// Arguments:
//   - ctx: Bounds the query.
//   - runID: The run returned by BeginRun.
//
// Returns:
//   - []attributes.Prediction: The predictions.
//   - error: An error if the query fails or a row is corrupt.
func (s *SQLite) Predictions(ctx context.Context, runID int64) ([]attributes.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT image_index, path, attributes, duration_ns FROM predictions WHERE run_id = ? ORDER BY position`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var preds []attributes.Prediction
	for rows.Next() {
		var (
			r     record
			attrs string
		)
		if err := rows.Scan(&r.Index, &r.Path, &attrs, &r.DurationNS); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of image %d: %w", r.Index, err)
		}
		p, err := r.prediction()
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
