package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"modernc.org/sqlite"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

const createJobsTable = `CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	filename TEXT,
	status TEXT NOT NULL,
	result TEXT,
	error TEXT,
	created_at int NOT NULL,
	updated_at int NOT NULL);`

// SQLiteStore persists records so that they survive a restart and can be read
// by another process (stegascan job get).
type SQLiteStore struct {
	db       *sql.DB
	location string
	sync.Mutex
}

var _ Store = &SQLiteStore{}

// NewSQLiteStore opens the database at location, in memory when location is empty.
func NewSQLiteStore(ctx context.Context, location string) (s *SQLiteStore, err error) {
	finalLocation := "file::memory:"
	if location != "" {
		_, err = os.Stat(location)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
			dir, _ := filepath.Split(location)
			if dir != "" {
				if err = os.MkdirAll(dir, 0o750); err != nil {
					err = fmt.Errorf("failed to create job store location: %w", err)
					return
				}
			}
			f, createErr := os.Create(filepath.Clean(location))
			if createErr != nil {
				err = fmt.Errorf("failed to create job store file: %w", createErr)
				return
			}
			if err = f.Close(); err != nil {
				return
			}
		default:
			return
		}
		finalLocation = location
	}

	db, err := sql.Open("sqlite", finalLocation)
	if err != nil {
		err = fmt.Errorf("failed to open job store: %w", err)
		return
	}
	// a second connection to file::memory: would see another database
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, createJobsTable); err != nil {
		err = fmt.Errorf("failed to create job store: %w", err)
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("cannot close job store", slog.String("error", closeErr.Error()))
		}
		return
	}
	logger.Debug("job store opened", slog.String("location", finalLocation))
	s = &SQLiteStore{db: db, location: finalLocation}
	return
}

func (s *SQLiteStore) Location() string {
	return s.location
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, rec Record) (err error) {
	s.Lock()
	defer s.Unlock()
	now := Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	result, err := encodeResult(rec.Result)
	if err != nil {
		return
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO analyses (id, filename, status, result, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID,
		rec.Filename,
		string(rec.Status),
		result,
		rec.Error,
		rec.CreatedAt.UnixMilli(),
		now.UnixMilli(),
	)
	sqliteErr := new(sqlite.Error)
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == 1555 {
		err = ErrJobExists
	}
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (rec Record, err error) {
	var (
		status, result, errMsg sql.NullString
		createdAt, updatedAt   int64
	)
	err = row.Scan(&rec.ID, &rec.Filename, &status, &result, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrJobNotFound
		}
		return
	}
	rec.Status = Status(status.String)
	rec.Error = errMsg.String
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	if result.String != "" {
		rec.Result = &datamodel.Result{}
		if err = json.Unmarshal([]byte(result.String), rec.Result); err != nil {
			err = fmt.Errorf("corrupted result for analysis %s: %w", rec.ID, err)
		}
	}
	return
}

func encodeResult(res *datamodel.Result) (encoded sql.NullString, err error) {
	if res == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	encoded = sql.NullString{String: string(raw), Valid: true}
	return
}

const selectRecord = "SELECT id, filename, status, result, error, created_at, updated_at FROM analyses WHERE id = ?"

func (s *SQLiteStore) Get(ctx context.Context, id string) (rec Record, err error) {
	s.Lock()
	defer s.Unlock()
	return scanRecord(s.db.QueryRowContext(ctx, selectRecord, id))
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, update Update) (rec Record, err error) {
	s.Lock()
	defer s.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logger.Error("cannot rollback transition", slog.String("id", id), slog.String("error", rollbackErr.Error()))
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("cannot commit transition, error: %w", commitErr)
		}
	}()

	rec, err = scanRecord(tx.QueryRowContext(ctx, selectRecord, id))
	if err != nil {
		return
	}
	if err = checkTransition(rec.Status, update.Status); err != nil {
		return
	}
	result, err := encodeResult(update.Result)
	if err != nil {
		return
	}
	rec.Status = update.Status
	rec.Result = update.Result
	rec.Error = update.Error
	rec.UpdatedAt = Now()
	_, err = tx.ExecContext(ctx, `UPDATE analyses SET status=$2, result=$3, error=$4, updated_at=$5 WHERE id = $1`,
		id,
		string(rec.Status),
		result,
		rec.Error,
		rec.UpdatedAt.UnixMilli(),
	)
	return
}

func (s *SQLiteStore) DeleteBefore(ctx context.Context, t time.Time) (deleted int, err error) {
	s.Lock()
	defer s.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE status IN ($1, $2) AND updated_at < $3`,
		string(StatusCompleted), string(StatusFailed), t.UnixMilli())
	if err != nil {
		return
	}
	n, err := res.RowsAffected()
	deleted = int(n)
	return
}
