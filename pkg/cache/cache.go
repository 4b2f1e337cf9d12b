package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"modernc.org/sqlite"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

// Entry is a cached scan of some content with some options.
type Entry struct {
	Key       string
	SHA256    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Result    datamodel.Result
}

type Cacher interface {
	// Set adds or updates a cache entry
	Set(ctx context.Context, entry *Entry) error

	// Get fetch a cache entry
	Get(ctx context.Context, key string) (entry *Entry, err error)

	Close() error
}

var ErrEntryNotFound = errors.New("entry not found")

type Cache struct {
	db *sql.DB
	sync.Mutex
}

var _ Cacher = &Cache{}

const CreateTable = `CREATE TABLE IF NOT EXISTS results (
	key TEXT PRIMARY KEY,
	sha256 TEXT NOT NULL,
	created_at int NOT NULL,
	updated_at int NOT NULL,
	result TEXT NOT NULL);`

// ComputeKey identifies a scan by the content hash, the file extension (it
// drives classification) and the options changing its result.
func ComputeKey(contentSHA256, extension string, videoSampleRate int, verbose bool) string {
	hash := sha256.New()
	hash.Write([]byte(contentSHA256))
	hash.Write([]byte{0})
	hash.Write([]byte(extension))
	hash.Write([]byte{0})
	hash.Write([]byte(strconv.Itoa(videoSampleRate)))
	hash.Write([]byte(strconv.FormatBool(verbose)))
	return hex.EncodeToString(hash.Sum(nil))
}

func NewCache(ctx context.Context, location string) (c *Cache, err error) {
	if location == "" {
		location = "file::memory:"
	} else {
		_, err = os.Stat(location)
		if errors.Is(err, os.ErrNotExist) {
			dir, _ := filepath.Split(location)
			if dir != "" {
				if err = os.MkdirAll(dir, 0o750); err != nil {
					return
				}
			}
			f, createErr := os.Create(filepath.Clean(location))
			if createErr != nil {
				err = createErr
				return
			}
			if err = f.Close(); err != nil {
				return
			}
		}
	}
	db, err := sql.Open("sqlite", location)
	if err != nil {
		err = fmt.Errorf("failed to open cache db: %w", err)
		return
	}
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, CreateTable); err != nil {
		err = fmt.Errorf("failed to create cache db: %w", err)
		return
	}
	logger.Debug("cache opened", slog.String("location", location))

	c = &Cache{db: db}
	return
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Get(ctx context.Context, key string) (entry *Entry, err error) {
	c.Lock()
	defer c.Unlock()
	entry = &Entry{}
	var (
		createdAt, updatedAt int64
		result               string
	)
	err = c.db.QueryRowContext(ctx, "SELECT key, sha256, created_at, updated_at, result FROM results where key = ?", key).Scan(
		&entry.Key,
		&entry.SHA256,
		&createdAt,
		&updatedAt,
		&result,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return
	}
	entry.CreatedAt = time.UnixMilli(createdAt)
	entry.UpdatedAt = time.UnixMilli(updatedAt)
	if err = json.Unmarshal([]byte(result), &entry.Result); err != nil {
		err = fmt.Errorf("corrupted cache entry %s: %w", key, err)
		return nil, err
	}
	return
}

var Now = time.Now

func (c *Cache) Set(ctx context.Context, entry *Entry) (err error) {
	result, err := json.Marshal(entry.Result)
	if err != nil {
		return
	}
	c.Lock()
	defer c.Unlock()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logger.Error("cannot rollback cache set transaction", slog.String("error", rollbackErr.Error()))
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("cannot commit cache set transaction, error: %w", commitErr)
		}
	}()
	if entry.CreatedAt.UnixMilli() <= 0 {
		entry.CreatedAt = Now()
	}
	entry.UpdatedAt = Now()
	_, err = tx.ExecContext(ctx, `INSERT INTO results (key, sha256, created_at, updated_at, result)
VALUES ($1, $2, $3, $4, $5)`,
		entry.Key,
		entry.SHA256,
		entry.CreatedAt.UnixMilli(),
		entry.UpdatedAt.UnixMilli(),
		string(result),
	)
	if err == nil {
		return
	}
	// check for update
	sqliteErr := new(sqlite.Error)
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == 1555 {
		_, err = tx.ExecContext(ctx, `UPDATE results SET sha256=$2, updated_at=$3, result=$4 WHERE key = $1`,
			entry.Key,
			entry.SHA256,
			entry.UpdatedAt.UnixMilli(),
			string(result),
		)
	}
	return
}
