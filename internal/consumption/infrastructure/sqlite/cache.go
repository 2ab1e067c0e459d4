package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	consumption "easee-invoicing/internal/consumption/domain"
)

var errEmptyOwner = errors.New("consumption cache: empty owner")

// Cache persists raw monthly consumption payloads in a local SQLite file.
type Cache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database and initializes the schema.
func Open(ctx context.Context, path string) (*Cache, error) {
	if path == "" {
		return nil, errors.New("consumption cache: empty path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &Cache{db: db}
	if err := c.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}
	return c, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) initSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS consumption_cache (
	owner TEXT NOT NULL,
	charger_id TEXT NOT NULL,
	year INTEGER NOT NULL,
	month INTEGER NOT NULL,
	payload TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (owner, charger_id, year, month)
);`)
	return err
}

// Get returns the payload owner cached for a charger month.
func (c *Cache) Get(ctx context.Context, owner, chargerID string, period consumption.Period) (json.RawMessage, bool, error) {
	if c == nil || c.db == nil {
		return nil, false, errors.New("consumption cache: nil db")
	}
	if owner == "" {
		return nil, false, errEmptyOwner
	}
	var payload string
	err := c.db.QueryRowContext(ctx, `
SELECT payload FROM consumption_cache
WHERE owner = ? AND charger_id = ? AND year = ? AND month = ?`,
		owner, chargerID, period.Year, int(period.Month)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying consumption cache: %w", err)
	}
	return json.RawMessage(payload), true, nil
}

// Put upserts the payload of owner.
func (c *Cache) Put(ctx context.Context, owner, chargerID string, period consumption.Period, payload json.RawMessage, fetchedAt time.Time) error {
	if c == nil || c.db == nil {
		return errors.New("consumption cache: nil db")
	}
	if owner == "" {
		return errEmptyOwner
	}
	_, err := c.db.ExecContext(ctx, `
INSERT INTO consumption_cache (owner, charger_id, year, month, payload, fetched_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (owner, charger_id, year, month)
DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		owner, chargerID, period.Year, int(period.Month), string(payload), fetchedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing consumption cache: %w", err)
	}
	return nil
}
