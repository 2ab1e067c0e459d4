package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const insertEntrySQL = `
INSERT INTO audit_logs (
	id, actor, action, resource_type, resource_id, charger_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`

// Repository stores audit entries in the audit_logs table.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository. A nil db yields nil.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log inserts one entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	entry.fillDefaults()

	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	if _, err := r.db.ExecContext(ctx, insertEntrySQL,
		entry.ID, entry.Actor, entry.Action, entry.ResourceType, entry.ResourceID, entry.ChargerID,
		metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("audit repo: insert %s: %w", entry.Action, err)
	}
	return nil
}
