package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the web console and the invoice API.
const (
	ActionSessionLogin      = "session.login"
	ActionSessionLogout     = "session.logout"
	ActionInvoiceGenerate   = "invoice.generate"
	ActionInvoiceRegenerate = "invoice.regenerate"
	ActionInvoiceFreeze     = "invoice.freeze"
	ActionInvoiceVoid       = "invoice.void"
	ActionInvoiceExport     = "invoice.export"
)

// Resource types.
const (
	ResourceSession = "session"
	ResourceInvoice = "invoice"
	ResourceSite    = "site"
)

// ErrInvalidEntry is returned when an entry lacks an actor or action.
var ErrInvalidEntry = errors.New("audit: actor and action are required")

// Entry is one audited action of a signed-in Easee account.
type Entry struct {
	ID            string
	Actor         string
	Action        string
	ResourceType  string
	ResourceID    string
	ChargerID     string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest of the metadata payload.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WithMetadata encodes meta as the entry payload. Nil or empty maps leave it unset.
func (e Entry) WithMetadata(meta map[string]any) Entry {
	if len(meta) == 0 {
		return e
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return e
	}
	e.Metadata = payload
	return e
}

func (e *Entry) validate() error {
	if e.Actor == "" || e.Action == "" {
		return ErrInvalidEntry
	}
	return nil
}

func (e *Entry) fillDefaults() {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.PayloadDigest == "" {
		e.PayloadDigest = DigestJSON(e.Metadata)
	}
}
