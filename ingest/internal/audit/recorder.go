// Package audit writes signed audit entries inside the caller's transaction.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	commonaudit "github.com/telhawk-systems/ledgersafe/common/audit"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/hashing"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/repository"
)

// ErrIncomplete is returned when an entry lacks its actor, action or object
// identity.
var ErrIncomplete = errors.New("incomplete audit entry")

// Entry describes one state-changing action. Before and After are JSON
// marshaled; nil means "no snapshot".
type Entry struct {
	Actor      string
	Action     string
	ObjectType string
	ObjectID   string
	Before     interface{}
	After      interface{}
	Notes      string
}

type Recorder struct {
	signer *commonaudit.Signer
	now    func() time.Time
}

func NewRecorder(signingSecret string) *Recorder {
	return &Recorder{
		signer: commonaudit.NewSigner(signingSecret),
		now:    time.Now,
	}
}

// Record signs e and inserts it through tx.
func (r *Recorder) Record(ctx context.Context, tx repository.Tx, e Entry) (*models.AuditEntry, error) {
	if err := e.check(); err != nil {
		return nil, err
	}

	before, err := snapshot(e.Before)
	if err != nil {
		return nil, fmt.Errorf("audit before snapshot: %w", err)
	}
	after, err := snapshot(e.After)
	if err != nil {
		return nil, fmt.Errorf("audit after snapshot: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("audit id: %w", err)
	}

	entry := &models.AuditEntry{
		AuditID: id.String(),
		// Postgres keeps microseconds; truncate so the signature survives
		// a round trip.
		OccurredAt: r.now().UTC().Truncate(time.Microsecond),
		Actor:      e.Actor,
		Action:     e.Action,
		ObjectType: e.ObjectType,
		ObjectID:   e.ObjectID,
		Before:     before,
		After:      after,
	}
	if e.Notes != "" {
		entry.Notes = models.StringPtr(e.Notes)
	}

	fields, err := signedFields(entry)
	if err != nil {
		return nil, err
	}
	entry.Signature = r.signer.Sign(fields...)

	if err := tx.InsertAudit(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (e Entry) check() error {
	required := []struct {
		name  string
		value string
	}{
		{"actor", e.Actor},
		{"action", e.Action},
		{"object_type", e.ObjectType},
		{"object_id", e.ObjectID},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// Verify reports whether entry still matches its signature. Snapshots are
// compared in canonical form, so storage that reformats JSON does not break
// verification.
func (r *Recorder) Verify(entry *models.AuditEntry) bool {
	fields, err := signedFields(entry)
	if err != nil {
		return false
	}
	return r.signer.Verify(entry.Signature, fields...)
}

func snapshot(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}

	var out []byte
	var err error
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return nil, nil
		}
		out, err = hashing.CanonicalizeJSON(raw)
	} else {
		out, err = hashing.Canonicalize(v)
	}
	if err != nil {
		return nil, err
	}
	// Typed nil pointers marshal to null.
	if string(out) == "null" {
		return nil, nil
	}
	return out, nil
}

func signedFields(e *models.AuditEntry) ([][]byte, error) {
	before, err := canonicalOrEmpty(e.Before)
	if err != nil {
		return nil, err
	}
	after, err := canonicalOrEmpty(e.After)
	if err != nil {
		return nil, err
	}
	var notes string
	if e.Notes != nil {
		notes = *e.Notes
	}
	return [][]byte{
		[]byte(e.AuditID),
		[]byte(e.OccurredAt.UTC().Format(time.RFC3339Nano)),
		[]byte(e.Actor),
		[]byte(e.Action),
		[]byte(e.ObjectType),
		[]byte(e.ObjectID),
		before,
		after,
		[]byte(notes),
	}, nil
}

func canonicalOrEmpty(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return hashing.CanonicalizeJSON(raw)
}
