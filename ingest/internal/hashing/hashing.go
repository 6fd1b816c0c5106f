// Package hashing derives the content hash that tells an exact duplicate
// apart from a conflicting correction under the same idempotency key.
//
// Content is canonicalized with RFC 8785 (JCS) before hashing, so key
// order, insignificant whitespace and number spelling ("42.50" vs "42.5")
// never produce a different hash.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Prefix names the digest algorithm in stored hashes.
const Prefix = "sha256:"

// Content is the business content of an arrival. Transport metadata
// (tenant, source system, schema version, source-native id) is left out so
// the same sale resent through another adapter is still a duplicate.
type Content struct {
	EventType  string          `json:"event_type"`
	StoreID    string          `json:"store_id"`
	TxnID      string          `json:"txn_id"`
	OccurredAt string          `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewContent builds the hashed document. occurredAt is normalized to UTC.
func NewContent(eventType, storeID, txnID string, occurredAt time.Time, payload json.RawMessage) Content {
	return Content{
		EventType:  eventType,
		StoreID:    storeID,
		TxnID:      txnID,
		OccurredAt: occurredAt.UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}
}

// Canonical returns the JCS form of the content.
func (c Content) Canonical() ([]byte, error) {
	return Canonicalize(c)
}

// Hash returns the prefixed SHA-256 of the canonical content.
func (c Content) Hash() (string, error) {
	b, err := c.Canonical()
	if err != nil {
		return "", err
	}
	return Sum(b), nil
}

// Canonicalize marshals v and rewrites it in RFC 8785 canonical form.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hashing: marshal: %w", err)
	}
	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON rewrites a JSON document in RFC 8785 canonical form.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("hashing: canonicalize: %w", err)
	}
	return out, nil
}

// Sum returns "sha256:<hex>" over b.
func Sum(b []byte) string {
	h := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(h[:])
}
