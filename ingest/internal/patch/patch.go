// Package patch applies operator override patches (RFC 7396 JSON merge
// patches) to quarantined payloads before replay.
package patch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ErrInvalidPatch is returned when the override is not a JSON object.
var ErrInvalidPatch = errors.New("override patch must be a JSON object")

// ErrInvalidBase is returned when the stored payload is not a JSON object.
var ErrInvalidBase = errors.New("payload must be a JSON object")

// EventTypeField is the patch member that overrides the envelope's event
// type on replay.
const EventTypeField = "event_type"

// IsEmpty reports whether p carries no override: absent, blank, null or an
// object with no members.
func IsEmpty(p json.RawMessage) bool {
	t := bytes.TrimSpace(p)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return true
	}
	n := len(t)
	return n >= 2 && t[0] == '{' && t[n-1] == '}' && len(bytes.TrimSpace(t[1:n-1])) == 0
}

// Validate checks that p is empty or a JSON object.
func Validate(p json.RawMessage) error {
	if IsEmpty(p) {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(p, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return nil
}

// Apply merges p onto base and returns the effective payload. Neither
// argument is modified. An empty patch returns a copy of base.
func Apply(base, p json.RawMessage) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(base, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase, err)
	}

	if IsEmpty(p) {
		out := make(json.RawMessage, len(base))
		copy(out, base)
		return out, nil
	}
	if err := Validate(p); err != nil {
		return nil, err
	}

	merged, err := jsonpatch.MergePatch(base, p)
	if err != nil {
		return nil, fmt.Errorf("apply override patch: %w", err)
	}
	return merged, nil
}

// EventType returns the string event_type member set by the patch p itself,
// otherwise fallback. Members of the stored payload never override the
// envelope type.
func EventType(p json.RawMessage, fallback string) string {
	if IsEmpty(p) {
		return fallback
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(p, &members); err != nil {
		return fallback
	}
	raw, ok := members[EventTypeField]
	if !ok {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return fallback
	}
	return s
}
