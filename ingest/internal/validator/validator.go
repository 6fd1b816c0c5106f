// Package validator rejects malformed submissions before any state is
// touched and owns the supported event-type allowlist.
package validator

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
)

//go:embed schema/ingest_event.schema.json
var ingestEventSchema string

const ingestEventSchemaURL = "https://ledgersafe.local/schemas/ingest_event.schema.json"

// DefaultAllowedEventTypes is used when configuration supplies none.
var DefaultAllowedEventTypes = []string{"SALE", "REFUND", "RETURN", "VOID", "PAYMENT", "ADJUSTMENT"}

// FieldError describes one invalid member.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a submission.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Field == "" {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "invalid event: " + strings.Join(parts, "; ")
}

// Validator checks submissions against the ingest schema.
type Validator struct {
	schema  *jsonschema.Schema
	allowed map[string]struct{}
	types   []string
}

// New compiles the ingest schema and builds the allowlist.
func New(allowedEventTypes []string) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(ingestEventSchemaURL, strings.NewReader(ingestEventSchema)); err != nil {
		return nil, fmt.Errorf("ingest schema load failed: %w", err)
	}
	schema, err := c.Compile(ingestEventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("ingest schema compile failed: %w", err)
	}

	if len(allowedEventTypes) == 0 {
		allowedEventTypes = DefaultAllowedEventTypes
	}
	v := &Validator{
		schema:  schema,
		allowed: make(map[string]struct{}, len(allowedEventTypes)),
	}
	for _, t := range allowedEventTypes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := v.allowed[t]; dup {
			continue
		}
		v.allowed[t] = struct{}{}
		v.types = append(v.types, t)
	}
	sort.Strings(v.types)

	return v, nil
}

// IsAllowedEventType reports whether t is in the allowlist.
func (v *Validator) IsAllowedEventType(t string) bool {
	_, ok := v.allowed[t]
	return ok
}

// AllowedEventTypes returns the sorted allowlist.
func (v *Validator) AllowedEventTypes() []string {
	out := make([]string, len(v.types))
	copy(out, v.types)
	return out
}

// DecodeIngestRequest validates body against the ingest schema and decodes
// it. Any failure is a *ValidationError. The event type is not checked
// against the allowlist here; unknown types are quarantined, not rejected.
func (v *Validator) DecodeIngestRequest(body []byte) (*models.IngestRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Errors: []FieldError{{Message: "body is not valid JSON: " + err.Error()}}}
	}
	if dec.More() {
		return nil, &ValidationError{Errors: []FieldError{{Message: "body must contain a single JSON object"}}}
	}

	if err := v.schema.Validate(doc); err != nil {
		return nil, toValidationError(err)
	}

	var req models.IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &ValidationError{Errors: []FieldError{{Message: err.Error()}}}
	}
	return &req, nil
}

func toValidationError(err error) *ValidationError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &ValidationError{Errors: []FieldError{{Message: err.Error()}}}
	}

	out := &ValidationError{}
	seen := make(map[string]struct{})
	for _, be := range verr.BasicOutput().Errors {
		if be.Error == "" || strings.HasPrefix(be.Error, "doesn't validate with") {
			continue
		}
		field := strings.TrimPrefix(be.InstanceLocation, "/")
		key := field + "|" + be.Error
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Errors = append(out.Errors, FieldError{Field: field, Message: be.Error})
	}
	if len(out.Errors) == 0 {
		out.Errors = append(out.Errors, FieldError{Message: verr.Error()})
	}
	return out
}
