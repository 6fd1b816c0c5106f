package logging

import "log/slog"

// Field names shared by every ledgersafe component.
const (
	FieldService        = "service"
	FieldRequestID      = "request_id"
	FieldTenantID       = "tenant_id"
	FieldIdempotencyKey = "idempotency_key"
	FieldRawID          = "raw_id"
	FieldExceptionID    = "exception_id"
	FieldOutcome        = "outcome"
	FieldReason         = "reason_code"
	FieldActor          = "actor"
	FieldAction         = "action"
	FieldAttempt        = "attempt"
	FieldMethod         = "method"
	FieldPath           = "path"
	FieldStatus         = "status"
	FieldDuration       = "duration_ms"
	FieldError          = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// TenantID returns a slog attribute for the tenant.
func TenantID(id string) slog.Attr {
	return slog.String(FieldTenantID, id)
}

// IdempotencyKey returns a slog attribute for the producer's idempotency key.
func IdempotencyKey(key string) slog.Attr {
	return slog.String(FieldIdempotencyKey, key)
}

// RawID returns a slog attribute for an event log surrogate id.
func RawID(id int64) slog.Attr {
	return slog.Int64(FieldRawID, id)
}

// ExceptionID returns a slog attribute for a quarantine record id.
func ExceptionID(id string) slog.Attr {
	return slog.String(FieldExceptionID, id)
}

// Outcome returns a slog attribute for an ingest classification.
func Outcome(outcome string) slog.Attr {
	return slog.String(FieldOutcome, outcome)
}

// Reason returns a slog attribute for a quarantine reason code.
func Reason(code string) slog.Attr {
	return slog.String(FieldReason, code)
}

// Actor returns a slog attribute for the acting operator or system.
func Actor(actor string) slog.Attr {
	return slog.String(FieldActor, actor)
}

// Action returns a slog attribute for a resolution or audit action.
func Action(action string) slog.Attr {
	return slog.String(FieldAction, action)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
