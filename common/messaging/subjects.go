package messaging

// Subject names follow {domain}.{resource}.{action}.
const (
	// Quarantine lifecycle, published by the ingest service after commit.
	SubjectExceptionsOpened   = "ledger.exceptions.opened"
	SubjectExceptionsResolved = "ledger.exceptions.resolved"
	SubjectExceptionsAssigned = "ledger.exceptions.assigned"

	// Dead-letter subjects; the reason is appended as the last token.
	SubjectIngestDLQPrefix = "ingest.dlq"
	SubjectIngestDLQAll    = "ingest.dlq.>"
)

// IngestDLQSubject returns the dead-letter subject for a failure reason.
// Example: ingest.dlq.storage_error
func IngestDLQSubject(reason string) string {
	if reason == "" {
		reason = "unknown"
	}
	return SubjectIngestDLQPrefix + "." + reason
}
