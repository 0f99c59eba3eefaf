package core

import "time"

// Redis keys and visibility timeout for the audit spill queue.
const (
	PendingAuditKey    = "pending_audit_events"
	ProcessingAuditKey = "processing_audit_events"
	// DefaultVisibilityTimeout is how long a worker may hold a reserved event before it is requeued.
	DefaultVisibilityTimeout = 30 * time.Second
)
