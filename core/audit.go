package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mssola/useragent"
)

// AuditAction names an authentication-relevant event kind.
type AuditAction string

const (
	ActionLoginSuccess AuditAction = "LOGIN_SUCCESS"
	ActionLoginFailed  AuditAction = "LOGIN_FAILED"
	ActionLogout       AuditAction = "LOGOUT"
	ActionUserCreated  AuditAction = "USER_CREATED"
	ActionUserDeleted  AuditAction = "USER_DELETED"
)

// AuditEvent is the write model for one immutable data_logs row.
type AuditEvent struct {
	UserID      *int64      `json:"user_id,omitempty"`
	Action      AuditAction `json:"action"`
	Description string      `json:"description,omitempty"`
	IPAddress   string      `json:"ip_address,omitempty"`
	UserAgent   string      `json:"user_agent,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// AuditEntry is the read model: an event joined with the username at read time.
// A deleted user surfaces as nil UserID and nil Username.
type AuditEntry struct {
	ID          int64       `json:"id"`
	UserID      *int64      `json:"user_id"`
	Username    *string     `json:"username"`
	Action      AuditAction `json:"action"`
	Description *string     `json:"description"`
	IPAddress   *string     `json:"ip_address"`
	UserAgent   *string     `json:"user_agent"`
	Client      string      `json:"client,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AuditStore persists and lists audit events.
type AuditStore interface {
	Insert(ctx context.Context, ev AuditEvent) error
	List(ctx context.Context, limit, offset int) ([]AuditEntry, error)
}

// AuditSpiller accepts events whose primary insert failed, for later replay.
type AuditSpiller interface {
	Spill(ctx context.Context, ev AuditEvent) error
}

// AuditLoggerOption customises an AuditLogger.
type AuditLoggerOption func(*AuditLogger)

// WithAuditFailureHook registers a callback invoked after every failed insert.
func WithAuditFailureHook(fn func(AuditEvent, error)) AuditLoggerOption {
	return func(l *AuditLogger) { l.onFailure = fn }
}

// WithAuditSpiller hands failed events to s instead of dropping them.
func WithAuditSpiller(s AuditSpiller) AuditLoggerOption {
	return func(l *AuditLogger) { l.spill = s }
}

// WithAuditTimeout bounds how long a single insert may take.
func WithAuditTimeout(d time.Duration) AuditLoggerOption {
	return func(l *AuditLogger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// AuditLogger appends audit events on a best-effort basis: storage failures
// are logged and reported to the failure hook, never returned to callers.
type AuditLogger struct {
	store     AuditStore
	spill     AuditSpiller
	onFailure func(AuditEvent, error)
	timeout   time.Duration
	now       func() time.Time
}

func NewAuditLogger(store AuditStore, opts ...AuditLoggerOption) *AuditLogger {
	l := &AuditLogger{store: store, timeout: 3 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records ev. It runs on a context detached from the caller's
// cancellation so an aborted request still leaves its trail.
func (l *AuditLogger) Append(ctx context.Context, ev AuditEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = l.now().UTC()
	}
	detached := context.WithoutCancel(ctx)
	insertCtx, cancel := context.WithTimeout(detached, l.timeout)
	err := l.store.Insert(insertCtx, ev)
	cancel()
	if err == nil {
		return
	}
	log.Printf("[audit] failed to append %s event: %v", ev.Action, err)
	if l.onFailure != nil {
		l.onFailure(ev, err)
	}
	if l.spill != nil {
		// A stalled insert has used up its deadline; the spill gets its own.
		spillCtx, cancel := context.WithTimeout(detached, l.timeout)
		defer cancel()
		if spillErr := l.spill.Spill(spillCtx, ev); spillErr != nil {
			log.Printf("[audit] failed to spill %s event: %v", ev.Action, spillErr)
		}
	}
}

// List returns events newest-first. Unlike Append, read failures are returned.
func (l *AuditLogger) List(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	if limit <= 0 || offset < 0 {
		return nil, fmt.Errorf("invalid pagination limit=%d offset=%d", limit, offset)
	}
	entries, err := l.store.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].UserAgent != nil {
			entries[i].Client = describeClient(*entries[i].UserAgent)
		}
	}
	return entries, nil
}

// describeClient renders a short "Browser version on OS" summary.
func describeClient(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == unknownOrigin {
		return ""
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		name, _ := ua.Browser()
		return strings.TrimSpace("bot " + name)
	}
	name, version := ua.Browser()
	desc := strings.TrimSpace(name + " " + version)
	if platform := ua.OS(); platform != "" {
		if desc == "" {
			return platform
		}
		desc += " on " + platform
	}
	if ua.Mobile() {
		desc += " (mobile)"
	}
	return desc
}
