package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

const (
	pgForeignKeyViolation = "23503"
	pgDataExceptionClass  = "22"
)

// ErrPoisonPayload marks a queue entry that can never be replayed.
var ErrPoisonPayload = errors.New("undecodable audit payload")

// AuditReplayer drains spilled audit events back into the audit store.
type AuditReplayer struct {
	queue      RedisClient
	store      AuditStore
	metrics    *Metrics
	visibility time.Duration
}

func NewAuditReplayer(queue RedisClient, store AuditStore, metrics *Metrics) *AuditReplayer {
	return &AuditReplayer{
		queue:      queue,
		store:      store,
		metrics:    metrics,
		visibility: DefaultVisibilityTimeout,
	}
}

// Process decodes one payload and inserts the event with its original timestamp.
// A non-nil error other than ErrPoisonPayload means the entry should be retried.
func (p *AuditReplayer) Process(ctx context.Context, payload string) error {
	var spilled spilledAuditEvent
	if err := json.Unmarshal([]byte(payload), &spilled); err != nil {
		return fmt.Errorf("%w: %v", ErrPoisonPayload, err)
	}
	if spilled.Event.Action == "" {
		return fmt.Errorf("%w: missing action", ErrPoisonPayload)
	}
	if spilled.Event.OccurredAt.IsZero() {
		spilled.Event.OccurredAt = time.Now().UTC()
	}

	err := p.store.Insert(ctx, spilled.Event)
	var pgErr *pgconn.PgError
	if spilled.Event.UserID != nil && errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		// The user was deleted while the event sat in the queue.
		log.Printf("[replay] user %d no longer exists; storing %s event without a user", *spilled.Event.UserID, spilled.Event.Action)
		spilled.Event.UserID = nil
		err = p.store.Insert(ctx, spilled.Event)
	}
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, pgDataExceptionClass) {
		return fmt.Errorf("%w: %v", ErrPoisonPayload, err)
	}
	return err
}

// RunOnce reserves and handles a single entry. It reports false when the
// queue was empty. Failed inserts stay reserved until RequeueExpired returns
// them to the pending list.
func (p *AuditReplayer) RunOnce(ctx context.Context) (bool, error) {
	payload, err := p.queue.Reserve(ctx, PendingAuditKey, ProcessingAuditKey, p.visibility)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	if procErr := p.Process(ctx, payload); procErr != nil {
		if !errors.Is(procErr, ErrPoisonPayload) {
			return true, procErr
		}
		log.Printf("[replay] dropping poison entry: %v", procErr)
	} else if p.metrics != nil {
		p.metrics.AuditReplayed.Inc()
	}

	if err := p.queue.Ack(ctx, ProcessingAuditKey, payload); err != nil {
		return true, fmt.Errorf("ack: %w", err)
	}
	return true, nil
}

// Reclaim returns expired reservations to the pending list.
func (p *AuditReplayer) Reclaim(ctx context.Context, now time.Time) (int, error) {
	moved, err := p.queue.RequeueExpired(ctx, ProcessingAuditKey, PendingAuditKey, now)
	if err != nil {
		return 0, err
	}
	return len(moved), nil
}
