package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client), mr
}

func TestNewRedisClient(t *testing.T) {
	_, err := NewRedisClient("")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	_ = client.Close()
}

func TestRedisQueueReserveAckAndRequeue(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Reserve(ctx, PendingAuditKey, ProcessingAuditKey, time.Minute)
	assert.ErrorIs(t, err, redis.Nil)

	require.NoError(t, q.Enqueue(ctx, PendingAuditKey, "first"))
	require.NoError(t, q.Enqueue(ctx, PendingAuditKey, "second"))

	v, err := q.Reserve(ctx, PendingAuditKey, ProcessingAuditKey, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "first", v, "queue is FIFO")

	members, err := mr.ZMembers(ProcessingAuditKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, members)

	moved, err := q.RequeueExpired(ctx, ProcessingAuditKey, PendingAuditKey, time.Now())
	require.NoError(t, err)
	assert.Empty(t, moved, "reservation is still within its visibility window")

	moved, err = q.RequeueExpired(ctx, ProcessingAuditKey, PendingAuditKey, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, moved)

	n, err := q.Pending(ctx, PendingAuditKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	v, err = q.Reserve(ctx, PendingAuditKey, ProcessingAuditKey, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, ProcessingAuditKey, v))
	assert.False(t, mr.Exists(ProcessingAuditKey))
}

type flakyStore struct {
	*memAuditStore
	failures int
}

func (s *flakyStore) Insert(ctx context.Context, ev AuditEvent) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("database unavailable")
	}
	return s.memAuditStore.Insert(ctx, ev)
}

func TestAuditReplayerRetriesAfterReclaim(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	spiller := NewRedisAuditSpiller(q, nil)
	require.NoError(t, spiller.Spill(ctx, AuditEvent{Action: ActionLogout, OccurredAt: time.Now().UTC()}))

	store := &flakyStore{memAuditStore: newMemAuditStore(nil), failures: 1}
	replayer := NewAuditReplayer(q, store, nil)

	worked, err := replayer.RunOnce(ctx)
	assert.True(t, worked)
	assert.Error(t, err)

	worked, err = replayer.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, worked, "failed entry stays reserved until reclaimed")

	n, err := replayer.Reclaim(ctx, time.Now().Add(DefaultVisibilityTimeout+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	worked, err = replayer.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, 1, store.count(ActionLogout))
}

func TestAuditReplayerDropsPoisonEntries(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, PendingAuditKey, "{not json"))
	require.NoError(t, q.Enqueue(ctx, PendingAuditKey, `{"id":"x","event":{}}`))

	store := newMemAuditStore(nil)
	replayer := NewAuditReplayer(q, store, NewMetrics())
	for i := 0; i < 2; i++ {
		worked, err := replayer.RunOnce(ctx)
		require.NoError(t, err)
		assert.True(t, worked)
	}
	assert.Empty(t, store.all())
	assert.False(t, mr.Exists(ProcessingAuditKey))
	assert.False(t, mr.Exists(PendingAuditKey))
}

func TestAuditReplayerProcessFillsTimestamp(t *testing.T) {
	store := newMemAuditStore(nil)
	replayer := NewAuditReplayer(nil, store, nil)
	require.NoError(t, replayer.Process(context.Background(), `{"id":"a","event":{"action":"LOGOUT"}}`))
	rows := store.all()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].CreatedAt.IsZero())
}

type pgErrStore struct {
	*memAuditStore
	code     string
	attempts int
}

// Insert fails with code whenever the event still references a user.
func (s *pgErrStore) Insert(ctx context.Context, ev AuditEvent) error {
	s.attempts++
	if s.code == pgForeignKeyViolation && ev.UserID == nil {
		return s.memAuditStore.Insert(ctx, ev)
	}
	return &pgconn.PgError{Code: s.code}
}

func TestAuditReplayerStoresDeletedUserEventWithoutReference(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	uid := int64(42)
	require.NoError(t, NewRedisAuditSpiller(q, nil).Spill(ctx, AuditEvent{UserID: &uid, Action: ActionLogout, OccurredAt: time.Now().UTC()}))

	store := &pgErrStore{memAuditStore: newMemAuditStore(nil), code: pgForeignKeyViolation}
	worked, err := NewAuditReplayer(q, store, nil).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	rows := store.all()
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].UserID)
	assert.Equal(t, 2, store.attempts)
	assert.False(t, mr.Exists(ProcessingAuditKey))
	assert.False(t, mr.Exists(PendingAuditKey))
}

func TestAuditReplayerDropsDataExceptions(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, NewRedisAuditSpiller(q, nil).Spill(ctx, AuditEvent{Action: ActionLogout, UserAgent: "bad\x00agent"}))

	store := &pgErrStore{memAuditStore: newMemAuditStore(nil), code: "22021"}
	replayer := NewAuditReplayer(q, store, nil)
	worked, err := replayer.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	n, err := replayer.Reclaim(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "data exceptions are not retried")
	assert.Equal(t, 1, store.attempts)
	assert.False(t, mr.Exists(PendingAuditKey))
}

func TestAuditReplayerRetriesTransientPgErrors(t *testing.T) {
	store := &pgErrStore{memAuditStore: newMemAuditStore(nil), code: "57P01"}
	err := NewAuditReplayer(nil, store, nil).Process(context.Background(), `{"id":"a","event":{"action":"LOGOUT"}}`)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPoisonPayload)
}
