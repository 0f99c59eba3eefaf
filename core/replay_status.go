package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"
)

const (
	ReplayHeartbeatPrefix = "audit_replay:heartbeat:"
	ReplayHeartbeatTTL    = 45 * time.Second
)

// ReplayHeartbeatKey returns the Redis key for a replay worker.
func ReplayHeartbeatKey(id string) string {
	return ReplayHeartbeatPrefix + id
}

// NewReplayWorkerID builds hostname:pid:random so restarts never reuse a key.
func NewReplayWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		for i := range b {
			b[i] = byte(i + 1)
		}
	}
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(b))
}

// ReplayHeartbeat is what a replay worker publishes to Redis for operators.
type ReplayHeartbeat struct {
	WorkerID      string    `json:"worker_id"`
	Hostname      string    `json:"hostname"`
	PID           int       `json:"pid"`
	Concurrency   int       `json:"concurrency"`
	Status        string    `json:"status"` // starting|idle|replaying
	ReplayedTotal int64     `json:"replayed_total"`
	FailedTotal   int64     `json:"failed_total"`
	LastError     string    `json:"last_error,omitempty"`
	HeapBytes     uint64    `json:"heap_bytes"`
	NumGoroutine  int       `json:"num_goroutine"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SaveReplayHeartbeat stores hb as JSON with a TTL, so a dead worker disappears.
func SaveReplayHeartbeat(ctx context.Context, client RedisClientRaw, hb ReplayHeartbeat) error {
	hb.UpdatedAt = time.Now()
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return client.Set(ctx, ReplayHeartbeatKey(hb.WorkerID), data, ReplayHeartbeatTTL).Err()
}

// HeartbeatState aggregates one worker process's replay counters.
type HeartbeatState struct {
	mu       sync.Mutex
	hb       ReplayHeartbeat
	interval time.Duration
}

func NewHeartbeatState(workerID string, concurrency int) *HeartbeatState {
	hostname, _ := os.Hostname()
	now := time.Now()
	return &HeartbeatState{
		hb: ReplayHeartbeat{
			WorkerID:    workerID,
			Hostname:    hostname,
			PID:         os.Getpid(),
			Concurrency: concurrency,
			Status:      "starting",
			StartedAt:   now,
			UpdatedAt:   now,
		},
		interval: 5 * time.Second,
	}
}

// Record folds the outcome of one AuditReplayer.RunOnce call into the counters.
func (s *HeartbeatState) Record(handled bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.hb.FailedTotal++
		s.hb.LastError = err.Error()
	} else if handled {
		s.hb.ReplayedTotal++
	}
	if handled {
		s.hb.Status = "replaying"
	} else {
		s.hb.Status = "idle"
	}
}

// Snapshot returns a copy of the current heartbeat with runtime stats filled in.
func (s *HeartbeatState) Snapshot() ReplayHeartbeat {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hb.UptimeSeconds = int64(time.Since(s.hb.StartedAt).Seconds())
	s.hb.HeapBytes = ms.HeapAlloc
	s.hb.NumGoroutine = runtime.NumGoroutine()
	return s.hb
}

// Start publishes immediately and then on every tick until ctx is done.
func (s *HeartbeatState) Start(ctx context.Context, client RedisClientRaw) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		_ = SaveReplayHeartbeat(ctx, client, s.Snapshot())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SpillBacklog is the current size of the audit spill queue.
type SpillBacklog struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Expired    int64 `json:"expired"`
}

// SpillStatusService reads the spill queue and the replay worker heartbeats.
type SpillStatusService struct {
	redis RedisClientRaw
}

func NewSpillStatusService(redis RedisClientRaw) *SpillStatusService {
	return &SpillStatusService{redis: redis}
}

// Backlog returns pending and in-flight counts plus reservations past their deadline.
func (s *SpillStatusService) Backlog(ctx context.Context) (SpillBacklog, error) {
	pending, err := s.redis.LLen(ctx, PendingAuditKey).Result()
	if err != nil {
		return SpillBacklog{}, err
	}
	processing, err := s.redis.ZCard(ctx, ProcessingAuditKey).Result()
	if err != nil {
		return SpillBacklog{}, err
	}
	expired, err := s.redis.ZCount(ctx, ProcessingAuditKey, "-inf", fmt.Sprintf("%d", time.Now().UnixMilli())).Result()
	if err != nil {
		return SpillBacklog{}, err
	}
	return SpillBacklog{Pending: pending, Processing: processing, Expired: expired}, nil
}

// Workers returns every heartbeat still alive in Redis.
func (s *SpillStatusService) Workers(ctx context.Context) ([]ReplayHeartbeat, error) {
	iter := s.redis.Scan(ctx, 0, ReplayHeartbeatPrefix+"*", 100).Iterator()
	res := []ReplayHeartbeat{}
	for iter.Next(ctx) {
		val, err := s.redis.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var hb ReplayHeartbeat
		if err := json.Unmarshal([]byte(val), &hb); err != nil {
			continue
		}
		res = append(res, hb)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
