package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"admin-dashboard/core"
)

func main() {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	if cfg.RedisURL == "" {
		log.Fatalf("REDIS_URL is required for the audit replay worker")
	}

	db, err := core.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	metrics := core.NewMetrics()
	if cfg.MetricsEnabled && cfg.WorkerMetricsAddr != "" {
		metricsSrv := core.NewMetricsServer(cfg.WorkerMetricsAddr, metrics)
		go func() {
			log.Printf("worker metrics listening on %s", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[metrics] server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	queue := core.NewRedisQueue(redisClient)
	replayer := core.NewAuditReplayer(queue, core.NewPgAuditRepository(db), metrics)
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerID := core.NewReplayWorkerID()
	heartbeat := core.NewHeartbeatState(workerID, concurrency)
	go heartbeat.Start(ctx, redisClient)
	log.Printf("audit replay worker started. id=%s concurrency=%d queue=%s", workerID, concurrency, core.PendingAuditKey)

	reclaimInterval := 15 * time.Second

	// requeue expired in-flight events periodically
	go func() {
		ticker := time.NewTicker(reclaimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := replayer.Reclaim(ctx, time.Now()); err != nil {
					log.Printf("[reclaimer] requeue expired error: %v", err)
				} else if n > 0 {
					log.Printf("[reclaimer] requeued %d expired events", n)
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				handled, err := replayer.RunOnce(ctx)
				if ctx.Err() == nil {
					heartbeat.Record(handled, err)
				}
				if err != nil {
					// context canceled -> exit
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					log.Printf("[worker %d] replay error: %v", workerID, err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
					continue
				}
				if !handled {
					// Queue is empty, wait before retrying to avoid CPU spinning
					select {
					case <-ctx.Done():
						return
					case <-time.After(500 * time.Millisecond):
					}
				}
			}
		}(i + 1)
	}

	wg.Wait()
	log.Printf("audit replay worker stopped")
}
