package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classmark/internal/config"
	"classmark/internal/metrics"
	"classmark/internal/queue"
	"classmark/internal/tree"
)

// pushTimeout bounds each remote write; a slow push is abandoned, the
// snapshot push endpoint corrects any gap later.
const pushTimeout = 5 * time.Second

// Worker drains mark jobs from the queue and writes Present cells into the
// remote attendance tree.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	store := tree.NewRedis(cfg.RedisAddr)
	if !store.Healthy(ctx) {
		log.Fatalf("remote tree not reachable at %s", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(store.Client(), queue.DefaultKey)
	msgs, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume failed: %v", err)
	}

	log.Println("sync worker started")
	for msg := range msgs {
		if msg.Type != "mark" {
			log.Printf("skipping message type %q", msg.Type)
			continue
		}
		job, err := queue.DecodeMarkJob(msg)
		if err != nil {
			log.Printf("bad mark job: %v", err)
			continue
		}
		process(ctx, store, job)
	}
	log.Println("sync worker exited")
}

// process writes one day cell plus the _name convenience field. Failures are
// logged and dropped; local state stays authoritative.
func process(ctx context.Context, store tree.Store, job queue.MarkJob) {
	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	if err := store.Set(pushCtx, job.CellPath, job.Status); err != nil {
		metrics.PushFailures.Inc()
		log.Printf("push for %s abandoned: %v", job.StudentID, err)
		return
	}
	if job.NamePath != "" {
		if err := store.Set(pushCtx, job.NamePath, job.StudentName); err != nil {
			log.Printf("name write for %s failed: %v", job.StudentID, err)
		}
	}
}
