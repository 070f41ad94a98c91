package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/privscan/internal/queue"
)

func seedDeadJobs(t *testing.T, addr string, n int) {
	t.Helper()

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	broker := queue.NewRedisBroker(client, queue.WithKeyPrefix(queue.DefaultKeyPrefix))
	for i := 0; i < n; i++ {
		if _, err := broker.Enqueue(ctx, queue.DefaultQueue, queue.ScanJobName,
			[]byte(`{"scanId":"s","input":"https://example.com","kind":"web"}`), queue.DefaultJobOptions()); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		job, err := broker.Consume(ctx, queue.DefaultQueue)
		if err != nil || job == nil {
			t.Fatalf("Consume() = %v, %v", job, err)
		}
		if err := broker.MoveToDeadLetter(ctx, job, queue.DefaultDeadQueue, errors.New("boom")); err != nil {
			t.Fatalf("MoveToDeadLetter() error = %v", err)
		}
	}
}

// The requeue tests set process environment variables and cannot run in parallel.
func TestRunRequeueCmd(t *testing.T) {
	t.Run("requeues dead jobs", func(t *testing.T) {
		mr := miniredis.RunT(t)
		seedDeadJobs(t, mr.Addr(), 2)
		t.Setenv("PRIVSCAN_REDIS_URL", "redis://"+mr.Addr())
		t.Setenv("PRIVSCAN_DATA_DIR", t.TempDir())

		var out bytes.Buffer
		cmd := NewRootCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"requeue"})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), "requeued 2 job(s)") {
			t.Errorf("unexpected output %q", out.String())
		}
	})

	t.Run("requires a broker", func(t *testing.T) {
		t.Setenv("PRIVSCAN_REDIS_URL", "")
		t.Setenv("REDIS_URL", "")

		cmd := NewRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"requeue"})
		if err := cmd.Execute(); !errors.Is(err, errNoBroker) {
			t.Errorf("expected errNoBroker, got %v", err)
		}
	})

	t.Run("flags still parse before the queue names", func(t *testing.T) {
		mr := miniredis.RunT(t)
		seedDeadJobs(t, mr.Addr(), 1)
		t.Setenv("PRIVSCAN_REDIS_URL", "redis://"+mr.Addr())
		t.Setenv("PRIVSCAN_DATA_DIR", t.TempDir())

		var out bytes.Buffer
		cmd := NewRootCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"requeue", "-v", queue.DefaultQueue, queue.DefaultDeadQueue, "5"})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), "requeued 1 job(s)") {
			t.Errorf("unexpected output %q", out.String())
		}
	})

	t.Run("rejects an invalid limit", func(t *testing.T) {
		mr := miniredis.RunT(t)
		t.Setenv("PRIVSCAN_REDIS_URL", "redis://"+mr.Addr())

		for _, limit := range []string{"abc", "0", "-3"} {
			cmd := NewRootCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{"requeue", queue.DefaultQueue, queue.DefaultDeadQueue, limit})
			err := cmd.Execute()
			if err == nil || !strings.Contains(err.Error(), "invalid limit") {
				t.Errorf("limit %q: expected invalid limit error, got %v", limit, err)
			}
		}
	})
}
