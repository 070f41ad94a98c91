package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/privscan/internal/clock"
	"github.com/nao1215/privscan/internal/model"
)

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type brokerFactory func(t *testing.T, c clock.Clock) Broker

func memoryFactory(_ *testing.T, c clock.Clock) Broker {
	return NewMemoryBroker(c)
}

func redisFactory(t *testing.T, c clock.Clock) Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBroker(client, WithRedisClock(c))
}

func TestBrokers(t *testing.T) {
	t.Parallel()

	for name, factory := range map[string]brokerFactory{"memory": memoryFactory, "redis": redisFactory} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			runBrokerTests(t, factory)
		})
	}
}

func mustEnqueue(t *testing.T, b Broker, payload string, opts model.JobOptions) *model.Job {
	t.Helper()
	job, err := b.Enqueue(context.Background(), DefaultQueue, ScanJobName, json.RawMessage(payload), opts)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return job
}

func mustConsume(t *testing.T, b Broker) *model.Job {
	t.Helper()
	job, err := b.Consume(context.Background(), DefaultQueue)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	return job
}

func assertMetrics(t *testing.T, b Broker, want model.QueueMetrics) {
	t.Helper()
	got, err := b.Metrics(context.Background(), DefaultQueue)
	if err != nil {
		t.Fatalf("Metrics() error = %v", err)
	}
	if got != want {
		t.Errorf("Metrics() = %+v, want %+v", got, want)
	}
}

func runBrokerTests(t *testing.T, newBroker brokerFactory) {
	t.Helper()
	ctx := context.Background()
	opts := model.JobOptions{Attempts: 3, Backoff: model.Backoff{Type: model.BackoffFixed, Delay: time.Second}}

	t.Run("fifo and empty", func(t *testing.T) {
		t.Parallel()
		b := newBroker(t, clock.NewFake(testStart))

		if _, err := b.Consume(ctx, DefaultQueue); !errors.Is(err, ErrNoJob) {
			t.Fatalf("Consume() on empty queue error = %v, want ErrNoJob", err)
		}
		first := mustEnqueue(t, b, `{"n":1}`, opts)
		second := mustEnqueue(t, b, `{"n":2}`, opts)
		if first.ID == "" || first.ID == second.ID || first.Status != model.JobWaiting {
			t.Fatalf("Enqueue() = %+v, %+v", first, second)
		}
		assertMetrics(t, b, model.NewQueueMetrics(2, 0, 0))

		got := mustConsume(t, b)
		if got.ID != first.ID || got.Status != model.JobActive || string(got.Payload) != `{"n":1}` {
			t.Errorf("Consume() = %+v, want first job active", got)
		}
		if got.Opts != opts {
			t.Errorf("Consume() opts = %+v, want %+v", got.Opts, opts)
		}
		assertMetrics(t, b, model.NewQueueMetrics(1, 1, 0))

		if err := b.Ack(ctx, got); err != nil {
			t.Fatalf("Ack() error = %v", err)
		}
		assertMetrics(t, b, model.NewQueueMetrics(1, 0, 0))
		if err := b.Ack(ctx, got); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("second Ack() error = %v, want ErrJobNotFound", err)
		}
	})

	t.Run("retry becomes ready after delay", func(t *testing.T) {
		t.Parallel()
		fake := clock.NewFake(testStart)
		b := newBroker(t, fake)
		mustEnqueue(t, b, `{}`, opts)

		job := mustConsume(t, b)
		if err := b.FailWithRetry(ctx, job, errors.New("timeout"), time.Second); err != nil {
			t.Fatalf("FailWithRetry() error = %v", err)
		}
		if job.AttemptsMade != 1 || job.Status != model.JobFailed || job.LastError != "timeout" {
			t.Errorf("job after FailWithRetry = %+v", job)
		}
		assertMetrics(t, b, model.NewQueueMetrics(0, 0, 1))

		fake.Advance(999 * time.Millisecond)
		if _, err := b.Consume(ctx, DefaultQueue); !errors.Is(err, ErrNoJob) {
			t.Fatalf("Consume() before delay error = %v, want ErrNoJob", err)
		}

		fake.Advance(time.Millisecond)
		again := mustConsume(t, b)
		if again.ID != job.ID || again.AttemptsMade != 1 || again.LastError != "timeout" {
			t.Errorf("retried job = %+v", again)
		}
		assertMetrics(t, b, model.NewQueueMetrics(0, 1, 0))
	})

	t.Run("dead letter lifecycle", func(t *testing.T) {
		t.Parallel()
		b := newBroker(t, clock.NewFake(testStart))
		mustEnqueue(t, b, `{"a":1}`, opts)
		mustEnqueue(t, b, `{"a":2}`, opts)

		var dead []*model.Job
		for range 2 {
			job := mustConsume(t, b)
			if err := b.MoveToDeadLetter(ctx, job, DefaultDeadQueue, errors.New("boom")); err != nil {
				t.Fatalf("MoveToDeadLetter() error = %v", err)
			}
			dead = append(dead, job)
		}
		// Dead-lettered jobs are not counted as Failed.
		assertMetrics(t, b, model.NewQueueMetrics(0, 0, 0))

		n, err := b.DeadCount(ctx, DefaultDeadQueue)
		if err != nil || n != 2 {
			t.Fatalf("DeadCount() = %d, %v; want 2", n, err)
		}

		listed, err := b.ListDeadLetter(ctx, DefaultDeadQueue, 1)
		if err != nil {
			t.Fatalf("ListDeadLetter() error = %v", err)
		}
		if len(listed) != 1 || listed[0].ID != dead[0].ID {
			t.Fatalf("ListDeadLetter(1) = %+v, want oldest job", listed)
		}
		if listed[0].Status != model.JobDead || listed[0].AttemptsMade != 1 || listed[0].LastError != "boom" {
			t.Errorf("dead job = %+v", listed[0])
		}
		if listed[0].Opts != opts {
			t.Errorf("dead job opts = %+v, want %+v", listed[0].Opts, opts)
		}

		if err := b.RemoveDeadLetter(ctx, DefaultDeadQueue, dead[0].ID); err != nil {
			t.Fatalf("RemoveDeadLetter() error = %v", err)
		}
		if err := b.RemoveDeadLetter(ctx, DefaultDeadQueue, dead[0].ID); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("second RemoveDeadLetter() error = %v, want ErrJobNotFound", err)
		}
		all, err := b.ListDeadLetter(ctx, DefaultDeadQueue, 0)
		if err != nil {
			t.Fatalf("ListDeadLetter() error = %v", err)
		}
		if len(all) != 1 || all[0].ID != dead[1].ID {
			t.Errorf("ListDeadLetter() = %+v, want second job only", all)
		}
	})

	t.Run("concurrent consumers never share a job", func(t *testing.T) {
		t.Parallel()
		b := newBroker(t, clock.NewFake(testStart))
		const jobs = 40
		for range jobs {
			mustEnqueue(t, b, `{}`, opts)
		}

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
			wg   sync.WaitGroup
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := b.Consume(ctx, DefaultQueue)
					if errors.Is(err, ErrNoJob) {
						return
					}
					if err != nil {
						t.Errorf("Consume() error = %v", err)
						return
					}
					mu.Lock()
					seen[job.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != jobs {
			t.Errorf("claimed %d distinct jobs, want %d", len(seen), jobs)
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("job %s claimed %d times", id, n)
			}
		}
	})

	t.Run("empty queue name", func(t *testing.T) {
		t.Parallel()
		b := newBroker(t, clock.NewFake(testStart))
		if _, err := b.Enqueue(ctx, "", ScanJobName, nil, opts); !errors.Is(err, ErrEmptyQueueName) {
			t.Errorf("Enqueue() error = %v, want ErrEmptyQueueName", err)
		}
	})
}
