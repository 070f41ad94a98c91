package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nao1215/privscan/internal/model"
)

const (
	// DefaultQueue is the queue scan jobs are enqueued on.
	DefaultQueue = "scan.site"
	// DefaultDeadQueue holds scan jobs that exhausted their attempts.
	DefaultDeadQueue = "scan.dead"
	// ScanJobName is the job name of a site scan.
	ScanJobName = "scan"
)

// DefaultJobOptions are the options scan jobs are enqueued with.
func DefaultJobOptions() model.JobOptions {
	return model.JobOptions{
		Attempts: 3,
		Backoff:  model.Backoff{Type: model.BackoffExponential, Delay: time.Second},
	}
}

// Broker is the capability set the pipeline needs from a durable queue.
//
// Ack, FailWithRetry and MoveToDeadLetter settle a job previously returned
// by Consume. FailWithRetry and MoveToDeadLetter record the failed attempt
// themselves: they increment AttemptsMade and set LastError on the stored
// job and on the job passed in.
type Broker interface {
	// Enqueue stores a new waiting job and returns it with its assigned id.
	Enqueue(ctx context.Context, queue, name string, payload json.RawMessage, opts model.JobOptions) (*model.Job, error)
	// Consume claims the oldest ready job of queue, first promoting retries
	// whose backoff has elapsed. It returns ErrNoJob when nothing is ready.
	// A job is never handed to two consumers.
	Consume(ctx context.Context, queue string) (*model.Job, error)
	// Ack marks a claimed job completed.
	Ack(ctx context.Context, job *model.Job) error
	// FailWithRetry schedules a claimed job to become ready again after delay.
	FailWithRetry(ctx context.Context, job *model.Job, cause error, delay time.Duration) error
	// MoveToDeadLetter moves a claimed job into the dead-letter store deadQueue.
	MoveToDeadLetter(ctx context.Context, job *model.Job, deadQueue string, cause error) error
	// ListDeadLetter returns up to limit jobs of deadQueue, oldest first.
	ListDeadLetter(ctx context.Context, deadQueue string, limit int) ([]*model.Job, error)
	// RemoveDeadLetter deletes a job from deadQueue. It returns
	// ErrJobNotFound when the job is not there.
	RemoveDeadLetter(ctx context.Context, deadQueue, jobID string) error
	// Metrics reports the depth of queue.
	Metrics(ctx context.Context, queue string) (model.QueueMetrics, error)
	// DeadCount reports how many jobs sit in deadQueue.
	DeadCount(ctx context.Context, deadQueue string) (int64, error)
}

// Reclaimer is implemented by brokers whose claims can outlive the consumer
// holding them. Reclaim returns the expired claims of queue to it, counting
// the lost attempt, or moves them to deadQueue when that attempt was the
// last. It reports how many jobs were moved.
type Reclaimer interface {
	Reclaim(ctx context.Context, queue, deadQueue string) (int, error)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
