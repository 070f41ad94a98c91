package queue

import (
	"context"
	"errors"
	"fmt"
)

// DefaultRequeueLimit bounds one Requeue run.
const DefaultRequeueLimit = 50

// RequeueResult counts what a Requeue run did.
type RequeueResult struct {
	// Processed is the number of dead jobs read.
	Processed int `json:"processed"`
	// Requeued is the number re-enqueued on the source queue.
	Requeued int `json:"requeued"`
	// Failed is the number left in, or not removed from, the dead-letter store.
	Failed int `json:"failed"`
}

// Requeue moves up to limit jobs from dead back onto source, keeping each
// job's payload and options. An empty source or dead name, or a limit
// below 1, selects the default. A job leaves the dead-letter store only
// after its re-enqueue succeeded. The returned error joins every per-job
// failure; reading the dead-letter store failing aborts the run.
func Requeue(ctx context.Context, broker Broker, source, dead string, limit int) (RequeueResult, error) {
	if source == "" {
		source = DefaultQueue
	}
	if dead == "" {
		dead = DefaultDeadQueue
	}
	if limit < 1 {
		limit = DefaultRequeueLimit
	}

	var result RequeueResult
	jobs, err := broker.ListDeadLetter(ctx, dead, limit)
	if err != nil {
		return result, fmt.Errorf("failed to list dead-letter jobs: %w", err)
	}

	var errs []error
	for _, job := range jobs {
		result.Processed++

		if _, err := broker.Enqueue(ctx, source, job.Name, job.Payload, job.Opts); err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("failed to requeue job %s: %w", job.ID, err))
			continue
		}
		if err := broker.RemoveDeadLetter(ctx, dead, job.ID); err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("requeued job %s but failed to remove it from %s: %w", job.ID, dead, err))
			continue
		}
		result.Requeued++
	}
	return result, errors.Join(errs...)
}
