package queue

import "errors"

var (
	// ErrNoJob is returned by Consume when no job is ready.
	ErrNoJob = errors.New("queue: no job ready")
	// ErrJobNotFound is returned when a job id is unknown to the broker or
	// not in the expected store.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrEmptyQueueName is returned when a queue name is empty.
	ErrEmptyQueueName = errors.New("queue: queue name is empty")
)
