package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() so that callers can use
// errors.Is() against a specific rule.
var (
	// ErrEmptyListenAddr is returned when the HTTP listen address is empty.
	ErrEmptyListenAddr = errors.New("invalid listen address: must not be empty")

	// ErrInvalidShutdownTimeout is returned when the shutdown timeout is not positive.
	ErrInvalidShutdownTimeout = errors.New("invalid shutdown timeout: must be positive")

	// ErrInvalidLoadThreshold is returned when the pending-job threshold is below 1.
	ErrInvalidLoadThreshold = errors.New("invalid load threshold: must be at least 1")

	// ErrInvalidQuotaLimit is returned when the daily quota is below 1.
	ErrInvalidQuotaLimit = errors.New("invalid daily quota: must be at least 1")

	// ErrUnknownQuotaBackend is returned for a quota backend other than
	// memory, sqlite or postgres.
	ErrUnknownQuotaBackend = errors.New("unknown quota backend: use memory, sqlite or postgres")

	// ErrMissingDatabaseURL is returned when the postgres backend is
	// selected without a database URL.
	ErrMissingDatabaseURL = errors.New("postgres quota backend requires storage.database_url")

	// ErrEmptyQueueName is returned when the source or dead-letter queue name is empty.
	ErrEmptyQueueName = errors.New("invalid queue name: must not be empty")

	// ErrSameQueueNames is returned when the dead-letter queue is the source queue.
	ErrSameQueueNames = errors.New("invalid queue names: dead-letter queue must differ from source queue")

	// ErrInvalidConcurrency is returned when the worker count is below 1.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be at least 1")

	// ErrInvalidPollInterval is returned when the poll interval is not positive.
	ErrInvalidPollInterval = errors.New("invalid poll interval: must be positive")

	// ErrInvalidJobTimeout is returned when the job timeout is negative.
	// Use 0 to disable the per-job timeout.
	ErrInvalidJobTimeout = errors.New("invalid job timeout: must be non-negative")

	// ErrInvalidVisibilityTimeout is returned when a claim could expire
	// while its job is still allowed to run.
	ErrInvalidVisibilityTimeout = errors.New("invalid visibility timeout: must be positive and exceed the job timeout")

	// ErrInvalidAttempts is returned when jobs would be allowed no attempt.
	ErrInvalidAttempts = errors.New("invalid attempts: must be at least 1")

	// ErrInvalidListsTTL is returned when the list cache TTL is not positive.
	ErrInvalidListsTTL = errors.New("invalid lists ttl: must be positive")

	// ErrInvalidTimeout is returned when the scanner timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	// Use 0 to use the default limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")
)
