// Package queue is the durable job pipeline behind scan execution.
//
// A Broker owns jobs: producers Enqueue, workers Consume and then settle
// each claimed job with exactly one of Ack, FailWithRetry or
// MoveToDeadLetter. Pool runs workers against a broker and applies the
// retry policy carried in each job's options. Jobs that run out of attempts
// land in a dead-letter store and stay there until Requeue moves them back.
//
// RedisBroker is the production implementation; any number of processes
// may consume from it concurrently. Its claims expire after a visibility
// timeout, and Reclaim hands expired claims out again so a crashed worker
// does not strand its job. MemoryBroker serves tests and
// single-process setups.
package queue
