package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/privscan/internal/clock"
	"github.com/nao1215/privscan/internal/model"
)

// MemoryBroker is an in-process Broker. Jobs are lost when the process
// exits.
type MemoryBroker struct {
	clock clock.Clock

	mu     sync.Mutex
	jobs   map[string]*model.Job
	queues map[string]*memoryQueue
	dead   map[string][]string
}

type memoryQueue struct {
	wait    []string
	active  map[string]struct{}
	delayed map[string]time.Time
}

// NewMemoryBroker returns an empty broker. A nil clock uses system time.
func NewMemoryBroker(c clock.Clock) *MemoryBroker {
	return &MemoryBroker{
		clock:  clock.OrSystem(c),
		jobs:   make(map[string]*model.Job),
		queues: make(map[string]*memoryQueue),
		dead:   make(map[string][]string),
	}
}

func (m *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memoryQueue{active: make(map[string]struct{}), delayed: make(map[string]time.Time)}
		m.queues[name] = q
	}
	return q
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	c.Payload = slices.Clone(j.Payload)
	return &c
}

// Enqueue implements Broker.
func (m *MemoryBroker) Enqueue(_ context.Context, queue, name string, payload json.RawMessage, opts model.JobOptions) (*model.Job, error) {
	if queue == "" {
		return nil, ErrEmptyQueueName
	}
	now := m.clock.Now()
	job := &model.Job{
		ID:        uuid.NewString(),
		Queue:     queue,
		Name:      name,
		Payload:   slices.Clone(payload),
		Opts:      opts,
		Status:    model.JobWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	q := m.queue(queue)
	q.wait = append(q.wait, job.ID)
	return cloneJob(job), nil
}

// Consume implements Broker.
func (m *MemoryBroker) Consume(_ context.Context, queue string) (*model.Job, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)

	due := make([]string, 0)
	for id, at := range q.delayed {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return q.delayed[due[i]].Before(q.delayed[due[j]])
	})
	for _, id := range due {
		delete(q.delayed, id)
		m.jobs[id].Status = model.JobWaiting
		q.wait = append(q.wait, id)
	}

	if len(q.wait) == 0 {
		return nil, ErrNoJob
	}
	id := q.wait[0]
	q.wait = q.wait[1:]
	q.active[id] = struct{}{}

	job := m.jobs[id]
	job.Status = model.JobActive
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func (m *MemoryBroker) claimed(job *model.Job) (*memoryQueue, *model.Job, error) {
	q := m.queue(job.Queue)
	stored, ok := m.jobs[job.ID]
	if _, active := q.active[job.ID]; !ok || !active {
		return nil, nil, fmt.Errorf("%w: %s is not active on %s", ErrJobNotFound, job.ID, job.Queue)
	}
	return q, stored, nil
}

// Ack implements Broker. Completed jobs are forgotten.
func (m *MemoryBroker) Ack(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, _, err := m.claimed(job)
	if err != nil {
		return err
	}
	delete(q.active, job.ID)
	delete(m.jobs, job.ID)
	job.Status = model.JobCompleted
	return nil
}

// FailWithRetry implements Broker.
func (m *MemoryBroker) FailWithRetry(_ context.Context, job *model.Job, cause error, delay time.Duration) error {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	q, stored, err := m.claimed(job)
	if err != nil {
		return err
	}
	delete(q.active, job.ID)
	stored.AttemptsMade++
	stored.LastError = errString(cause)
	stored.Status = model.JobFailed
	stored.UpdatedAt = now
	q.delayed[job.ID] = now.Add(delay)
	*job = *cloneJob(stored)
	return nil
}

// MoveToDeadLetter implements Broker.
func (m *MemoryBroker) MoveToDeadLetter(_ context.Context, job *model.Job, deadQueue string, cause error) error {
	if deadQueue == "" {
		return ErrEmptyQueueName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, stored, err := m.claimed(job)
	if err != nil {
		return err
	}
	delete(q.active, job.ID)
	stored.AttemptsMade++
	stored.LastError = errString(cause)
	stored.Status = model.JobDead
	stored.UpdatedAt = m.clock.Now()
	m.dead[deadQueue] = append(m.dead[deadQueue], job.ID)
	*job = *cloneJob(stored)
	return nil
}

// ListDeadLetter implements Broker.
func (m *MemoryBroker) ListDeadLetter(_ context.Context, deadQueue string, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.dead[deadQueue]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := m.jobs[id]; ok {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

// RemoveDeadLetter implements Broker.
func (m *MemoryBroker) RemoveDeadLetter(_ context.Context, deadQueue, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.dead[deadQueue]
	i := slices.Index(ids, jobID)
	if i < 0 {
		return fmt.Errorf("%w: %s is not in %s", ErrJobNotFound, jobID, deadQueue)
	}
	m.dead[deadQueue] = slices.Delete(ids, i, i+1)
	delete(m.jobs, jobID)
	return nil
}

// Metrics implements Broker.
func (m *MemoryBroker) Metrics(_ context.Context, queue string) (model.QueueMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queue)
	return model.NewQueueMetrics(int64(len(q.wait)), int64(len(q.active)), int64(len(q.delayed))), nil
}

// DeadCount implements Broker.
func (m *MemoryBroker) DeadCount(_ context.Context, deadQueue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.dead[deadQueue])), nil
}
