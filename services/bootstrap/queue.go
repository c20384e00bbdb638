// Package bootstrap implements C11: the on-demand lazy-indexing queue that
// brings a previously unseen wallet or token address into the ledger so
// the resolver surface can report a truthful, non-blocking status.
package bootstrap

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// SubjectType is the closed set of subjects a bootstrap task can index.
type SubjectType string

const (
	SubjectWallet SubjectType = "wallet"
	SubjectToken  SubjectType = "token"
)

// Status is a BootstrapTask's lifecycle stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// priority ordering: lower number runs first. Tokens are cheaper to index
// than wallets, so they are prioritized ahead of them.
const (
	priorityToken  = 2
	priorityWallet = 3
)

const (
	maxAttempts     = 5
	backoffBase     = 2 * time.Second
	backoffMax      = 2 * time.Minute
	backoffJitterPc = 0.25
)

// Task is the BootstrapTask record §3 describes.
type Task struct {
	DedupKey    string      `json:"dedupKey"`
	SubjectType SubjectType `json:"subjectType"`
	Network     string      `json:"network"`
	Address     string      `json:"address"`
	Priority    int         `json:"priority"`
	Status      Status      `json:"status"`
	Attempts    int         `json:"attempts"`
	Progress    int         `json:"progress"`
	Step        string      `json:"step"`
	ETASeconds  int         `json:"etaSeconds"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`

	nextAttemptAt time.Time
}

// EnqueueResult is enqueue's return value.
type EnqueueResult struct {
	Queued bool   `json:"queued"`
	Status Status `json:"status"`
}

// StatusResult is getStatus's return value.
type StatusResult struct {
	Exists     bool   `json:"exists"`
	Status     Status `json:"status"`
	Progress   int    `json:"progress"`
	Step       string `json:"step"`
	ETASeconds int    `json:"etaSeconds"`
}

// CompletionHandler is invoked exactly once per task when it reaches a
// terminal state, so the resolver surface can transition its cache entry.
type CompletionHandler func(address string, status Status)

// etaTable holds per-subject-type cost estimates; wallets take longer to
// index than tokens because they touch every counterparty's relations.
var etaTable = map[SubjectType]int{
	SubjectToken:  20,
	SubjectWallet: 45,
}

// Worker performs the actual indexing work for one task; the queue only
// manages lifecycle, dedup, retry, and progress bookkeeping around it.
type Worker func(ctx context.Context, task *Task, report func(progress int, step string)) error

// Queue implements C11. It is safe for concurrent enqueue/getStatus calls
// and for a single background Run loop driving tasks to completion.
type Queue struct {
	mu         sync.Mutex
	tasks      map[string]*Task
	order      []string // insertion order; nextRunnable sorts a copy by priority
	worker     Worker
	onDone     CompletionHandler
	calledDone map[string]bool
}

// NewQueue constructs a C11 queue. worker performs the actual subject
// indexing; onDone may be nil if no completion callback is needed.
func NewQueue(worker Worker, onDone CompletionHandler) *Queue {
	return &Queue{
		tasks:      make(map[string]*Task),
		worker:     worker,
		onDone:     onDone,
		calledDone: make(map[string]bool),
	}
}

func dedupKey(subjectType SubjectType, network, address string) string {
	return fmt.Sprintf("%s:%s:%s", subjectType, network, address)
}

func priorityFor(subjectType SubjectType) int {
	if subjectType == SubjectToken {
		return priorityToken
	}
	return priorityWallet
}

// Enqueue adds a task for (subjectType, network, address) if one does not
// already exist. Re-enqueueing an existing task is a no-op that reports
// its current status — this is the idempotency property §8 requires.
func (q *Queue) Enqueue(subjectType SubjectType, network, address string) EnqueueResult {
	key := dedupKey(subjectType, network, address)

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.tasks[key]; ok {
		return EnqueueResult{Queued: false, Status: existing.Status}
	}

	now := time.Now()
	task := &Task{
		DedupKey:    key,
		SubjectType: subjectType,
		Network:     network,
		Address:     address,
		Priority:    priorityFor(subjectType),
		Status:      StatusQueued,
		ETASeconds:  etaTable[subjectType],
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.tasks[key] = task
	q.order = append(q.order, key)
	return EnqueueResult{Queued: true, Status: StatusQueued}
}

// GetStatus reports a task's current lifecycle state.
func (q *Queue) GetStatus(subjectType SubjectType, network, address string) StatusResult {
	key := dedupKey(subjectType, network, address)

	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[key]
	if !ok {
		return StatusResult{Exists: false}
	}
	return StatusResult{
		Exists:     true,
		Status:     task.Status,
		Progress:   task.Progress,
		Step:       task.Step,
		ETASeconds: task.ETASeconds,
	}
}

// EstimateETA returns the table-driven cost estimate for subjectType.
func EstimateETA(subjectType SubjectType) int {
	return etaTable[subjectType]
}

// Run drains queued tasks in priority order until ctx is canceled. Tasks
// awaiting backoff are skipped until their nextAttemptAt elapses.
func (q *Queue) Run(ctx context.Context, pollInterval time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		task := q.nextRunnable()
		if task == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		q.runTask(ctx, task)
	}
}

// nextRunnable returns the highest-priority queued task whose backoff (if
// any) has elapsed, marking it running under the queue lock so no other
// caller can pick it up concurrently.
func (q *Queue) nextRunnable() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidates []*Task
	now := time.Now()
	for _, key := range q.order {
		t := q.tasks[key]
		if t.Status == StatusQueued && now.After(t.nextAttemptAt) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	chosen := candidates[0]
	chosen.Status = StatusRunning
	chosen.UpdatedAt = time.Now()
	return chosen
}

func (q *Queue) runTask(ctx context.Context, task *Task) {
	report := func(progress int, step string) {
		q.mu.Lock()
		task.Progress = progress
		task.Step = step
		task.UpdatedAt = time.Now()
		q.mu.Unlock()
	}

	err := q.worker(ctx, task, report)

	q.mu.Lock()
	task.Attempts++
	if err == nil {
		task.Status = StatusDone
		task.Progress = 100
		now := time.Now()
		task.CompletedAt = &now
		task.UpdatedAt = now
	} else if task.Attempts >= maxAttempts {
		task.Status = StatusFailed
		now := time.Now()
		task.CompletedAt = &now
		task.UpdatedAt = now
	} else {
		task.Status = StatusQueued
		task.nextAttemptAt = time.Now().Add(backoffWithJitter(task.Attempts))
		task.UpdatedAt = time.Now()
	}
	terminal := task.Status == StatusDone || task.Status == StatusFailed
	alreadyNotified := q.calledDone[task.DedupKey]
	if terminal && !alreadyNotified {
		q.calledDone[task.DedupKey] = true
	}
	address, status := task.Address, task.Status
	q.mu.Unlock()

	if terminal && !alreadyNotified && q.onDone != nil {
		q.onDone(address, status)
	}
}

// backoffWithJitter computes an exponential backoff capped at backoffMax,
// with up to ±backoffJitterPc of jitter applied to avoid synchronized retries.
func backoffWithJitter(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt && d < backoffMax; i++ {
		d *= 2
	}
	if d > backoffMax {
		d = backoffMax
	}
	delta := float64(d) * backoffJitterPc
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
