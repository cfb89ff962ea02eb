// Package queue hands sync tasks from the trigger path to the workers that run them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrQueueFull is returned by the local pool when every slot is taken.
var ErrQueueFull = errors.New("sync queue is full")

// Task asks a worker to sync one account under an already acquired lock.
type Task struct {
	AccountID  string    `json:"account_id"`
	TaskRef    string    `json:"task_ref"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (t Task) validate() error {
	if t.AccountID == "" || t.TaskRef == "" {
		return fmt.Errorf("task needs account_id and task_ref, got %+v", t)
	}
	return nil
}

func decodeTask(body []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, fmt.Errorf("decoding task: %w", err)
	}
	return t, t.validate()
}

// Handler runs one task. Its error is logged; sync failures are recorded
// on the account by the handler itself.
type Handler func(ctx context.Context, t Task) error

// Dispatcher enqueues a task for asynchronous execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Task) error
}
