package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPool_RunsTasks(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	p := NewPool(2, 10, func(_ context.Context, task Task) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.AccountID)
		if task.AccountID == "bad" {
			return errors.New("boom")
		}
		return nil
	}, nil)
	p.Start(context.Background())

	for _, id := range []string{"a", "b", "bad", "c"} {
		if err := p.Dispatch(context.Background(), Task{AccountID: id, TaskRef: "r-" + id}); err != nil {
			t.Fatalf("Dispatch %s: %v", id, err)
		}
	}
	p.Stop()

	if len(seen) != 4 {
		t.Errorf("handled: got %v, want 4 tasks", seen)
	}
	if err := p.Dispatch(context.Background(), Task{AccountID: "late", TaskRef: "r"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("dispatch after stop: got %v, want ErrQueueFull", err)
	}
}

func TestPool_Full(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := NewPool(1, 1, func(ctx context.Context, _ Task) error {
		started <- struct{}{}
		<-release
		return nil
	}, nil)
	p.Start(context.Background())
	defer p.Stop()
	defer close(release)

	ctx := context.Background()
	if err := p.Dispatch(ctx, Task{AccountID: "a", TaskRef: "1"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker did not pick up the first task")
	}
	if err := p.Dispatch(ctx, Task{AccountID: "b", TaskRef: "2"}); err != nil {
		t.Fatalf("buffered dispatch: %v", err)
	}
	if err := p.Dispatch(ctx, Task{AccountID: "c", TaskRef: "3"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("third dispatch: got %v, want ErrQueueFull", err)
	}
}

func TestPool_RejectsIncompleteTask(t *testing.T) {
	p := NewPool(1, 1, func(context.Context, Task) error { return nil }, nil)
	if err := p.Dispatch(context.Background(), Task{AccountID: "a"}); err == nil {
		t.Error("expected error for missing task_ref")
	}
}

func TestDecodeTask(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"ok", `{"account_id":"a","task_ref":"r","enqueued_at":"2024-01-15T10:00:00Z"}`, false},
		{"missing ref", `{"account_id":"a"}`, true},
		{"garbage", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeTask([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeTask: got err %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
