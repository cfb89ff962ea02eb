package queue

import (
	"context"
	"testing"
	"time"

	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func TestAMQP_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping rabbitmq integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := tcrabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine")
	if err != nil {
		t.Skipf("rabbitmq container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	url, err := ctr.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("amqp url: %v", err)
	}
	q, err := DialAMQP(AMQPConfig{URL: url, Exchange: "kharcha", Queue: "kharcha.sync"}, nil)
	if err != nil {
		t.Fatalf("DialAMQP: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	want := Task{AccountID: "acct-1", TaskRef: "ref-1", EnqueuedAt: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
	if err := q.Dispatch(ctx, want); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	consumeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	got := make(chan Task, 1)
	go func() {
		_ = q.Consume(consumeCtx, func(_ context.Context, task Task) error {
			got <- task
			cancel()
			return nil
		})
	}()

	select {
	case task := <-got:
		if task.AccountID != want.AccountID || task.TaskRef != want.TaskRef || !task.EnqueuedAt.Equal(want.EnqueuedAt) {
			t.Errorf("task: got %+v, want %+v", task, want)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
