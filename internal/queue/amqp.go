package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig names the broker and the durable queue sync tasks go through.
type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
	// Prefetch bounds unacknowledged deliveries per consumer. Defaults to 1.
	Prefetch int
}

// AMQP publishes and consumes sync tasks through RabbitMQ.
type AMQP struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     AMQPConfig
	logger  *slog.Logger

	mu sync.Mutex
}

// DialAMQP connects and declares the exchange, queue and binding.
func DialAMQP(cfg AMQPConfig, logger *slog.Logger) (*AMQP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q := &AMQP{conn: conn, channel: channel, cfg: cfg, logger: logger.With("component", "sync_amqp")}
	if err := q.setup(); err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	q.logger.Info("connected to AMQP", "exchange", cfg.Exchange, "queue", cfg.Queue)
	return q, nil
}

func (q *AMQP) setup() error {
	if err := q.channel.ExchangeDeclare(q.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := q.channel.QueueDeclare(q.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := q.channel.QueueBind(q.cfg.Queue, q.cfg.Queue, q.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	if err := q.channel.Qos(q.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

// Dispatch publishes t as a persistent message.
func (q *AMQP) Dispatch(ctx context.Context, t Task) error {
	if err := t.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.channel.PublishWithContext(ctx, q.cfg.Exchange, q.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    t.TaskRef,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}

	q.logger.Info("published sync task", "account_id", t.AccountID, "task_ref", t.TaskRef)
	return nil
}

// Consume runs handler for each delivery until ctx is done. Successful and
// failed tasks are both acknowledged: a failed sync has already released its
// lock, so redelivering it could only lose the lock check. Undecodable
// messages are rejected without requeue.
func (q *AMQP) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := q.channel.ConsumeWithContext(ctx, q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	q.logger.Info("consuming sync tasks", "queue", q.cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("stopping consumption", "reason", ctx.Err())
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			q.handle(ctx, d, handler)
		}
	}
}

func (q *AMQP) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	t, err := decodeTask(d.Body)
	if err != nil {
		q.logger.Error("rejecting malformed sync task", "error", err)
		if err := d.Nack(false, false); err != nil {
			q.logger.Error("nack failed", "error", err)
		}
		return
	}

	if err := handler(ctx, t); err != nil {
		q.logger.Error("sync task failed", "account_id", t.AccountID, "task_ref", t.TaskRef, "error", err)
	}
	if err := d.Ack(false); err != nil {
		q.logger.Error("ack failed", "account_id", t.AccountID, "task_ref", t.TaskRef, "error", err)
	}
}

// Close closes the channel and connection.
func (q *AMQP) Close() error {
	if q.channel != nil {
		_ = q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
