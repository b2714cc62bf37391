package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when the message was fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	backoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})

	return newConsumer(r, workers)
}

func newConsumer(r messageReader, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}

	return &Consumer{r: r, workers: workers, backoff: 200 * time.Millisecond}
}

// Start dispatches fetched messages to a pool of workers until ctx is
// cancelled. Failed messages are logged and left uncommitted.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer func() {
		if err := c.r.Close(); err != nil {
			slog.Error("failed to close kafka reader", "error", err)
		}
	}()

	jobs := make(chan kafka.Message, c.workers*4)

	var wg sync.WaitGroup

	for i := 0; i < c.workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			for m := range jobs {
				c.handle(ctx, id, h, m)
			}
		}(i)
	}

	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		}

		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, worker int, h Handler, m kafka.Message) {
	if err := h(ctx, m); err != nil {
		slog.Error("failed to handle kafka message",
			"worker", worker, "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)

		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
		}

		return
	}

	if err := c.r.CommitMessages(ctx, m); err != nil {
		slog.Error("failed to commit kafka message", "offset", m.Offset, "error", err)
	}
}
