package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu      sync.Mutex
	written []kafka.Message
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.written = append(w.written, msgs...)

	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true

	return nil
}

func TestProducer_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8)
	p.Start(context.Background())

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, p.Publish(context.Background(), []byte(key), []byte("{}")))
	}

	p.Close()
	p.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()

	require.Len(t, w.written, 3)
	assert.Equal(t, "a", string(w.written[0].Key))
	assert.True(t, w.closed)

	assert.ErrorIs(t, p.Publish(context.Background(), []byte("d"), nil), ErrProducerClosed)
}

func TestProducer_DrainsOnCancel(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8)

	require.NoError(t, p.Publish(context.Background(), []byte("queued"), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Start(ctx)
	p.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()

	assert.Len(t, w.written, 1)
	assert.True(t, w.closed)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()

	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		return m, nil
	}
	r.mu.Unlock()

	<-ctx.Done()

	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}

	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_CommitsOnlyHandledMessages(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newConsumer(r, 2)
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen int
	)

	done := make(chan struct{})

	handler := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()

		seen++
		if seen == 3 {
			close(done)
		}

		if m.Offset == 2 {
			return errors.New("bad payload")
		}

		return nil
	}

	errCh := make(chan error, 1)

	go func() { errCh <- c.Start(ctx, handler) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages were not handled")
	}

	cancel()
	require.NoError(t, <-errCh)

	r.mu.Lock()
	defer r.mu.Unlock()

	assert.ElementsMatch(t, []int64{1, 3}, r.committed)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope("posting.created", "reloop-api", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, 1, env.EventVersion)

	b := MustMarshal(env)

	decoded, err := UnmarshalEnvelope(b)
	require.NoError(t, err)

	payload, err := UnwrapPayload[map[string]string](decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, "u1", payload["user_id"])
}
