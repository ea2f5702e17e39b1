package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type fakeReader struct {
	ch        chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
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

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type handlerFunc struct {
	topic string
	fn    func([]byte) error
}

func (h handlerFunc) Topic() string                            { return h.topic }
func (h handlerFunc) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func TestProducer_PublishJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "snappy", prometheus.NewRegistry())

	require.NoError(t, p.Publish(context.Background(), "audit", []byte("s1"), map[string]string{"to": "SWEPT"}))
	require.NoError(t, p.PublishMessage(context.Background(), "logs", "raw"))

	msgs := w.written()
	require.Len(t, msgs, 2)
	assert.Equal(t, "audit", msgs[0].Topic)
	assert.Equal(t, []byte("s1"), msgs[0].Key)
	assert.JSONEq(t, `{"to":"SWEPT"}`, string(msgs[0].Value))
	assert.Equal(t, "raw", string(msgs[1].Value))
}

func TestProducer_WriteError(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("broker down")}, "snappy", nil)
	err := p.Publish(context.Background(), "audit", nil, "x")
	assert.ErrorContains(t, err, "broker down")
}

func newTestConsumer(t *testing.T, r *fakeReader, dlq *fakeWriter, h MessageHandler) *Consumer {
	t.Helper()
	c, err := NewConsumer(nil,
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	)
	require.NoError(t, err)
	c.newReader = func(string) reader { return r }
	if dlq != nil {
		c.cfg.DLQTopic = "trade-close.dlq"
		c.dlq = dlq
	}
	c.RegisterHandler(h)
	return c
}

func TestConsumer_HandlesAndCommits(t *testing.T) {
	r := &fakeReader{ch: make(chan kafka.Message, 4)}
	var mu sync.Mutex
	var got []string
	c := newTestConsumer(t, r, nil, handlerFunc{topic: "trade-close", fn: func(b []byte) error {
		mu.Lock()
		got = append(got, string(b))
		mu.Unlock()
		return nil
	}})

	require.NoError(t, c.Start(context.Background()))
	r.ch <- kafka.Message{Topic: "trade-close", Offset: 7, Value: []byte("a")}

	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, []int64{7}, r.commits())
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	r := &fakeReader{ch: make(chan kafka.Message, 4)}
	dlq := &fakeWriter{}
	var mu sync.Mutex
	attempts := 0
	c := newTestConsumer(t, r, dlq, handlerFunc{topic: "trade-close", fn: func([]byte) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("bad payload")
	}})

	require.NoError(t, c.Start(context.Background()))
	r.ch <- kafka.Message{Topic: "trade-close", Offset: 3, Value: []byte("{")}

	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
	parked := dlq.written()
	require.Len(t, parked, 1)
	assert.Equal(t, "trade-close.dlq", parked[0].Topic)
}

func TestConsumer_NoDLQLeavesOffset(t *testing.T) {
	r := &fakeReader{ch: make(chan kafka.Message, 4)}
	done := make(chan struct{}, 4)
	c := newTestConsumer(t, r, nil, handlerFunc{topic: "trade-close", fn: func([]byte) error {
		done <- struct{}{}
		return errors.New("nope")
	}})

	require.NoError(t, c.Start(context.Background()))
	r.ch <- kafka.Message{Topic: "trade-close", Offset: 1}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler not retried")
		}
	}
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))
	assert.Empty(t, r.commits())
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
