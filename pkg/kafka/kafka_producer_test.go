package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

type memWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *memWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func TestProduceWritesJSON(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter("reports", w)
	if err := p.Produce(context.Background(), []byte("cycle-1"), map[string]any{"tick": 3}); err != nil {
		t.Fatalf("produce: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "cycle-1" {
		t.Fatalf("messages = %+v", w.msgs)
	}
	var got map[string]int
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil || got["tick"] != 3 {
		t.Fatalf("value = %s", w.msgs[0].Value)
	}
	p.Close()
	if !w.closed {
		t.Fatalf("writer not closed")
	}
}

func TestProduceWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewProducerWithWriter("reports", &memWriter{err: boom})
	if err := p.Produce(context.Background(), nil, 1); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewKafkaProducerRequiresConfig(t *testing.T) {
	if _, err := NewKafkaProducer("", "reports"); err == nil {
		t.Fatalf("expected error")
	}
}
