package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"edgetrader/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// MessageWriter kafka.Writer 的子集，方便测试替换
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerService 把执行报告等消息以JSON写入同一个topic
type ProducerService interface {
	Produce(ctx context.Context, key []byte, msg any) error
	Close()
}

type kafkaProducer struct {
	topic  string
	writer MessageWriter
}

func NewKafkaProducer(brokerURL, topic string) (ProducerService, error) {
	if brokerURL == "" || topic == "" {
		return nil, errors.New("kafka broker and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerURL),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // 相同 key 进入同一个 Partition，保证同一周期的报告有序
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return NewProducerWithWriter(topic, writer), nil
}

func NewProducerWithWriter(topic string, writer MessageWriter) ProducerService {
	return &kafkaProducer{topic: topic, writer: writer}
}

// Produce 序列化消息并写入 Kafka
func (p *kafkaProducer) Produce(ctx context.Context, key []byte, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal kafka message: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: data}); err != nil {
		return fmt.Errorf("write kafka topic %s: %w", p.topic, err)
	}
	return nil
}

func (p *kafkaProducer) Close() {
	if err := p.writer.Close(); err != nil {
		logger.Warnf("Error closing kafka writer for %s: %v", p.topic, err)
	}
}
