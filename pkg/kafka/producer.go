package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes messages to the platform event bus.
type Producer struct {
	client   *kgo.Client
	logger   *logrus.Logger
	clientID string
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, clientID string, logger *logrus.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{
		client:   client,
		logger:   logger,
		clientID: clientID,
	}, nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// ProduceMessage synchronously produces a single message to a topic.
func (p *Producer) ProduceMessage(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}

	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{
			Key:   k,
			Value: []byte(v),
		})
	}

	result := p.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// HealthCheck pings the brokers
func (p *Producer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// GetClient returns the underlying kgo.Client for health checks
func (p *Producer) GetClient() *kgo.Client {
	return p.client
}
