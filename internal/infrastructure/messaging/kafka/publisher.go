package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dreschagin/visual-regression/internal/application/dto"
	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/pkg/logger"
	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "visual-test-events"

// Config параметры producer'а
type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements port.EventPublisher for Kafka
type Publisher struct {
	writer messageWriter
	topic  string
	logger *logger.Logger
}

func NewPublisher(cfg Config, log *logger.Logger) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, broker := range cfg.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}

	// ключ test_id: события одного теста попадают в одну партицию
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	log.Info("Kafka publisher configured", "brokers", strings.Join(brokers, ","), "topic", topic)

	return newPublisher(writer, topic, log), nil
}

func newPublisher(writer messageWriter, topic string, log *logger.Logger) *Publisher {
	return &Publisher{writer: writer, topic: topic, logger: log}
}

func (p *Publisher) Publish(ctx context.Context, event *dto.VisualTestEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TestID),
		Value: data,
		Time:  occurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish event to kafka topic %s: %w", p.topic, err)
	}

	p.logger.Debug("Event published", "topic", p.topic, "type", string(event.Type), "test_id", event.TestID)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ port.EventPublisher = (*Publisher)(nil)
