package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/wimjan123/tweede-kamer-scraper/internal/models"
)

// Kafka publishes transcripts to a topic, keyed by meeting id so revisions
// of the same session land in one partition.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka builds a Kafka exporter for the given brokers and topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:     brokers,
			Topic:       topic,
			MaxAttempts: 3,
		}),
	}
}

func (k *Kafka) Name() string { return "kafka" }

// Export publishes the transcript JSON.
func (k *Kafka) Export(ctx context.Context, t models.Transcript) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.MeetingID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("write transcript message: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
