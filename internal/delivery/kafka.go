package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/segmentio/kafka-go"

	"account-auth/backend/internal/account/domain"
)

const kafkaWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes reset deliveries as JSON to a Kafka topic for the mail
// worker. Messages are keyed by email so codes for one account stay ordered.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink returns a KafkaSink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka sink: brokers and topic are required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: w, topic: topic}, nil
}

// Deliver writes d to the topic, bounded by a short timeout.
func (k *KafkaSink) Deliver(ctx context.Context, d domain.ResetDelivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()
	err = k.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(d.Email),
		Value: payload,
		Time:  d.IssuedAt,
	})
	if err != nil {
		return oops.Code("RESET_DELIVERY").In("kafka").With("topic", k.topic).Wrap(err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
