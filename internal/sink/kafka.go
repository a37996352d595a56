package sink

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"ibbridge/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
)

const (
	_dialTimeout  = 10 * time.Second
	_batchTimeout = 200 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes notifications as JSON. Order notifications are keyed by
// order id so one order stays on one partition.
type Kafka struct {
	topic  string
	writer messageWriter
}

func NewKafka(brokers []string, topic string) *Kafka {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Dialer:       &kafka.Dialer{Timeout: _dialTimeout, DualStack: true},
		BatchTimeout: _batchTimeout,
		RequiredAcks: int(kafka.RequireOne),
	})
	return &Kafka{topic: topic, writer: w}
}

func (k *Kafka) Name() string { return "kafka:" + k.topic }

func (k *Kafka) Write(ctx context.Context, batch []model.Notification) error {
	msgs, err := Messages(batch)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrapf(err, "write %d messages to %s", len(msgs), k.topic)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Messages encodes a batch. The key is the order id, or the notification
// kind when no order is attached.
func Messages(batch []model.Notification) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, note := range batch {
		value, err := json.Marshal(note)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal %s notification", note.Kind)
		}
		key := note.Kind.String()
		if note.Order != nil {
			key = strconv.FormatInt(note.Order.ID, 10)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(key),
			Value: value,
			Time:  note.Time,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(note.Kind.String())},
			},
		})
	}
	return msgs, nil
}
