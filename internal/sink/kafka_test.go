package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ibbridge/internal/model"
	"ibbridge/internal/model/enum"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaWrite(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{topic: "ibbridge.notifications", writer: w}
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	batch := []model.Notification{
		{Kind: enum.NotificationCompleted, Time: at, Order: &model.Order{ID: 42, Status: enum.OrderStatusFilled}},
		{Kind: enum.NotificationBrokerError, Time: at, Code: 10147, Message: "not found"},
	}
	require.NoError(t, k.Write(context.Background(), batch))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "42", string(w.msgs[0].Key))
	assert.Equal(t, at, w.msgs[0].Time)
	assert.Equal(t, "completed", string(w.msgs[0].Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "completed", decoded["kind"])

	assert.Equal(t, "broker_error", string(w.msgs[1].Key))
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, float64(10147), decoded["code"])

	assert.Equal(t, "kafka:ibbridge.notifications", k.Name())
	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafkaWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	k := &Kafka{topic: "t", writer: &fakeWriter{err: boom}}
	err := k.Write(context.Background(), []model.Notification{{Kind: enum.NotificationDrift}})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, k.Write(context.Background(), nil))
}
