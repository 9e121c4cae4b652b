package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_PublishStatusChanged(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "payment-status", time.Second, zap.NewNop())

	err := p.PublishStatusChanged(context.Background(), StatusChanged{
		OrderID:  "ORD1",
		StatusID: 21,
		Status:   "CHARGED",
		Outcome:  "success",
		Amount:   decimal.NewFromInt(1000),
		Currency: "INR",
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "ORD1", string(msg.Key))

	var got StatusChanged
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, 21, got.StatusID)
	assert.True(t, decimal.NewFromInt(1000).Equal(got.Amount))
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := newKafkaPublisher(&fakeWriter{err: errors.New("broker down")}, "t", time.Second, zap.NewNop())

	err := p.PublishStatusChanged(context.Background(), StatusChanged{OrderID: "ORD1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}
