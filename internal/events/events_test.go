package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingPublisher struct {
	got []Event
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.got = append(r.got, e)
	return r.err
}

func TestEvent_Encode(t *testing.T) {
	e := Event{
		Type:       OrderRefunded,
		OrderID:    "o1",
		Amount:     decimal.RequireFromString("4"),
		Status:     "partially_refunded",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)
	e.Encode(enc)

	assert.JSONEq(t, `{
		"type": "order.refunded",
		"order_id": "o1",
		"amount": "4.00",
		"status": "partially_refunded",
		"occurred_at": "2026-01-02T03:04:05Z"
	}`, enc.String())
}

func TestPublishBestEffort(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	lg := zap.New(core)

	p := &recordingPublisher{err: errors.New("broker down")}
	PublishBestEffort(context.Background(), p, lg, Event{Type: OrderPaid, OrderID: "o1"})

	require.Len(t, p.got, 1)
	assert.False(t, p.got[0].OccurredAt.IsZero())
	assert.Equal(t, 1, logs.Len())

	// nil publisher is a no-op.
	PublishBestEffort(context.Background(), nil, lg, Event{Type: OrderPaid})
}
