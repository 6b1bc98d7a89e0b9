package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"restaurant-order-service/internal/dto"
	"restaurant-order-service/internal/model"
	"restaurant-order-service/internal/service"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	msg      amqp091.Publishing
}

type fakeChannel struct{ out []published }

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp091.Publishing) error {
	f.out = append(f.out, published{exchange: exchange, msg: msg})
	return nil
}

func TestPublisherEvents(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ch := &fakeChannel{}
	p := NewPublisher(ch, logger)
	o := &model.Order{ID: "abc", OrderNumber: "001-23/09/2025", OrderDate: "20250923", Status: model.StatusPending, Total: 10}

	require.NoError(t, p.PublishOrderPlaced(context.Background(), o))
	o.Status = model.StatusCompleted
	require.NoError(t, p.PublishStatusChanged(context.Background(), o, model.StatusPending))

	require.Len(t, ch.out, 2)
	assert.Equal(t, ExchangeOrderPlaced, ch.out[0].exchange)
	assert.Equal(t, ExchangeOrderStatusChanged, ch.out[1].exchange)
	assert.NotEmpty(t, ch.out[0].msg.MessageId)
	assert.Equal(t, "application/json", ch.out[0].msg.ContentType)

	var ev EventMessage
	require.NoError(t, json.Unmarshal(ch.out[1].msg.Body, &ev))
	assert.Equal(t, "001-23/09/2025", ev.Message.OrderNumber)
	assert.Equal(t, model.StatusCompleted, ev.Message.Status)
	assert.Equal(t, model.StatusPending, ev.Message.PreviousStatus)
}

type ackRecord struct {
	acked, nacked, requeue bool
}

func (a *ackRecord) Ack(uint64, bool) error { a.acked = true; return nil }
func (a *ackRecord) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeue = true, requeue
	return nil
}
func (a *ackRecord) Reject(_ uint64, requeue bool) error {
	a.nacked, a.requeue = true, requeue
	return nil
}

type stubCreator struct {
	err  error
	last dto.CreateOrderRequest
}

func (s *stubCreator) CreateOrder(_ context.Context, req dto.CreateOrderRequest) (*service.CreateOrderResult, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &service.CreateOrderResult{Order: &model.Order{OrderNumber: "001-23/09/2025"}}, nil
}

func delivery(t *testing.T, body any, redelivered bool) (amqp091.Delivery, *ackRecord) {
	t.Helper()
	var raw []byte
	if s, ok := body.(string); ok {
		raw = []byte(s)
	} else {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	ack := &ackRecord{}
	return amqp091.Delivery{Acknowledger: ack, Body: raw, MessageId: "msg-1", Redelivered: redelivered}, ack
}

func TestIntakeConsumerAcking(t *testing.T) {
	logger, _ := test.NewNullLogger()
	order := IntakeMessage{CorrelationID: "pos-1", Message: dto.CreateOrderRequest{Customer: "Ali"}}
	transient := fmt.Errorf("allocate: %w", service.ErrStorageUnavailable)

	cases := []struct {
		name        string
		body        any
		err         error
		redelivered bool
		want        ackRecord
	}{
		{"placed", order, nil, false, ackRecord{acked: true}},
		{"validation failure", order, &service.ValidationError{}, false, ackRecord{acked: true}},
		{"malformed", "{oops", nil, false, ackRecord{acked: true}},
		{"transient first time", order, transient, false, ackRecord{nacked: true, requeue: true}},
		{"transient redelivered", order, transient, true, ackRecord{nacked: true}},
		{"exhausted", order, service.ErrAllocationExhausted, false, ackRecord{nacked: true, requeue: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			creator := &stubCreator{err: tc.err}
			d, ack := delivery(t, tc.body, tc.redelivered)

			require.NoError(t, NewIntakeConsumer(creator, logger).Handle(context.Background(), d))
			assert.Equal(t, tc.want, *ack)
		})
	}
}

func TestIntakeConsumerUsesMessageIDAsIdempotencyKey(t *testing.T) {
	logger, _ := test.NewNullLogger()
	creator := &stubCreator{}

	d, _ := delivery(t, IntakeMessage{Message: dto.CreateOrderRequest{Customer: "Ali"}}, false)
	require.NoError(t, NewIntakeConsumer(creator, logger).Handle(context.Background(), d))
	assert.Equal(t, "msg-1", creator.last.IdempotencyKey)

	d, _ = delivery(t, IntakeMessage{Message: dto.CreateOrderRequest{Customer: "Ali", IdempotencyKey: "own"}}, false)
	require.NoError(t, NewIntakeConsumer(creator, logger).Handle(context.Background(), d))
	assert.Equal(t, "own", creator.last.IdempotencyKey)
}
