package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"cafe-orders/internal/domain"
)

func TestBrokerFansOutToEveryInstance(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := t.Context()

	ctr, err := rabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)
	url, err := ctr.AmqpURL(ctx)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	publisher, err := DialBroker(url, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = publisher.Close() })

	// Two service instances, each with its own hub.
	hubs := []*Hub{NewHub(), NewHub()}
	subs := make([]*Subscription, len(hubs))
	consumeCtx, stop := context.WithCancel(ctx)
	t.Cleanup(stop)
	for i, hub := range hubs {
		b, err := DialBroker(url, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		subs[i] = hub.Subscribe(ctx, domain.TopicAllOrders)
		go func() { _ = b.Consume(consumeCtx, hub) }()
	}
	// Let the exclusive queues bind before publishing.
	time.Sleep(500 * time.Millisecond)

	ev := domain.ChangeEvent{
		ID:          uuid.New(),
		Kind:        domain.ChangeOrderCreated,
		OrderID:     uuid.New(),
		OrderNumber: "ORD-20261018-0001",
		Status:      domain.OrderPending,
		OccurredAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, publisher.Publish(ctx, ev))

	for _, sub := range subs {
		select {
		case got := <-sub.C:
			assert.Equal(t, ev.ID, got.ID)
			assert.Equal(t, ev.OrderNumber, got.OrderNumber)
		case <-time.After(5 * time.Second):
			t.Fatal("event not fanned out")
		}
	}
}
