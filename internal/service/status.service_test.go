package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafe-orders/internal/domain"
)

type statusHarness struct {
	*orderHarness
	status StatusService
}

func newStatusHarness(t *testing.T) *statusHarness {
	t.Helper()
	h := newOrderHarness(t, false)
	logger, _ := test.NewNullLogger()
	return &statusHarness{
		orderHarness: h,
		status: NewStatusService(
			h.store,
			fakeOrderRepo{h.store},
			fakeEventRepo{h.store},
			NewStoreLimiter(h.store, fakeRateLimitRepo{h.store}, h.clock.Now),
			h.relay,
			logger,
			30*time.Second,
			h.clock.Now,
		),
	}
}

func (h *statusHarness) placeOrder(t *testing.T, sub *domain.Submission) *domain.Order {
	t.Helper()
	o, err := h.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	return o
}

func TestTransitionWritesAuditAndEvent(t *testing.T) {
	h := newStatusHarness(t)
	o := h.placeOrder(t, shake("S1"))

	got, err := h.status.Transition(context.Background(), o.ID, domain.Transition{To: domain.OrderConfirmed, ChangedBy: "staff:maria", Note: "paid at counter"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, got.Status)

	history, err := h.svc.History(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StatusChange{
		From:      domain.OrderPending,
		To:        domain.OrderConfirmed,
		ChangedBy: "staff:maria",
		Note:      "paid at counter",
		ChangedAt: h.clock.Now(),
	}, history[1])
	assert.Equal(t, []domain.ChangeKind{domain.ChangeOrderCreated, domain.ChangeStatusChanged}, h.store.eventKinds())
}

func TestTransitionSameStatusIsNoop(t *testing.T) {
	h := newStatusHarness(t)
	o := h.placeOrder(t, shake("S1"))

	_, err := h.status.Transition(context.Background(), o.ID, domain.Transition{To: domain.OrderPending, ChangedBy: "staff:maria"})
	require.NoError(t, err)
	assert.Equal(t, []domain.ChangeKind{domain.ChangeOrderCreated}, h.store.eventKinds())
}

func TestTransitionCompletionTimestamp(t *testing.T) {
	h := newStatusHarness(t)
	o := h.placeOrder(t, shake("S1"))
	ctx := context.Background()

	done, err := h.status.Transition(ctx, o.ID, domain.Transition{To: domain.OrderCompleted, ChangedBy: "staff:maria"})
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	_, err = h.status.Transition(ctx, o.ID, domain.Transition{To: domain.OrderReady, ChangedBy: "staff:maria"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	reopened, err := h.status.Transition(ctx, o.ID, domain.Transition{To: domain.OrderReady, ChangedBy: "staff:maria", Correction: true})
	require.NoError(t, err)
	assert.Nil(t, reopened.CompletedAt)

	stored, err := h.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CompletedAt)
	assert.Equal(t, domain.OrderReady, stored.Status)
}

func TestTransitionUnknownOrder(t *testing.T) {
	h := newStatusHarness(t)
	_, err := h.status.Transition(context.Background(), uuid.New(), domain.Transition{To: domain.OrderConfirmed})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestTransitionManyIsIndependentPerOrder(t *testing.T) {
	h := newStatusHarness(t)
	ctx := context.Background()

	a := h.placeOrder(t, shake("S1"))
	b := h.placeOrder(t, shake("S2"))
	_, err := h.status.Transition(ctx, b.ID, domain.Transition{To: domain.OrderCancelled, ChangedBy: "staff:maria"})
	require.NoError(t, err)
	missing := uuid.New()

	results, err := h.status.TransitionMany(ctx, []uuid.UUID{a.ID, b.ID, missing}, domain.Transition{To: domain.OrderPreparing, ChangedBy: "staff:maria"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, domain.OrderPreparing, results[0].Order.Status)
	assert.ErrorIs(t, results[1].Err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, results[2].Err, domain.ErrOrderNotFound)

	stored, err := h.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, stored.Status)
}

func TestTransitionManyIsRateLimited(t *testing.T) {
	h := newStatusHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t, shake("S1"))

	_, err := h.status.TransitionMany(ctx, []uuid.UUID{o.ID}, domain.Transition{To: domain.OrderConfirmed, ChangedBy: "staff:maria"})
	require.NoError(t, err)

	h.clock.Advance(10 * time.Second)
	_, err = h.status.TransitionMany(ctx, []uuid.UUID{o.ID}, domain.Transition{To: domain.OrderPreparing, ChangedBy: "staff:maria"})
	var rl *domain.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, domain.ActionAdmin, rl.ActionKind)
	assert.Equal(t, 20, rl.RemainingSeconds())

	_, err = h.status.TransitionMany(ctx, []uuid.UUID{o.ID}, domain.Transition{To: domain.OrderPreparing, ChangedBy: "staff:jun"})
	assert.NoError(t, err)
}

func TestTransitionManyValidatesInput(t *testing.T) {
	h := newStatusHarness(t)
	_, err := h.status.TransitionMany(context.Background(), nil, domain.Transition{To: domain.OrderReady, ChangedBy: "staff:maria"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.status.TransitionMany(context.Background(), []uuid.UUID{uuid.New()}, domain.Transition{To: "lost", ChangedBy: "staff:maria"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
