package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"cafe-orders/internal/notify"
	"cafe-orders/internal/repo"
)

const relayBatchSize = 100

// Relay drains the order_events outbox into a publisher. An event is marked
// published only after the publisher accepted it, so a crash in between
// publishes it again.
type Relay struct {
	events    repo.EventRepo
	publisher notify.Publisher
	interval  time.Duration
	nudge     chan struct{}
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewRelay(events repo.EventRepo, publisher notify.Publisher, interval time.Duration, log logrus.FieldLogger) *Relay {
	return &Relay{
		events:    events,
		publisher: publisher,
		interval:  interval,
		nudge:     make(chan struct{}, 1),
		log:       log.WithField("worker", "outbox_relay"),
		now:       time.Now,
	}
}

// Nudge asks for a drain now instead of at the next tick.
func (r *Relay) Nudge() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.nudge:
		}
		if err := r.drain(ctx); err != nil && ctx.Err() == nil {
			r.log.WithError(err).Warn("outbox relay pass failed")
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	for {
		n, err := r.process(ctx)
		if err != nil || n < relayBatchSize {
			return err
		}
	}
}

// process publishes one batch in outbox order and stops at the first failure
// so later events never overtake an unpublished one.
func (r *Relay) process(ctx context.Context) (int, error) {
	pending, err := r.events.FindUnpublished(ctx, relayBatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		done     []int64
		firstErr error
	)
	for _, ev := range pending {
		if err := r.publisher.Publish(ctx, ev); err != nil {
			firstErr = err
			r.log.WithError(err).WithFields(logrus.Fields{
				"order_id": ev.OrderID,
				"seq":      ev.Seq,
				"kind":     ev.Kind,
			}).Warn("publish failed, will retry")
			break
		}
		done = append(done, ev.Seq)
	}

	if err := r.events.MarkPublished(ctx, done, r.now()); err != nil {
		return 0, err
	}
	if firstErr != nil {
		return len(done), firstErr
	}
	return len(done), nil
}
