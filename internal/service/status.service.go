package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cafe-orders/internal/database"
	"cafe-orders/internal/domain"
	"cafe-orders/internal/repo"
)

const bulkParallelism = 4

type StatusService interface {
	Transition(ctx context.Context, id uuid.UUID, t domain.Transition) (*domain.Order, error)
	// TransitionMany applies t to every order independently. A failure on one
	// order is reported in its result and does not affect the others.
	TransitionMany(ctx context.Context, ids []uuid.UUID, t domain.Transition) ([]TransitionResult, error)
}

type TransitionResult struct {
	OrderID uuid.UUID
	Order   *domain.Order
	Err     error
}

type statusService struct {
	db       database.Transactor
	orders   repo.OrderRepo
	events   repo.EventRepo
	limiter  Acquirer
	relay    Nudger
	log      logrus.FieldLogger
	cooldown time.Duration
	now      func() time.Time
}

func NewStatusService(
	db database.Transactor,
	orders repo.OrderRepo,
	events repo.EventRepo,
	limiter Acquirer,
	relay Nudger,
	log logrus.FieldLogger,
	adminCooldown time.Duration,
	now func() time.Time,
) StatusService {
	if now == nil {
		now = time.Now
	}
	return &statusService{
		db:       db,
		orders:   orders,
		events:   events,
		limiter:  limiter,
		relay:    relay,
		log:      log,
		cooldown: domain.ClampCooldown(adminCooldown),
		now:      now,
	}
}

func (s *statusService) Transition(ctx context.Context, id uuid.UUID, t domain.Transition) (*domain.Order, error) {
	var (
		order   *domain.Order
		from    domain.OrderStatus
		changed bool
	)
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		o, err := s.orders.FindForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := domain.CheckTransition(o, t); err != nil {
			return err
		}

		now := s.now()
		from = o.Status
		order = o
		if changed = domain.ApplyTransition(o, t, now); !changed {
			return nil
		}

		if err := s.orders.UpdateOrderStatus(ctx, tx, o); err != nil {
			return err
		}
		if err := s.orders.AppendStatusLog(ctx, tx, o.ID, domain.StatusChange{
			From:      from,
			To:        o.Status,
			ChangedBy: t.ChangedBy,
			Note:      t.Note,
			ChangedAt: now,
		}); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, domain.NewChangeEvent(domain.ChangeStatusChanged, o, now))
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.WithFields(logrus.Fields{
			"action":       "transition",
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"from":         from,
			"to":           order.Status,
			"changed_by":   t.ChangedBy,
		}).Info("order status changed")
		if s.relay != nil {
			s.relay.Nudge()
		}
	}
	return order, nil
}

// TransitionMany is gated by the admin_action cooldown for the acting identity.
// Each order then gets its own transaction.
func (s *statusService) TransitionMany(ctx context.Context, ids []uuid.UUID, t domain.Transition) ([]TransitionResult, error) {
	if len(ids) == 0 {
		return nil, &domain.ValidationError{Field: "orderIds", Reason: "at least one order is required"}
	}
	if !t.To.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "unknown status"}
	}
	if t.ChangedBy == "" {
		return nil, &domain.ValidationError{Field: "changedBy", Reason: "required"}
	}

	err := s.db.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.limiter.Acquire(ctx, tx, t.ChangedBy, domain.ActionAdmin, s.cooldown)
	})
	if err != nil {
		return nil, err
	}

	results := make([]TransitionResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkParallelism)
	for i, id := range ids {
		g.Go(func() error {
			o, err := s.Transition(gctx, id, t)
			results[i] = TransitionResult{OrderID: id, Order: o, Err: err}
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"action":   "bulk_transition",
					"order_id": id,
					"to":       t.To,
				}).Warn("bulk transition skipped an order")
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
