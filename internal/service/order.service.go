package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cafe-orders/internal/database"
	"cafe-orders/internal/domain"
	"cafe-orders/internal/repo"
)

// maxConflictRetries bounds how often a submission re-derives its order
// number after losing a unique-constraint race.
const maxConflictRetries = 3

type OrderService interface {
	Submit(ctx context.Context, sub *domain.Submission) (*domain.Order, error)
	Quote(ctx context.Context, req domain.QuoteRequest) (*domain.DeliveryQuote, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	List(ctx context.Context, filter repo.ListFilter) ([]domain.Order, error)
	History(ctx context.Context, id uuid.UUID) ([]domain.StatusChange, error)
}

// Courier is the delivery side of the pipeline, implemented by the proxy client.
type Courier interface {
	Quote(ctx context.Context, dropoff domain.Location) (*domain.DeliveryQuote, error)
	Book(ctx context.Context, req domain.BookingRequest) (*domain.DeliveryBooking, error)
}

// Acquirer is the authoritative rate-limit check, run inside the commit tx.
type Acquirer interface {
	Acquire(ctx context.Context, tx *sql.Tx, identity string, kind domain.ActionKind, cooldown time.Duration) error
}

// Nudger wakes the outbox relay after a commit.
type Nudger interface {
	Nudge()
}

type OrderDeps struct {
	DB       database.Transactor
	Orders   repo.OrderRepo
	Events   repo.EventRepo
	Advisory RateLimiter
	Limiter  Acquirer
	Courier  Courier
	Quotes   repo.QuoteRepo
	Relay    Nudger
	Log      logrus.FieldLogger
}

type OrderOptions struct {
	Cooldown       time.Duration
	QuoteCooldown  time.Duration
	BookingTimeout time.Duration
	QuoteTimeout   time.Duration
	Location       *time.Location
	Now            func() time.Time
}

type orderService struct {
	db       database.Transactor
	orders   repo.OrderRepo
	events   repo.EventRepo
	advisory RateLimiter
	limiter  Acquirer
	courier  Courier
	quotes   repo.QuoteRepo
	relay    Nudger
	log      logrus.FieldLogger

	cooldown       time.Duration
	quoteCooldown  time.Duration
	bookingTimeout time.Duration
	quoteTimeout   time.Duration
	loc            *time.Location
	now            func() time.Time
}

func NewOrderService(deps OrderDeps, opts OrderOptions) OrderService {
	s := &orderService{
		db:             deps.DB,
		orders:         deps.Orders,
		events:         deps.Events,
		advisory:       deps.Advisory,
		limiter:        deps.Limiter,
		courier:        deps.Courier,
		quotes:         deps.Quotes,
		relay:          deps.Relay,
		log:            deps.Log,
		cooldown:       domain.ClampCooldown(opts.Cooldown),
		quoteCooldown:  min(opts.QuoteCooldown, domain.MaxCooldown),
		bookingTimeout: opts.BookingTimeout,
		quoteTimeout:   opts.QuoteTimeout,
		loc:            opts.Location,
		now:            opts.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.quoteCooldown <= 0 {
		s.quoteCooldown = domain.DefaultQuoteCooldown
	}
	if s.bookingTimeout <= 0 {
		s.bookingTimeout = 25 * time.Second
	}
	if s.quoteTimeout <= 0 {
		s.quoteTimeout = 10 * time.Second
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Submit runs the intake pipeline. The order and its items commit together
// with the rate-limit record, or nothing commits. Booking happens after commit
// and never fails the submission.
func (s *orderService) Submit(ctx context.Context, sub *domain.Submission) (*domain.Order, error) {
	log := s.log.WithFields(logrus.Fields{
		"action":      "submit_order",
		"action_kind": domain.ActionOrderPlacement,
		"identity":    sub.Identity(),
	})

	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if err := s.matchIssuedQuote(ctx, sub); err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			log.WithError(err).Error("issued quote lookup failed")
		}
		return nil, err
	}

	sessionIdentity := ""
	if sub.SessionToken != "" && s.advisory != nil {
		sessionIdentity = "session:" + sub.SessionToken
		d, err := s.advisory.Check(ctx, sessionIdentity, domain.ActionOrderPlacement, s.cooldown)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			return nil, &domain.RateLimitError{ActionKind: domain.ActionOrderPlacement, Remaining: d.Remaining}
		}
	}

	var (
		order *domain.Order
		err   error
	)
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		order, err = s.commitOrder(ctx, sub)
		if !errors.Is(err, domain.ErrPersistenceConflict) {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Warn("order number conflict, retrying")
	}
	if err != nil {
		if !errors.Is(err, domain.ErrRateLimitExceeded) {
			log.WithError(err).Error("order submission failed")
		}
		return nil, err
	}

	log = log.WithFields(logrus.Fields{"order_id": order.ID, "order_number": order.OrderNumber})
	log.Info("order created")

	if sessionIdentity != "" {
		if err := s.advisory.Record(ctx, sessionIdentity, domain.ActionOrderPlacement, s.cooldown); err != nil {
			log.WithError(err).Warn("advisory rate limit record failed")
		}
	}
	s.nudge()

	if dc, ok := sub.BookableQuote(s.now()); ok {
		s.book(ctx, log, order, dc.QuotationID)
	} else if dc != nil {
		log.WithField("quotation_id", dc.QuotationID).Warn("delivery quote expired before booking, order kept without courier")
	}
	return order, nil
}

// matchIssuedQuote holds a delivery submission to the quote this service
// handed out for its quotation id.
func (s *orderService) matchIssuedQuote(ctx context.Context, sub *domain.Submission) error {
	if s.quotes == nil || sub.ServiceType != domain.ServiceDelivery || sub.Delivery == nil {
		return nil
	}
	issued, err := s.quotes.Find(ctx, nil, sub.Delivery.QuotationID)
	if err != nil {
		return err
	}
	if err := sub.MatchQuote(issued); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"action":       "submit_order",
			"quotation_id": sub.Delivery.QuotationID,
			"claimed_fee":  sub.Delivery.Fee.String(),
		}).Warn("delivery fee rejected")
		return err
	}
	return nil
}

func (s *orderService) commitOrder(ctx context.Context, sub *domain.Submission) (*domain.Order, error) {
	now := s.now()
	order := sub.BuildOrder(now)

	err := s.db.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.limiter.Acquire(ctx, tx, sub.Identity(), domain.ActionOrderPlacement, s.cooldown); err != nil {
			return err
		}

		number, err := s.orders.AllocateNumber(ctx, tx, now.In(s.loc))
		if err != nil {
			return err
		}
		order.OrderNumber = number

		if err := s.orders.CreateOrder(ctx, tx, order); err != nil {
			return err
		}
		if err := s.orders.CreateItems(ctx, tx, order.Items); err != nil {
			return err
		}
		if err := s.orders.AppendStatusLog(ctx, tx, order.ID, domain.StatusChange{
			To:        order.Status,
			ChangedBy: order.SubmittedBy,
			ChangedAt: now,
		}); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, domain.NewChangeEvent(domain.ChangeOrderCreated, order, now))
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// book asks the courier for a driver against an accepted quotation. Failures
// are logged with enough context to replay by hand and leave booking fields null.
func (s *orderService) book(ctx context.Context, log *logrus.Entry, order *domain.Order, quotationID string) {
	log = log.WithField("quotation_id", quotationID)

	// The order is committed; a caller hanging up must not abandon its courier.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.bookingTimeout)
	defer cancel()

	booking, err := s.courier.Book(bctx, domain.BookingRequest{
		OrderID:        order.ID.String(),
		QuotationID:    quotationID,
		RecipientName:  order.CustomerName,
		RecipientPhone: order.CustomerContact,
		Metadata: map[string]string{
			"orderId":     order.ID.String(),
			"orderNumber": order.OrderNumber,
		},
	})
	if err != nil {
		log.WithError(err).WithField("provider_body", domain.ProviderBody(err)).Error("courier booking failed, order kept without booking")
		return
	}

	updated := *order
	updated.Courier = domain.CourierFields{
		QuotationID:   &quotationID,
		BookingID:     &booking.BookingID,
		BookingStatus: &booking.Status,
		TrackingURL:   &booking.TrackingURL,
	}
	updated.UpdatedAt = s.now()

	err = s.db.WithinTx(bctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.orders.UpdateBooking(ctx, tx, &updated); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, domain.NewChangeEvent(domain.ChangeBookingUpdated, &updated, updated.UpdatedAt))
	})
	if err != nil {
		log.WithError(err).WithField("booking_id", booking.BookingID).Error("courier booked but saving the booking failed")
		return
	}

	*order = updated
	log.WithField("booking_id", booking.BookingID).Info("courier booked")
	s.nudge()
}

// Quote prices a delivery through the proxy. Each quote costs a provider
// call, so callers are held to a short advisory cooldown.
func (s *orderService) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.DeliveryQuote, error) {
	identity := req.Identity()
	log := s.log.WithFields(logrus.Fields{
		"action":      "delivery_quote",
		"action_kind": domain.ActionDeliveryQuote,
		"identity":    identity,
	})
	if identity == "" {
		return nil, &domain.ValidationError{Field: "identity", Reason: "session token is required"}
	}

	if s.advisory != nil {
		d, err := s.advisory.Check(ctx, identity, domain.ActionDeliveryQuote, s.quoteCooldown)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			return nil, &domain.RateLimitError{ActionKind: domain.ActionDeliveryQuote, Remaining: d.Remaining}
		}
		if err := s.advisory.Record(ctx, identity, domain.ActionDeliveryQuote, s.quoteCooldown); err != nil {
			log.WithError(err).Warn("advisory rate limit record failed")
		}
	}

	qctx, cancel := context.WithTimeout(ctx, s.quoteTimeout)
	defer cancel()

	q, err := s.courier.Quote(qctx, req.Dropoff)
	if err != nil {
		log.WithError(err).WithField("provider_body", domain.ProviderBody(err)).Warn("delivery quote failed")
		return nil, err
	}

	if s.quotes != nil {
		if err := s.quotes.Save(ctx, *q, s.now()); err != nil {
			log.WithError(err).WithField("quotation_id", q.QuotationID).Error("saving issued quote failed")
			return nil, err
		}
	}
	return q, nil
}

func (s *orderService) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.orders.FindById(ctx, nil, id)
}

func (s *orderService) List(ctx context.Context, filter repo.ListFilter) ([]domain.Order, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "unknown status"}
	}
	return s.orders.List(ctx, filter)
}

func (s *orderService) History(ctx context.Context, id uuid.UUID) ([]domain.StatusChange, error) {
	if _, err := s.orders.FindById(ctx, nil, id); err != nil {
		return nil, err
	}
	return s.orders.StatusHistory(ctx, id)
}

func (s *orderService) nudge() {
	if s.relay != nil {
		s.relay.Nudge()
	}
}
