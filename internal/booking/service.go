// Package booking coordinates every booking transition: permission checks,
// the guarded booking update, the slot change it implies and the records the
// notifier derives from it all commit in one store transaction.
package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Auditor receives committed transitions. Failures are logged, never returned
// to the caller.
type Auditor interface {
	LogTransition(ctx context.Context, t domain.Transition) error
}

type Service struct {
	store      domain.Store
	audit      Auditor
	logger     observability.Logger
	tracer     trace.Tracer
	requestTTL time.Duration
	now        func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.audit = a }
}

func NewService(store domain.Store, logger observability.Logger, requestTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		store:      store,
		logger:     logger,
		tracer:     otel.Tracer("parking-bookings/booking"),
		requestTTL: requestTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "booking."+op, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, op string, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			observability.BookingConflicts.WithLabelValues(op).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// committed runs the post-commit side effects of a transition. None of them
// can fail the operation.
func (s *Service) committed(ctx context.Context, op string, actor uuid.UUID, from domain.BookingStatus, b domain.Booking) {
	observability.BookingTransitions.WithLabelValues(op, string(b.Status)).Inc()
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("booking.status.from", string(from)),
		attribute.String("booking.status.to", string(b.Status)),
	)
	s.logger.WithFields(map[string]interface{}{
		"booking_id": b.ID.String(),
		"operation":  op,
		"from":       string(from),
		"to":         string(b.Status),
	}).Info("booking transition committed")

	if s.audit == nil {
		return
	}
	t := domain.Transition{
		BookingID: b.ID,
		Operation: op,
		Actor:     actor,
		From:      from,
		To:        b.Status,
		SlotID:    b.SlotID,
		At:        b.UpdatedAt,
	}
	if err := s.audit.LogTransition(ctx, t); err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID.String()).Warn("audit transition failed")
	}
}

// update writes b guarded by from and mirrors the version bump the store made.
func update(ctx context.Context, tx domain.Tx, b *domain.Booking, from domain.BookingStatus) error {
	if err := tx.UpdateBooking(ctx, *b, from); err != nil {
		return err
	}
	b.Version++
	return nil
}

func loadAs(ctx context.Context, tx domain.Tx, id, caller uuid.UUID) (domain.Booking, domain.Role, error) {
	b, err := tx.GetBookingForUpdate(ctx, id)
	if err != nil {
		return domain.Booking{}, "", err
	}
	role, ok := b.RoleOf(caller)
	if !ok {
		return domain.Booking{}, "", errors.Wrapf(domain.ErrPermission, "user %s is not a party to booking %s", caller, id)
	}
	return b, role, nil
}

func requireOwner(b domain.Booking, role domain.Role) error {
	if role != domain.RoleOwner {
		return errors.Wrapf(domain.ErrPermission, "only the lot owner can decide on booking %s", b.ID)
	}
	return nil
}
