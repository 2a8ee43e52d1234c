package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/drivuber/internal/events"
	"github.com/example/drivuber/internal/models"
	"github.com/example/drivuber/internal/observability"
	"github.com/example/drivuber/internal/payments"
)

var (
	ErrNotSignedIn  = errors.New("not signed in")
	ErrTripNotFound = errors.New("trip not found")
)

// Messages shown to the user for each outcome.
const (
	MsgSignInToRequest = "Please sign in to request a ride."
	MsgTripNotFound    = "Trip not found."
	MsgRequestSent     = "Ride request sent! The driver will be notified and can accept or decline your request."
	MsgRidePosted      = `Ride posted successfully! You can now see it in the "Find Rides" page.`
	MsgPostFailed      = "Error posting ride. Please try again."
)

// UserMessage maps a booking error onto the text shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotSignedIn):
		return MsgSignInToRequest
	case errors.Is(err, ErrTripNotFound):
		return MsgTripNotFound
	}
	return err.Error()
}

// Ledger is the per-user state a booking lands in; *session.Store is one.
type Ledger interface {
	User() *models.User
	AddBookedRide(ctx context.Context, b models.BookedRide) (models.BookedRide, error)
	RemoveBookedRide(ctx context.Context, id string) (*models.BookedRide, error)
	AddPostedRide(ctx context.Context, t models.Trip) error
	Stamp() time.Time
}

type Options struct {
	// Payments is optional; without it bookings carry no hold.
	Payments payments.Processor
	Events   events.Publisher
	Currency string
	Logger   *slog.Logger
}

type Service struct {
	opts     Options
	validate *validator.Validate
}

func NewService(opts Options) *Service {
	if opts.Events == nil {
		opts.Events = events.Noop{}
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{opts: opts, validate: newValidator()}
}

// RequestTrip books the trip with the given id out of results, the list the
// user is currently looking at (segments included).
func (s *Service) RequestTrip(ctx context.Context, l Ledger, results []models.Trip, tripID string) (models.BookedRide, error) {
	if l.User() == nil {
		observability.BookingsTotal.WithLabelValues("unauthenticated").Inc()
		return models.BookedRide{}, ErrNotSignedIn
	}
	for i := range results {
		if results[i].ID == tripID {
			trip := results[i]
			return s.book(ctx, l, models.BookedRide{Type: models.KindTrip, Trip: &trip})
		}
	}
	observability.BookingsTotal.WithLabelValues("not_found").Inc()
	return models.BookedRide{}, fmt.Errorf("%w: %s", ErrTripNotFound, tripID)
}

// BookRide books a legacy single-hop ride.
func (s *Service) BookRide(ctx context.Context, l Ledger, ride models.Ride) (models.BookedRide, error) {
	if l.User() == nil {
		observability.BookingsTotal.WithLabelValues("unauthenticated").Inc()
		return models.BookedRide{}, ErrNotSignedIn
	}
	return s.book(ctx, l, models.BookedRide{Type: models.KindRide, Ride: &ride})
}

func (s *Service) book(ctx context.Context, l Ledger, b models.BookedRide) (models.BookedRide, error) {
	if s.opts.Payments != nil {
		if amount := payments.AmountInMinorUnits(b.Price()); amount > 0 {
			id, err := s.opts.Payments.Hold(ctx, amount, s.opts.Currency, b.SourceID())
			if err != nil {
				observability.BookingsTotal.WithLabelValues("payment_failed").Inc()
				s.opts.Logger.Error("payment hold failed", "source_id", b.SourceID(), "amount", amount, "error", err)
				return models.BookedRide{}, fmt.Errorf("hold payment: %w", err)
			}
			b.PaymentIntentID = id
		}
	}

	saved, err := l.AddBookedRide(ctx, b)
	if err != nil {
		observability.BookingsTotal.WithLabelValues("error").Inc()
		s.release(ctx, b.PaymentIntentID)
		return models.BookedRide{}, err
	}
	observability.BookingsTotal.WithLabelValues("ok").Inc()
	s.publish(ctx, events.ForBooking(events.RideBooked, userID(l), saved, saved.BookedAt))
	return saved, nil
}

// Remove drops a booking and releases its payment hold. Unknown ids are a
// no-op.
func (s *Service) Remove(ctx context.Context, l Ledger, id string) error {
	removed, err := l.RemoveBookedRide(ctx, id)
	if err != nil || removed == nil {
		return err
	}
	s.release(ctx, removed.PaymentIntentID)
	s.publish(ctx, events.ForBooking(events.RideUnbooked, userID(l), *removed, l.Stamp()))
	return nil
}

// Post validates the form and puts the resulting trip at the front of the
// user's posted rides.
func (s *Service) Post(ctx context.Context, l Ledger, form PostRideForm) (models.Trip, error) {
	form.Normalize()
	if err := form.Validate(s.validate); err != nil {
		return models.Trip{}, err
	}
	trip := form.Trip(l.User(), l.Stamp())
	if err := trip.Validate(); err != nil {
		return models.Trip{}, err
	}
	if err := l.AddPostedRide(ctx, trip); err != nil {
		s.opts.Logger.Error("post ride", "trip_id", trip.ID, "error", err)
		return models.Trip{}, err
	}
	observability.PostedTotal.Inc()
	s.publish(ctx, events.ForTrip(events.TripPosted, userID(l), trip, l.Stamp()))
	return trip, nil
}

func (s *Service) release(ctx context.Context, paymentIntentID string) {
	if paymentIntentID == "" || s.opts.Payments == nil {
		return
	}
	if err := s.opts.Payments.Cancel(ctx, paymentIntentID); err != nil {
		s.opts.Logger.Warn("release payment hold", "payment_intent", paymentIntentID, "error", err)
	}
}

// publish is best-effort: local state has already committed.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.opts.Events.Publish(ctx, e); err != nil {
		s.opts.Logger.Warn("publish event", "type", e.Type, "trip_id", e.TripID, "error", err)
	}
}

func userID(l Ledger) string {
	if u := l.User(); u != nil {
		return u.ID
	}
	return ""
}
