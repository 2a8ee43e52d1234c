package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/drivuber/internal/models"
	"github.com/example/drivuber/internal/observability"
)

type Type string

const (
	TripPosted   Type = "trip.posted"
	RideBooked   Type = "ride.booked"
	RideUnbooked Type = "ride.unbooked"
)

func (t Type) Valid() bool {
	switch t {
	case TripPosted, RideBooked, RideUnbooked:
		return true
	}
	return false
}

// Event is one marketplace change, published after local state committed.
type Event struct {
	ID          string       `json:"id"`
	Type        Type         `json:"type"`
	UserID      string       `json:"user_id,omitempty"`
	BookingID   string       `json:"booking_id,omitempty"`
	TripID      string       `json:"trip_id"`
	Origin      string       `json:"origin"`
	Destination string       `json:"destination"`
	Price       float64      `json:"price"`
	Trip        *models.Trip `json:"trip,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// ForTrip builds an event describing trip t. The trip itself rides along
// only on trip.posted.
func ForTrip(typ Type, userID string, t models.Trip, at time.Time) Event {
	e := Event{
		ID:          uuid.NewString(),
		Type:        typ,
		UserID:      userID,
		TripID:      t.ID,
		Origin:      t.OriginLabel(),
		Destination: t.DestinationLabel(),
		Price:       t.TotalPrice,
		OccurredAt:  at.UTC(),
	}
	if typ == TripPosted {
		e.Trip = &t
	}
	return e
}

// ForBooking builds a ride.booked or ride.unbooked event.
func ForBooking(typ Type, userID string, b models.BookedRide, at time.Time) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       typ,
		UserID:     userID,
		BookingID:  b.ID,
		TripID:     b.SourceID(),
		Price:      b.Price(),
		OccurredAt: at.UTC(),
	}
	switch {
	case b.Trip != nil:
		e.Origin, e.Destination = b.Trip.OriginLabel(), b.Trip.DestinationLabel()
	case b.Ride != nil:
		e.Origin, e.Destination = b.Ride.Origin, b.Ride.Destination
	}
	return e
}

// RouteKey identifies the origin/destination pair for popularity counts.
func (e Event) RouteKey() string {
	return e.Origin + " → " + e.Destination
}

func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !e.Type.Valid() {
		return Event{}, fmt.Errorf("decode event: unknown type %q", e.Type)
	}
	if e.TripID == "" {
		return Event{}, fmt.Errorf("decode event %s: missing trip id", e.ID)
	}
	return e, nil
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop drops every event; used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error { return nil }

type instrumented struct{ Publisher }

// Instrumented counts publishes by type and result.
func Instrumented(p Publisher) Publisher {
	return instrumented{p}
}

func (i instrumented) Publish(ctx context.Context, e Event) error {
	err := i.Publisher.Publish(ctx, e)
	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.EventsPublished.WithLabelValues(string(e.Type), result).Inc()
	return err
}
