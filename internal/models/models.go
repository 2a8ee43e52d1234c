package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type UserType string

const (
	UserTypeRider  UserType = "rider"
	UserTypeDriver UserType = "driver"
	UserTypeBoth   UserType = "both"
)

type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

type User struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	AvatarURL string   `json:"avatar_url,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	UserType  UserType `json:"user_type,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// Trip is one driver-posted journey. Dates and times stay as the ISO strings
// the client sends so that date filtering is an exact string comparison.
type Trip struct {
	ID               string     `json:"id"`
	DriverID         string     `json:"driver_id"`
	OriginCity       string     `json:"origin_city"`
	OriginState      string     `json:"origin_state"`
	DestinationCity  string     `json:"destination_city"`
	DestinationState string     `json:"destination_state"`
	ViaStops         string     `json:"via_stops,omitempty"`
	DepartureDate    string     `json:"departure_date"`
	DepartureTime    string     `json:"departure_time"`
	AvailableSeats   int        `json:"available_seats"`
	TotalPrice       float64    `json:"total_price"`
	Notes            string     `json:"notes,omitempty"`
	Status           TripStatus `json:"status"`
	CreatedAt        string     `json:"created_at"`
	UpdatedAt        string     `json:"updated_at"`
	Driver           *User      `json:"driver,omitempty"`
}

// OriginLabel renders the origin as "City, ST".
func (t Trip) OriginLabel() string { return Label(t.OriginCity, t.OriginState) }

// DestinationLabel renders the destination as "City, ST".
func (t Trip) DestinationLabel() string { return Label(t.DestinationCity, t.DestinationState) }

var (
	ErrSameEndpoints = errors.New("origin and destination must differ")
	ErrNegativeSeats = errors.New("available seats must be >= 0")
	ErrNegativePrice = errors.New("total price must be >= 0")
	ErrBadStatus     = errors.New("unknown trip status")
)

func (t Trip) Validate() error {
	var errs []error
	if strings.EqualFold(t.OriginLabel(), t.DestinationLabel()) {
		errs = append(errs, ErrSameEndpoints)
	}
	if t.AvailableSeats < 0 {
		errs = append(errs, ErrNegativeSeats)
	}
	if t.TotalPrice < 0 {
		errs = append(errs, ErrNegativePrice)
	}
	switch t.Status {
	case TripActive, TripCompleted, TripCancelled:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadStatus, t.Status))
	}
	return errors.Join(errs...)
}

// Label joins a city and state the way listings display them.
func Label(city, state string) string {
	return strings.TrimSpace(city + ", " + state)
}

// SplitLabel is the inverse of Label: everything before the first comma is
// the city, the next comma-separated part (if any) is the state.
func SplitLabel(label string) (city, state string) {
	parts := strings.Split(label, ",")
	city = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		state = strings.TrimSpace(parts[1])
	}
	return city, state
}

// Ride is the legacy single-hop listing kept for older bookings.
type Ride struct {
	ID             string   `json:"id"`
	DriverID       string   `json:"driver_id"`
	Origin         string   `json:"origin"`
	Destination    string   `json:"destination"`
	Datetime       string   `json:"datetime"`
	Price          float64  `json:"price"`
	SeatsAvailable int      `json:"seats_available"`
	Passengers     []string `json:"passengers"`
	CreatedAt      string   `json:"created_at"`
	Driver         *User    `json:"driver,omitempty"`
}

type SearchFilters struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departure_date"`
}

func (f SearchFilters) Empty() bool {
	return f.Origin == "" && f.Destination == "" && f.DepartureDate == ""
}

type RideKind string

const (
	KindTrip RideKind = "trip"
	KindRide RideKind = "ride"
)

// BookedRide snapshots the booked record. Exactly one of Trip or Ride is set,
// matching Type; on the wire both live under "data".
type BookedRide struct {
	ID              string
	Type            RideKind
	Trip            *Trip
	Ride            *Ride
	BookedAt        time.Time
	PaymentIntentID string
}

// SourceID is the id of the booked trip or ride.
func (b BookedRide) SourceID() string {
	switch {
	case b.Trip != nil:
		return b.Trip.ID
	case b.Ride != nil:
		return b.Ride.ID
	}
	return ""
}

// Price is the snapshotted price of the booked record.
func (b BookedRide) Price() float64 {
	switch {
	case b.Trip != nil:
		return b.Trip.TotalPrice
	case b.Ride != nil:
		return b.Ride.Price
	}
	return 0
}

type bookedRideJSON struct {
	ID              string          `json:"id"`
	Type            RideKind        `json:"type"`
	Data            json.RawMessage `json:"data"`
	BookedAt        time.Time       `json:"bookedAt"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
}

func (b BookedRide) MarshalJSON() ([]byte, error) {
	var data any
	switch b.Type {
	case KindRide:
		data = b.Ride
	default:
		data = b.Trip
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(bookedRideJSON{ID: b.ID, Type: b.Type, Data: raw, BookedAt: b.BookedAt, PaymentIntentID: b.PaymentIntentID})
}

func (b *BookedRide) UnmarshalJSON(p []byte) error {
	var w bookedRideJSON
	if err := json.Unmarshal(p, &w); err != nil {
		return err
	}
	*b = BookedRide{ID: w.ID, Type: w.Type, BookedAt: w.BookedAt, PaymentIntentID: w.PaymentIntentID}
	switch w.Type {
	case KindRide:
		b.Ride = &Ride{}
		return json.Unmarshal(w.Data, b.Ride)
	case KindTrip:
		b.Trip = &Trip{}
		return json.Unmarshal(w.Data, b.Trip)
	default:
		return fmt.Errorf("booked ride %s: unknown type %q", w.ID, w.Type)
	}
}

type Sender string

const (
	SenderUser   Sender = "user"
	SenderDriver Sender = "driver"
)

type ChatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatThread struct {
	ID          string        `json:"id"`
	DriverName  string        `json:"driver_name"`
	LastMessage string        `json:"last_message"`
	Timestamp   time.Time     `json:"timestamp"`
	Messages    []ChatMessage `json:"messages"`
}
