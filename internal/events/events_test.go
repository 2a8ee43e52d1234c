package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/drivuber/internal/models"
)

var at = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

func sampleTrip() models.Trip {
	return models.Trip{
		ID: "trip-1", DriverID: "driver-1",
		OriginCity: "San Francisco", OriginState: "CA",
		DestinationCity: "Los Angeles", DestinationState: "CA",
		DepartureDate: "2026-01-20", DepartureTime: "09:00:00",
		AvailableSeats: 3, TotalPrice: 85, Status: models.TripActive,
	}
}

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return c.err
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

type captureConn struct {
	subjects []string
	payloads [][]byte
}

func (c *captureConn) Publish(subject string, data []byte) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestForTripCarriesTripOnlyWhenPosted(t *testing.T) {
	posted := ForTrip(TripPosted, "client-a", sampleTrip(), at)
	require.NotNil(t, posted.Trip)
	assert.Equal(t, "San Francisco, CA", posted.Origin)
	assert.Equal(t, "Los Angeles, CA", posted.Destination)
	assert.NotEmpty(t, posted.ID)

	other := ForTrip(RideBooked, "client-a", sampleTrip(), at)
	assert.Nil(t, other.Trip)
}

func TestForBooking(t *testing.T) {
	trip := sampleTrip()
	b := models.BookedRide{ID: "trip-1-1700", Type: models.KindTrip, Trip: &trip}
	e := ForBooking(RideBooked, "client-a", b, at)
	assert.Equal(t, "trip-1-1700", e.BookingID)
	assert.Equal(t, "trip-1", e.TripID)
	assert.Equal(t, 85.0, e.Price)
	assert.Equal(t, "San Francisco, CA → Los Angeles, CA", e.RouteKey())

	ride := models.Ride{ID: "ride-9", Origin: "Austin", Destination: "Dallas", Price: 20}
	e = ForBooking(RideUnbooked, "", models.BookedRide{ID: "ride-9-1", Type: models.KindRide, Ride: &ride}, at)
	assert.Equal(t, "Austin → Dallas", e.RouteKey())
}

func TestDecodeRejectsUnknownTypes(t *testing.T) {
	b, err := json.Marshal(ForTrip(TripPosted, "", sampleTrip(), at))
	require.NoError(t, err)
	e, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, TripPosted, e.Type)
	assert.Equal(t, at, e.OccurredAt)

	_, err = Decode([]byte(`{"type":"driver.moved","trip_id":"x"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"type":"ride.booked"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestKafkaPublisherKeysByTrip(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second}
	require.NoError(t, p.Publish(context.Background(), ForTrip(TripPosted, "c", sampleTrip(), at)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "trip-1", string(w.msgs[0].Key))
	assert.Equal(t, "trip.posted", string(w.msgs[0].Headers[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestInstrumentedPassesErrorsThrough(t *testing.T) {
	boom := errors.New("broker down")
	p := Instrumented(&KafkaPublisher{writer: &captureWriter{err: boom}, timeout: time.Second})
	err := p.Publish(context.Background(), ForTrip(RideBooked, "c", sampleTrip(), at))
	assert.ErrorIs(t, err, boom)
}

func TestNATSPublisherSubjects(t *testing.T) {
	conn := &captureConn{}
	p := &NATSPublisher{conn: conn, prefix: "drivuber.events"}
	require.NoError(t, p.Publish(context.Background(), ForTrip(RideUnbooked, "c", sampleTrip(), at)))
	assert.Equal(t, []string{"drivuber.events.ride.unbooked"}, conn.subjects)

	p.prefix = " my events "
	assert.Equal(t, "my_events.trip.posted", p.Subject(TripPosted))
	assert.NoError(t, p.Close())
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
