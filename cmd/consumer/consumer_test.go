package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/drivuber/internal/catalog"
	"github.com/example/drivuber/internal/events"
	"github.com/example/drivuber/internal/models"
)

// fakeUpdater records writes and fails the first failH HSet calls.
type fakeUpdater struct {
	failH  int
	hCalls int
	hashes map[string]map[string]interface{}
	zsets  map[string]map[string]float64
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{hashes: map[string]map[string]interface{}{}, zsets: map[string]map[string]float64{}}
}

func (f *fakeUpdater) HSet(_ context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.hashes[key] = values
	return nil
}

func (f *fakeUpdater) zset(key string) map[string]float64 {
	if f.zsets[key] == nil {
		f.zsets[key] = map[string]float64{}
	}
	return f.zsets[key]
}

func (f *fakeUpdater) ZAdd(_ context.Context, key string, score float64, member string) error {
	f.zset(key)[member] = score
	return nil
}

func (f *fakeUpdater) ZIncrBy(_ context.Context, key string, incr float64, member string) error {
	f.zset(key)[member] += incr
	return nil
}

func (f *fakeUpdater) ZTrim(context.Context, string, int64) error { return nil }

var at = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

func trip1() models.Trip { return catalog.Fixtures()[0] }

func booking1() models.BookedRide {
	t := trip1()
	return models.BookedRide{ID: "trip-1-1", Type: models.KindTrip, Trip: &t, BookedAt: at}
}

func TestProjectPostedTrip(t *testing.T) {
	f := newFakeUpdater()
	e := events.ForTrip(events.TripPosted, "demo-user-1", trip1(), at)
	require.NoError(t, project(context.Background(), f, e))

	h := f.hashes["trip:trip-1"]
	require.NotNil(t, h)
	assert.Equal(t, "Denver, CO", h["origin"])
	assert.Equal(t, "2026-01-15", h["departure_date"])
	assert.Contains(t, h["data"], `"id":"trip-1"`)
	assert.Equal(t, float64(at.UnixMilli()), f.zsets[recentTripsKey]["trip-1"])
}

func TestProjectBookingCounters(t *testing.T) {
	f := newFakeUpdater()
	ctx := context.Background()
	booked := events.ForBooking(events.RideBooked, "u", booking1(), at)
	require.NoError(t, project(ctx, f, booked))
	require.NoError(t, project(ctx, f, booked))
	require.NoError(t, project(ctx, f, events.ForBooking(events.RideUnbooked, "u", booking1(), at)))
	assert.Equal(t, 1.0, f.zsets[popularRoutesKey]["Denver, CO → Dallas, TX"])
}

func TestProjectRejectsUnknownType(t *testing.T) {
	err := project(context.Background(), newFakeUpdater(), events.Event{Type: "trip.deleted", TripID: "x"})
	assert.Error(t, err)
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := newFakeUpdater()
	f.failH = 2
	e := events.ForTrip(events.TripPosted, "u", trip1(), at)
	start := time.Now()
	require.NoError(t, updateRedisWithRetry(context.Background(), f, e, 3, 10*time.Millisecond))
	assert.Equal(t, 3, f.hCalls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "delay doubles between attempts")
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := newFakeUpdater()
	f.failH = 5
	e := events.ForTrip(events.TripPosted, "u", trip1(), at)
	err := updateRedisWithRetry(context.Background(), f, e, 3, time.Millisecond)
	assert.EqualError(t, err, "hset fail")
	assert.Equal(t, 3, f.hCalls)
}

func TestUpdateRedisWithRetry_StopsOnCancel(t *testing.T) {
	f := newFakeUpdater()
	f.failH = 5
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := updateRedisWithRetry(ctx, f, events.ForTrip(events.TripPosted, "u", trip1(), at), 3, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisAdapterCommands(t *testing.T) {
	db, mock := redismock.NewClientMock()
	a := &redisAdapter{c: db}
	ctx := context.Background()

	mock.ExpectZIncrBy(popularRoutesKey, 1, "Denver, CO → Dallas, TX").SetVal(1)
	mock.ExpectZAdd(recentTripsKey, redis.Z{Score: 42, Member: "trip-1"}).SetVal(1)
	mock.ExpectZRemRangeByRank(recentTripsKey, 0, -recentTripsLimit-1).SetVal(0)
	mock.ExpectZIncrBy(popularRoutesKey, -1, "A → B").SetErr(errors.New("connection refused"))

	require.NoError(t, project(ctx, a, events.ForBooking(events.RideBooked, "u", booking1(), at)))
	require.NoError(t, a.ZAdd(ctx, recentTripsKey, 42, "trip-1"))
	require.NoError(t, a.ZTrim(ctx, recentTripsKey, recentTripsLimit))
	assert.Error(t, a.ZIncrBy(ctx, popularRoutesKey, -1, "A → B"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
