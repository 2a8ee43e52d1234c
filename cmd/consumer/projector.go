package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/drivuber/internal/events"
)

const (
	recentTripsKey   = "trips:recent"
	popularRoutesKey = "routes:popular"
	recentTripsLimit = 500
)

func tripKey(id string) string { return "trip:" + id }

// RedisUpdater is the subset of redis the projections write through.
type RedisUpdater interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZIncrBy(ctx context.Context, key string, incr float64, member string) error
	ZTrim(ctx context.Context, key string, keep int64) error
}

type redisAdapter struct{ c redis.Cmdable }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

func (r *redisAdapter) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.c.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *redisAdapter) ZIncrBy(ctx context.Context, key string, incr float64, member string) error {
	return r.c.ZIncrBy(ctx, key, incr, member).Err()
}

// ZTrim keeps only the keep highest-scored members.
func (r *redisAdapter) ZTrim(ctx context.Context, key string, keep int64) error {
	return r.c.ZRemRangeByRank(ctx, key, 0, -keep-1).Err()
}

// project applies one event to the read models. Every step is idempotent
// except the route counters, which move by exactly one per event.
func project(ctx context.Context, rc RedisUpdater, e events.Event) error {
	switch e.Type {
	case events.TripPosted:
		fields := map[string]interface{}{
			"origin":      e.Origin,
			"destination": e.Destination,
			"price":       e.Price,
			"driver_id":   e.UserID,
			"posted_at":   e.OccurredAt.UTC().Format(time.RFC3339),
		}
		if e.Trip != nil {
			raw, err := json.Marshal(e.Trip)
			if err != nil {
				return fmt.Errorf("encode trip %s: %w", e.TripID, err)
			}
			fields["departure_date"] = e.Trip.DepartureDate
			fields["data"] = string(raw)
		}
		if err := rc.HSet(ctx, tripKey(e.TripID), fields); err != nil {
			return err
		}
		if err := rc.ZAdd(ctx, recentTripsKey, float64(e.OccurredAt.UnixMilli()), e.TripID); err != nil {
			return err
		}
		return rc.ZTrim(ctx, recentTripsKey, recentTripsLimit)
	case events.RideBooked:
		return rc.ZIncrBy(ctx, popularRoutesKey, 1, e.RouteKey())
	case events.RideUnbooked:
		return rc.ZIncrBy(ctx, popularRoutesKey, -1, e.RouteKey())
	}
	return fmt.Errorf("unhandled event type %q", e.Type)
}

// updateRedisWithRetry retries the whole projection with doubling delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, e events.Event, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = project(ctx, rc, e); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
