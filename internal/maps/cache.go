package maps

import (
	"context"
	"strings"
	"time"

	"github.com/bluele/gcache"
)

// Cached memoizes successful lookups of the wrapped client in an LRU with a
// TTL. Failures are never cached, so a fixed key recovers on the next call.
type Cached struct {
	Client
	cache gcache.Cache
}

func NewCached(c Client, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 1000
	}
	b := gcache.New(size).LRU()
	if ttl > 0 {
		b = b.Expiration(ttl)
	}
	return &Cached{Client: c, cache: b.Build()}
}

func (c *Cached) Geocode(ctx context.Context, address string) (LatLng, error) {
	key := "geo|" + strings.ToLower(address)
	if v, err := c.cache.Get(key); err == nil {
		if ll, ok := v.(LatLng); ok {
			return ll, nil
		}
	}
	ll, err := c.Client.Geocode(ctx, address)
	if err != nil {
		return LatLng{}, err
	}
	_ = c.cache.Set(key, ll)
	return ll, nil
}

func (c *Cached) Directions(ctx context.Context, origin, destination string, waypoints []string) (Directions, error) {
	key := "dir|" + strings.ToLower(origin+"|"+destination+"|"+strings.Join(waypoints, "|"))
	if v, err := c.cache.Get(key); err == nil {
		if d, ok := v.(Directions); ok {
			return d, nil
		}
	}
	d, err := c.Client.Directions(ctx, origin, destination, waypoints)
	if err != nil {
		return Directions{}, err
	}
	_ = c.cache.Set(key, d)
	return d, nil
}

// RouteInfo goes through the cached Directions so a route already drawn
// costs no extra lookup.
func (c *Cached) RouteInfo(ctx context.Context, origin, destination string) (RouteInfo, error) {
	d, err := c.Directions(ctx, origin, destination, nil)
	if err != nil {
		return RouteInfo{}, err
	}
	return infoFromDirections(d)
}

// Len reports the number of cached entries, expired ones included.
func (c *Cached) Len() int {
	return c.cache.Len(false)
}
