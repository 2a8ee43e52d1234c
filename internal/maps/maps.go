package maps

import (
	"context"
	"errors"
	"strings"

	"github.com/example/drivuber/internal/observability"
)

// Kind buckets provider failures by what the user can do about them.
type Kind string

const (
	KindInvalidKey    Kind = "invalid_key"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindRequestDenied Kind = "request_denied"
	KindConnectivity  Kind = "connectivity"
)

var (
	ErrInvalidKey = errors.New("ExpiredKeyMapError: maps api key is missing or invalid")
	ErrNoRoute    = errors.New("no route between the given places")
	ErrNotFound   = errors.New("address not found")
)

// Classify maps a provider error onto a Kind by inspecting its message, the
// only signal the provider reliably gives.
func Classify(err error) Kind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ExpiredKeyMapError") || strings.Contains(msg, "expired"):
		return KindInvalidKey
	case strings.Contains(msg, "OVER_QUERY_LIMIT"):
		return KindQuotaExceeded
	case strings.Contains(msg, "REQUEST_DENIED"):
		return KindRequestDenied
	}
	return KindConnectivity
}

// Message is the user-facing explanation for k.
func Message(k Kind) string {
	switch k {
	case KindInvalidKey:
		return "Google Maps API key has expired or is invalid. Please check your API key configuration."
	case KindQuotaExceeded:
		return "Google Maps API quota exceeded. Please try again later."
	case KindRequestDenied:
		return "Google Maps API request denied. Please check your API key restrictions."
	}
	return "Failed to load Google Maps. Please check your internet connection."
}

// APIError is a non-OK status returned in a provider response body.
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "maps: " + e.Status
	}
	return "maps: " + e.Status + ": " + e.Message
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Leg struct {
	StartAddress    string `json:"start_address"`
	EndAddress      string `json:"end_address"`
	Distance        string `json:"distance"`
	Duration        string `json:"duration"`
	DistanceMeters  int    `json:"distance_meters"`
	DurationSeconds int    `json:"duration_seconds"`
}

type Directions struct {
	Summary  string `json:"summary"`
	Legs     []Leg  `json:"legs"`
	Polyline string `json:"polyline,omitempty"`
}

// RouteInfo is the distance/duration summary of the first leg.
type RouteInfo struct {
	Distance string `json:"distance"`
	Duration string `json:"duration"`
}

// Client is a driving-directions provider.
type Client interface {
	// Load verifies the provider can be used at all.
	Load(ctx context.Context) error
	Geocode(ctx context.Context, address string) (LatLng, error)
	Directions(ctx context.Context, origin, destination string, waypoints []string) (Directions, error)
	RouteInfo(ctx context.Context, origin, destination string) (RouteInfo, error)
}

// View is what the route endpoint renders. Stops are always present; Info
// and Directions only when the provider answered, Error otherwise.
type View struct {
	Origin      string      `json:"origin"`
	Destination string      `json:"destination"`
	ViaStops    string      `json:"via_stops,omitempty"`
	Directions  *Directions `json:"directions,omitempty"`
	Info        *RouteInfo  `json:"info,omitempty"`
	Error       string      `json:"error,omitempty"`
	ErrorKind   Kind        `json:"error_kind,omitempty"`
}

// Describe builds the route view for a trip. Provider failures degrade the
// view to its text-only stops and never fail the call.
func Describe(ctx context.Context, c Client, origin, destination, viaStops string) View {
	v := View{Origin: origin, Destination: destination, ViaStops: viaStops}
	if c == nil {
		v.fail(ErrInvalidKey)
		return v
	}
	if err := c.Load(ctx); err != nil {
		v.fail(err)
		return v
	}
	var waypoints []string
	if viaStops != "" {
		waypoints = []string{viaStops}
	}
	d, err := c.Directions(ctx, origin, destination, waypoints)
	if errors.Is(err, ErrNoRoute) {
		v.Error = "Unable to load route directions"
		return v
	}
	if err != nil {
		v.fail(err)
		return v
	}
	v.Directions = &d
	if info, err := c.RouteInfo(ctx, origin, destination); err == nil {
		v.Info = &info
	}
	return v
}

func (v *View) fail(err error) {
	v.ErrorKind = Classify(err)
	v.Error = Message(v.ErrorKind)
	observability.MapsErrorsTotal.WithLabelValues(string(v.ErrorKind)).Inc()
}
