package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PlaceholderKey ships in sample env files and is never a usable key.
const PlaceholderKey = "YOUR_GOOGLE_MAPS_API_KEY_HERE"

const defaultEndpoint = "https://maps.googleapis.com"

// GoogleClient talks to the Google Maps geocoding and directions web
// services.
type GoogleClient struct {
	Key      string
	Endpoint string
	Client   *http.Client
}

func NewGoogleClient(key string) *GoogleClient {
	return &GoogleClient{Key: strings.TrimSpace(key), Endpoint: defaultEndpoint, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (g *GoogleClient) Load(context.Context) error {
	if g.Key == "" || g.Key == PlaceholderKey {
		return ErrInvalidKey
	}
	return nil
}

func (g *GoogleClient) Geocode(ctx context.Context, address string) (LatLng, error) {
	var out struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Results      []struct {
			Geometry struct {
				Location LatLng `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := g.get(ctx, "/maps/api/geocode/json", url.Values{"address": {address}}, &out); err != nil {
		return LatLng{}, err
	}
	switch {
	case out.Status == "ZERO_RESULTS" || (out.Status == "OK" && len(out.Results) == 0):
		return LatLng{}, fmt.Errorf("geocode %q: %w", address, ErrNotFound)
	case out.Status != "OK":
		return LatLng{}, &APIError{Status: out.Status, Message: out.ErrorMessage}
	}
	return out.Results[0].Geometry.Location, nil
}

type textValue struct {
	Text  string `json:"text"`
	Value int    `json:"value"`
}

func (g *GoogleClient) Directions(ctx context.Context, origin, destination string, waypoints []string) (Directions, error) {
	q := url.Values{"origin": {origin}, "destination": {destination}, "mode": {"driving"}}
	if len(waypoints) > 0 {
		q.Set("waypoints", strings.Join(waypoints, "|"))
	}
	var out struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Routes       []struct {
			Summary string `json:"summary"`
			Legs    []struct {
				StartAddress string    `json:"start_address"`
				EndAddress   string    `json:"end_address"`
				Distance     textValue `json:"distance"`
				Duration     textValue `json:"duration"`
			} `json:"legs"`
			OverviewPolyline struct {
				Points string `json:"points"`
			} `json:"overview_polyline"`
		} `json:"routes"`
	}
	if err := g.get(ctx, "/maps/api/directions/json", q, &out); err != nil {
		return Directions{}, err
	}
	switch {
	case out.Status == "ZERO_RESULTS" || out.Status == "NOT_FOUND" || (out.Status == "OK" && len(out.Routes) == 0):
		return Directions{}, ErrNoRoute
	case out.Status != "OK":
		return Directions{}, &APIError{Status: out.Status, Message: out.ErrorMessage}
	}
	r := out.Routes[0]
	d := Directions{Summary: r.Summary, Polyline: r.OverviewPolyline.Points}
	for _, l := range r.Legs {
		d.Legs = append(d.Legs, Leg{
			StartAddress:    l.StartAddress,
			EndAddress:      l.EndAddress,
			Distance:        l.Distance.Text,
			Duration:        l.Duration.Text,
			DistanceMeters:  l.Distance.Value,
			DurationSeconds: l.Duration.Value,
		})
	}
	return d, nil
}

// RouteInfo summarizes the first leg of the direct route.
func (g *GoogleClient) RouteInfo(ctx context.Context, origin, destination string) (RouteInfo, error) {
	d, err := g.Directions(ctx, origin, destination, nil)
	if err != nil {
		return RouteInfo{}, err
	}
	return infoFromDirections(d)
}

func infoFromDirections(d Directions) (RouteInfo, error) {
	if len(d.Legs) == 0 {
		return RouteInfo{}, ErrNoRoute
	}
	info := RouteInfo{Distance: d.Legs[0].Distance, Duration: d.Legs[0].Duration}
	if info.Distance == "" {
		info.Distance = "Unknown"
	}
	if info.Duration == "" {
		info.Duration = "Unknown"
	}
	return info, nil
}

func (g *GoogleClient) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := g.Load(ctx); err != nil {
		return err
	}
	q.Set("key", g.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(g.Endpoint, "/")+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("maps %s: http %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
