package matcher

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/example/drivuber/internal/models"
	"github.com/example/drivuber/internal/observability"
)

// Query filters trips. Blank fields match everything; origin and destination
// match by case-insensitive substring, the date by exact equality.
type Query struct {
	Origin        string
	Destination   string
	DepartureDate string
}

func QueryFromFilters(f models.SearchFilters) Query {
	return Query{Origin: f.Origin, Destination: f.Destination, DepartureDate: f.DepartureDate}
}

type Service struct{}

// Search evaluates every candidate in order. A trip whose full span matches is
// returned as is; otherwise the first (i, j) pair of its route that matches
// yields one synthesized segment. Other trips contribute nothing.
func (s *Service) Search(q Query, trips []models.Trip) []models.Trip {
	start := time.Now()
	defer func() { observability.SearchLatency.Observe(time.Since(start).Seconds()) }()
	observability.SearchesTotal.Inc()

	origin := strings.ToLower(strings.TrimSpace(q.Origin))
	dest := strings.ToLower(strings.TrimSpace(q.Destination))

	out := make([]models.Trip, 0, len(trips))
	for _, t := range trips {
		if q.DepartureDate != "" && t.DepartureDate != q.DepartureDate {
			continue
		}
		if contains(t.OriginLabel(), origin) && contains(t.DestinationLabel(), dest) {
			observability.MatchesTotal.WithLabelValues("full").Inc()
			out = append(out, t)
			continue
		}
		if seg, ok := firstSegment(t, origin, dest); ok {
			observability.MatchesTotal.WithLabelValues("segment").Inc()
			out = append(out, seg)
		}
	}
	return out
}

func firstSegment(t models.Trip, origin, dest string) (models.Trip, bool) {
	route := Route(t)
	for i := 0; i < len(route)-1; i++ {
		if !contains(route[i], origin) {
			continue
		}
		for j := i + 1; j < len(route); j++ {
			if contains(route[j], dest) {
				return Segment(t, route, i, j), true
			}
		}
	}
	return models.Trip{}, false
}

// Route lists the trip's stops in travel order: the origin label, each
// intermediate stop, the destination label.
func Route(t models.Trip) []string {
	route := []string{t.OriginLabel()}
	if t.ViaStops != "" {
		for _, s := range strings.Split(t.ViaStops, ",") {
			if s = strings.TrimSpace(s); s != "" {
				route = append(route, s)
			}
		}
	}
	return append(route, t.DestinationLabel())
}

// Segment synthesizes the sub-trip from route[i] to route[j]. The index pair
// in the id keeps segments of one trip distinct from each other and from the
// parent.
func Segment(t models.Trip, route []string, i, j int) models.Trip {
	seg := t
	seg.ID = fmt.Sprintf("%s-segment-%d-%d", t.ID, i, j)
	seg.OriginCity, seg.OriginState = models.SplitLabel(route[i])
	seg.DestinationCity, seg.DestinationState = models.SplitLabel(route[j])
	seg.TotalPrice = HalfPrice(t.TotalPrice)
	provenance := fmt.Sprintf("Segment of longer ride: %s → %s", route[0], route[len(route)-1])
	if t.Notes != "" {
		seg.Notes = t.Notes + "\n" + provenance
	} else {
		seg.Notes = provenance
	}
	seg.Status = models.TripActive
	return seg
}

// HalfPrice is the flat segment fare: half the trip price to the cent.
func HalfPrice(total float64) float64 {
	return math.Round(total/2*100) / 100
}

func contains(candidate, needle string) bool {
	return needle == "" || strings.Contains(strings.ToLower(candidate), needle)
}
