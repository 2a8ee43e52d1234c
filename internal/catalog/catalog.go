package catalog

import "github.com/example/drivuber/internal/models"

const fixtureStamp = "2025-01-01T00:00:00Z"

type fixture struct {
	id, driverName, email, avatar string
	from, fromState, to, toState  string
	via, date, time, notes        string
	seats                         int
	price                         float64
}

var fixtures = []fixture{
	{"trip-1", "John Smith", "john@example.com", "220453", "Denver", "CO", "Dallas", "TX", "Colorado Springs, Amarillo", "2026-01-15", "09:00:00", "Comfortable SUV, can take luggage, scenic route through mountains", 3, 75.00},
	{"trip-2", "Sarah Johnson", "sarah@example.com", "415829", "Dallas", "TX", "Houston", "TX", "Austin", "2026-01-16", "07:30:00", "Quick trip, AC, music allowed, can stop for food", 2, 45.00},
	{"trip-3", "Mike Wilson", "mike@example.com", "614810", "New York", "NY", "Philadelphia", "PA", "", "2026-01-17", "14:00:00", "Pet-friendly, can stop for breaks, comfortable sedan", 4, 35.00},
	{"trip-4", "Emily Davis", "emily@example.com", "774909", "Los Angeles", "CA", "San Francisco", "CA", "Bakersfield, Fresno", "2026-01-20", "08:00:00", "Luxury car, scenic coastal route, can stop for photos", 2, 85.00},
	{"trip-5", "David Brown", "david@example.com", "2379004", "Chicago", "IL", "Detroit", "MI", "Gary, South Bend", "2026-01-18", "11:00:00", "Business trip, quiet ride preferred, can work during trip", 1, 60.00},
	{"trip-6", "Lisa Garcia", "lisa@example.com", "1239291", "Miami", "FL", "Orlando", "FL", "Fort Lauderdale", "2026-01-22", "10:00:00", "Family trip, child seats available, can stop for theme parks", 3, 40.00},
	{"trip-7", "Alex Chen", "alex@example.com", "1516680", "Seattle", "WA", "Portland", "OR", "Tacoma, Olympia", "2026-01-25", "09:30:00", "Scenic route through mountains, can stop for coffee", 2, 55.00},
	{"trip-8", "Maria Rodriguez", "maria@example.com", "1181686", "Phoenix", "AZ", "Las Vegas", "NV", "", "2026-01-28", "16:00:00", "Evening trip, perfect for weekend getaway, can stop for dinner", 4, 65.00},
}

// AvatarURL builds the stock photo URL used for sample drivers.
func AvatarURL(photoID string) string {
	return "https://images.pexels.com/photos/" + photoID + "/pexels-photo-" + photoID + ".jpeg?auto=compress&cs=tinysrgb&w=150"
}

// DefaultAvatar is shown for users without a picture of their own.
var DefaultAvatar = AvatarURL("220453")

// Fixtures returns a fresh copy of the sample listings, in display order.
func Fixtures() []models.Trip {
	out := make([]models.Trip, 0, len(fixtures))
	for i, f := range fixtures {
		driverID := "driver-" + string(rune('1'+i))
		out = append(out, models.Trip{
			ID:               f.id,
			DriverID:         driverID,
			OriginCity:       f.from,
			OriginState:      f.fromState,
			DestinationCity:  f.to,
			DestinationState: f.toState,
			ViaStops:         f.via,
			DepartureDate:    f.date,
			DepartureTime:    f.time,
			AvailableSeats:   f.seats,
			TotalPrice:       f.price,
			Notes:            f.notes,
			Status:           models.TripActive,
			CreatedAt:        fixtureStamp,
			UpdatedAt:        fixtureStamp,
			Driver: &models.User{
				ID:        driverID,
				Name:      f.driverName,
				Email:     f.email,
				AvatarURL: AvatarURL(f.avatar),
				CreatedAt: fixtureStamp,
			},
		})
	}
	return out
}

// Compose builds the searchable catalog: the user's posted trips first, in
// the order the session keeps them, then the fixtures.
func Compose(posted []models.Trip) []models.Trip {
	out := make([]models.Trip, 0, len(posted)+len(fixtures))
	out = append(out, posted...)
	return append(out, Fixtures()...)
}
