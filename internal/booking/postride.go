package booking

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/drivuber/internal/catalog"
	"github.com/example/drivuber/internal/models"
)

type Vehicle struct {
	Make         string `json:"make" validate:"max=50"`
	Model        string `json:"model" validate:"max=50"`
	Color        string `json:"color" validate:"max=30"`
	LicensePlate string `json:"license_plate" validate:"max=15"`
}

type Preferences struct {
	SmokingAllowed  bool   `json:"smoking_allowed"`
	PetsAllowed     bool   `json:"pets_allowed"`
	MusicPreference string `json:"music_preference" validate:"max=50"`
}

// PostRideForm is what a driver submits to offer a ride.
type PostRideForm struct {
	Origin         string      `json:"origin" validate:"required,max=120"`
	Destination    string      `json:"destination" validate:"required,max=120"`
	Date           string      `json:"date" validate:"required,datetime=2006-01-02"`
	Time           string      `json:"time" validate:"required,datetime=15:04"`
	AvailableSeats int         `json:"available_seats" validate:"gte=0,lte=8"`
	Price          float64     `json:"price" validate:"gte=0"`
	Stops          []string    `json:"stops" validate:"max=10,dive,max=120"`
	Vehicle        Vehicle     `json:"vehicle"`
	Notes          string      `json:"notes" validate:"max=1000"`
	Preferences    Preferences `json:"preferences"`
}

const defaultMusic = "Any"

// Normalize trims every free-text field and de-duplicates stops, keeping
// their first-seen order.
func (f *PostRideForm) Normalize() {
	f.Origin = strings.TrimSpace(f.Origin)
	f.Destination = strings.TrimSpace(f.Destination)
	f.Date = strings.TrimSpace(f.Date)
	f.Time = strings.TrimSpace(f.Time)
	f.Notes = strings.TrimSpace(f.Notes)
	f.Vehicle.Make = strings.TrimSpace(f.Vehicle.Make)
	f.Vehicle.Model = strings.TrimSpace(f.Vehicle.Model)
	f.Vehicle.Color = strings.TrimSpace(f.Vehicle.Color)
	f.Vehicle.LicensePlate = strings.TrimSpace(f.Vehicle.LicensePlate)
	f.Preferences.MusicPreference = strings.TrimSpace(f.Preferences.MusicPreference)
	if f.Preferences.MusicPreference == "" {
		f.Preferences.MusicPreference = defaultMusic
	}

	seen := make(map[string]bool, len(f.Stops))
	stops := f.Stops[:0]
	for _, s := range f.Stops {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		stops = append(stops, s)
	}
	f.Stops = stops
}

// Validate checks a normalized form.
func (f *PostRideForm) Validate(v *validator.Validate) error {
	out := &ValidationError{}
	if err := v.Struct(f); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		out = fromValidator(ve)
	}
	if f.Origin != "" && strings.EqualFold(f.Origin, f.Destination) {
		out.add("destination", "destination must differ from origin")
	}
	if len(out.Errors) > 0 {
		return out
	}
	return nil
}

// Trip turns the form into a listing owned by user. A nil user posts as the
// demo driver.
func (f *PostRideForm) Trip(user *models.User, now time.Time) models.Trip {
	stamp := now.UTC().Format(time.RFC3339)
	driver := models.User{
		ID:        "demo-driver",
		Name:      "Demo Driver",
		Email:     "driver@example.com",
		AvatarURL: catalog.DefaultAvatar,
		CreatedAt: stamp,
	}
	if user != nil {
		driver.ID = user.ID
		if user.Name != "" {
			driver.Name = user.Name
		}
		if user.Email != "" {
			driver.Email = user.Email
		}
		if user.AvatarURL != "" {
			driver.AvatarURL = user.AvatarURL
		}
		if user.CreatedAt != "" {
			driver.CreatedAt = user.CreatedAt
		}
	}

	originCity, originState := splitPlace(f.Origin)
	destCity, destState := splitPlace(f.Destination)
	notes := f.Notes
	if notes == "" {
		notes = f.defaultNotes()
	}
	return models.Trip{
		ID:               "trip-" + strconv.FormatInt(now.UnixMilli(), 10),
		DriverID:         driver.ID,
		OriginCity:       originCity,
		OriginState:      originState,
		DestinationCity:  destCity,
		DestinationState: destState,
		ViaStops:         strings.Join(f.Stops, ", "),
		DepartureDate:    f.Date,
		DepartureTime:    f.Time + ":00",
		AvailableSeats:   f.AvailableSeats,
		TotalPrice:       f.Price,
		Notes:            notes,
		Status:           models.TripActive,
		CreatedAt:        stamp,
		UpdatedAt:        stamp,
		Driver:           &driver,
	}
}

func (f *PostRideForm) defaultNotes() string {
	parts := []string{
		strings.TrimSpace(f.Vehicle.Make + " " + f.Vehicle.Model + " (" + f.Vehicle.Color + ")."),
		"Music: " + f.Preferences.MusicPreference + ".",
	}
	if f.Preferences.SmokingAllowed {
		parts = append(parts, "Smoking allowed.")
	}
	if f.Preferences.PetsAllowed {
		parts = append(parts, "Pets allowed.")
	}
	return strings.Join(parts, " ")
}

// splitPlace reads "City, ST"; a place without a state gets "Unknown".
func splitPlace(place string) (city, state string) {
	city, state = models.SplitLabel(place)
	if city == "" {
		city = place
	}
	if state == "" {
		state = "Unknown"
	}
	return city, state
}
