package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/kjstillabower/cab-fare-service/internal/validation"
)

// GeoPoint is a latitude/longitude pair in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Validate checks lat in [-90, 90] and lon in [-180, 180]. NaN fails both.
func (p GeoPoint) Validate() error {
	if !(p.Lat >= -90 && p.Lat <= 90) {
		return fmt.Errorf("%w: latitude %v", validation.ErrCoordinate, p.Lat)
	}
	if !(p.Lon >= -180 && p.Lon <= 180) {
		return fmt.Errorf("%w: longitude %v", validation.ErrCoordinate, p.Lon)
	}
	return nil
}

// Weather is the trip's weather condition. The zero value is not a valid condition.
type Weather int

const (
	WeatherClear Weather = iota + 1
	WeatherRain
	WeatherStorm
)

func (w Weather) String() string {
	switch w {
	case WeatherClear:
		return "Clear"
	case WeatherRain:
		return "Rain"
	case WeatherStorm:
		return "Storm"
	default:
		return "unknown"
	}
}

// Valid reports whether w is one of the recognized conditions.
func (w Weather) Valid() bool {
	return w >= WeatherClear && w <= WeatherStorm
}

// ParseWeather maps a name to a Weather. Canonical names and the labels used by
// the fare picker UI (sunny, rainy, stormy) are accepted, case-insensitively.
func ParseWeather(s string) (Weather, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "clear", "sunny":
		return WeatherClear, nil
	case "rain", "rainy":
		return WeatherRain, nil
	case "storm", "stormy":
		return WeatherStorm, nil
	}
	return 0, fmt.Errorf("%w: %q", validation.ErrWeather, s)
}

func (w Weather) MarshalJSON() ([]byte, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("%w: %d", validation.ErrWeather, int(w))
	}
	return json.Marshal(w.String())
}

func (w *Weather) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: weather must be a string", validation.ErrWeather)
	}
	parsed, err := ParseWeather(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// TripContext is the validated, immutable input to fare composition.
// Build it with NewTripContext.
type TripContext struct {
	pickup     GeoPoint
	dropoff    GeoPoint
	passengers int
	weather    Weather
	hour       int
}

// NewTripContext validates every field and returns the context. Any invalid field
// aborts construction.
func NewTripContext(pickup, dropoff GeoPoint, passengers int, weather Weather, hour int) (TripContext, error) {
	if err := pickup.Validate(); err != nil {
		return TripContext{}, fmt.Errorf("pickup: %w", err)
	}
	if err := dropoff.Validate(); err != nil {
		return TripContext{}, fmt.Errorf("dropoff: %w", err)
	}
	if err := validation.ValidatePassengers(passengers); err != nil {
		return TripContext{}, err
	}
	if !weather.Valid() {
		return TripContext{}, fmt.Errorf("%w: %d", validation.ErrWeather, int(weather))
	}
	if err := validation.ValidateHour(hour); err != nil {
		return TripContext{}, err
	}
	return TripContext{
		pickup:     pickup,
		dropoff:    dropoff,
		passengers: passengers,
		weather:    weather,
		hour:       hour,
	}, nil
}

func (t TripContext) Pickup() GeoPoint  { return t.pickup }
func (t TripContext) Dropoff() GeoPoint { return t.dropoff }
func (t TripContext) Passengers() int   { return t.passengers }
func (t TripContext) Weather() Weather  { return t.weather }
func (t TripContext) Hour() int         { return t.hour }

// Features is the predictor input. Order is fixed:
// pickupLat, pickupLon, dropoffLat, dropoffLon, passengerCount, distanceKm, hourOfDay.
type Features [7]float64

// NewFeatures builds the predictor input for a trip and its distance.
func NewFeatures(t TripContext, distanceKm float64) Features {
	return Features{
		t.pickup.Lat,
		t.pickup.Lon,
		t.dropoff.Lat,
		t.dropoff.Lon,
		float64(t.passengers),
		distanceKm,
		float64(t.hour),
	}
}

// Finite reports whether every element is a finite number.
func (f Features) Finite() bool {
	for _, v := range f {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
