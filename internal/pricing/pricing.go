// Package pricing turns a base-fare prediction into a final fare.
//
// Compose applies the business rules in a fixed order: minimum-fare floor,
// night charge, surge multiplier, weather multiplier, booking fee and passenger
// charge. The additive terms are summed first; the surge and weather
// multipliers are then applied to that sum. Compose is pure and safe for
// concurrent use.
package pricing

import (
	"fmt"
	"math"

	"github.com/kjstillabower/cab-fare-service/internal/models"
	"github.com/kjstillabower/cab-fare-service/internal/validation"
)

const (
	MinimumBaseFare     = 3.0
	NightCharge         = 2.5
	BookingFee          = 1.5
	PassengerChargeEach = 0.5
	SurgeMultiplier     = 1.2
	NoSurgeMultiplier   = 1.0
	ClearMultiplier     = 1.0
	RainMultiplier      = 1.15
	StormMultiplier     = 1.25

	// Night runs 20:00 through 06:59; surge runs 16:00 through 19:59.
	nightStartHour = 20
	nightEndHour   = 6
	surgeStartHour = 16
	surgeEndHour   = 19
)

// Compose derives the fare breakdown for a trip. The trip context is already
// validated by construction; distance and prediction are checked here. Any
// failure returns a zero breakdown.
func Compose(basePrediction, distanceKm float64, trip models.TripContext) (models.FareBreakdown, error) {
	if math.IsNaN(basePrediction) || math.IsInf(basePrediction, 0) {
		return models.FareBreakdown{}, fmt.Errorf("%w: %v", validation.ErrPrediction, basePrediction)
	}
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		return models.FareBreakdown{}, fmt.Errorf("%w: %v", validation.ErrDistance, distanceKm)
	}
	if err := validation.ValidateHour(trip.Hour()); err != nil {
		return models.FareBreakdown{}, err
	}
	if err := validation.ValidatePassengers(trip.Passengers()); err != nil {
		return models.FareBreakdown{}, err
	}
	weatherMult, err := WeatherMultiplier(trip.Weather())
	if err != nil {
		return models.FareBreakdown{}, err
	}

	base := FloorBase(basePrediction)
	night := NightChargeFor(trip.Hour())
	surge := SurgeFor(trip.Hour())
	passengers := PassengerChargeEach * float64(trip.Passengers())

	final := (base + night + BookingFee + passengers) * surge * weatherMult

	return models.FareBreakdown{
		ModelPrediction:   basePrediction,
		BasePrediction:    base,
		DistanceKm:        distanceKm,
		NightCharge:       night,
		BookingFee:        BookingFee,
		SurgeMultiplier:   surge,
		WeatherMultiplier: weatherMult,
		PassengerCharge:   passengers,
		FinalFare:         final,
	}, nil
}

// FloorBase clamps predictions below the minimum fare up to MinimumBaseFare.
func FloorBase(prediction float64) float64 {
	if prediction < MinimumBaseFare {
		return MinimumBaseFare
	}
	return prediction
}

// NightChargeFor returns the flat night surcharge for hours 20-23 and 0-6.
func NightChargeFor(hour int) float64 {
	if hour >= nightStartHour || hour <= nightEndHour {
		return NightCharge
	}
	return 0
}

// SurgeFor returns the evening rush multiplier for hours 16-19, otherwise 1.0.
func SurgeFor(hour int) float64 {
	if hour >= surgeStartHour && hour <= surgeEndHour {
		return SurgeMultiplier
	}
	return NoSurgeMultiplier
}

// WeatherMultiplier looks up the multiplier for w. Unknown values fail.
func WeatherMultiplier(w models.Weather) (float64, error) {
	switch w {
	case models.WeatherClear:
		return ClearMultiplier, nil
	case models.WeatherRain:
		return RainMultiplier, nil
	case models.WeatherStorm:
		return StormMultiplier, nil
	}
	return 0, fmt.Errorf("%w: %d", validation.ErrWeather, int(w))
}
