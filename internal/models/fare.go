package models

import "strconv"

// FareBreakdown holds every term of a composed fare. Values are unrounded;
// use Display for the customer-facing view.
type FareBreakdown struct {
	// ModelPrediction is the unconstrained predictor output. It may be below
	// the minimum fare or negative; BasePrediction carries the floored value
	// used in every monetary term.
	ModelPrediction   float64 `json:"modelPrediction"`
	BasePrediction    float64 `json:"basePrediction"`  // after the minimum-fare floor
	DistanceKm        float64 `json:"distanceKm"`
	NightCharge       float64 `json:"nightCharge"`
	BookingFee        float64 `json:"bookingFee"`
	SurgeMultiplier   float64 `json:"surgeMultiplier"`
	WeatherMultiplier float64 `json:"weatherMultiplier"`
	PassengerCharge   float64 `json:"passengerCharge"`
	FinalFare         float64 `json:"finalFare"`
}

// FareQuote is the display view of a FareBreakdown. Fare and distance fields are
// rounded to one decimal place.
type FareQuote struct {
	BasePrediction    float64 `json:"basePrediction"`
	DistanceKm        float64 `json:"distanceKm"`
	NightCharge       float64 `json:"nightCharge"`
	BookingFee        float64 `json:"bookingFee"`
	SurgeMultiplier   float64 `json:"surgeMultiplier"`
	WeatherMultiplier float64 `json:"weatherMultiplier"`
	PassengerCharge   float64 `json:"passengerCharge"`
	FinalFare         float64 `json:"finalFare"`
}

// Display returns the rounded view. The breakdown itself is left untouched.
func (b FareBreakdown) Display() FareQuote {
	return FareQuote{
		BasePrediction:    RoundTenth(b.BasePrediction),
		DistanceKm:        RoundTenth(b.DistanceKm),
		NightCharge:       b.NightCharge,
		BookingFee:        b.BookingFee,
		SurgeMultiplier:   b.SurgeMultiplier,
		WeatherMultiplier: b.WeatherMultiplier,
		PassengerCharge:   b.PassengerCharge,
		FinalFare:         RoundTenth(b.FinalFare),
	}
}

// RoundTenth rounds the exact binary value of v to one decimal place, ties to
// even, so 11.25 displays as 11.2 and 0.35 (stored just below) as 0.3.
func RoundTenth(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 1, 64), 64)
	if err != nil {
		return v
	}
	return r
}
