package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalid is wrapped by every validation error in this package. Callers map
// errors.Is(err, ErrInvalid) to a 400 INVALID_REQUEST response.
var ErrInvalid = errors.New("validation failed")

var (
	// ErrPassengerCount is returned when passenger count is outside [MinPassengers, MaxPassengers].
	ErrPassengerCount = fmt.Errorf("%w: passenger count out of range", ErrInvalid)

	// ErrHour is returned when the request hour is outside [0, 23].
	ErrHour = fmt.Errorf("%w: hour out of range", ErrInvalid)

	// ErrWeather is returned for weather values outside the recognized set.
	ErrWeather = fmt.Errorf("%w: unrecognized weather", ErrInvalid)

	// ErrCoordinate is returned when latitude or longitude is out of bounds or not a number.
	ErrCoordinate = fmt.Errorf("%w: coordinate out of range", ErrInvalid)

	// ErrDistance is returned when a distance is negative or not finite.
	ErrDistance = fmt.Errorf("%w: invalid distance", ErrInvalid)

	// ErrPrediction is returned when the base prediction is not a finite number.
	ErrPrediction = fmt.Errorf("%w: base prediction is not finite", ErrInvalid)

	// ErrSameLocation is returned when pickup and dropoff name the same place.
	ErrSameLocation = fmt.Errorf("%w: pickup and dropoff must differ", ErrInvalid)
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = fmt.Errorf("%w: location is required", ErrInvalid)

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = fmt.Errorf("%w: location too short", ErrInvalid)

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = fmt.Errorf("%w: location too long", ErrInvalid)

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = fmt.Errorf("%w: location contains invalid characters", ErrInvalid)

const (
	MinPassengers = 1
	MaxPassengers = 6
)

// ValidatePassengers checks 1 <= n <= 6.
func ValidatePassengers(n int) error {
	if n < MinPassengers || n > MaxPassengers {
		return fmt.Errorf("%w: got %d, want %d-%d", ErrPassengerCount, n, MinPassengers, MaxPassengers)
	}
	return nil
}

// ValidateHour checks 0 <= hour <= 23.
func ValidateHour(hour int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: got %d, want 0-23", ErrHour, hour)
	}
	return nil
}

// ValidateLocationName trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma, hyphen,
// period and apostrophe. Returns the trimmed name.
func ValidateLocationName(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
