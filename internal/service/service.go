package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/cab-fare-service/internal/client"
	"github.com/kjstillabower/cab-fare-service/internal/events"
	"github.com/kjstillabower/cab-fare-service/internal/geo"
	"github.com/kjstillabower/cab-fare-service/internal/location"
	"github.com/kjstillabower/cab-fare-service/internal/models"
	"github.com/kjstillabower/cab-fare-service/internal/observability"
	"github.com/kjstillabower/cab-fare-service/internal/pricing"
	"github.com/kjstillabower/cab-fare-service/internal/traffic"
	"github.com/kjstillabower/cab-fare-service/internal/validation"
)

// Bounds applied to place names before lookup.
const (
	MinLocationNameLength = 2
	MaxLocationNameLength = 100
)

// QuoteService turns a trip request into a priced fare: distance, model
// prediction, then the pricing rules. It holds no per-request state and is
// safe for concurrent use.
type QuoteService struct {
	predictor client.Predictor
	lookup    location.Lookup
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
	minName   int
	maxName   int
}

// NewQuoteService wires the service. A nil publisher disables events; a nil
// logger is replaced by a no-op logger.
func NewQuoteService(predictor client.Predictor, lookup location.Lookup, publisher events.Publisher, logger *zap.Logger) *QuoteService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuoteService{
		predictor: predictor,
		lookup:    lookup,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		minName:   MinLocationNameLength,
		maxName:   MaxLocationNameLength,
	}
}

// SetNameLimits overrides the place-name length bounds. Non-positive values
// keep the defaults.
func (s *QuoteService) SetNameLimits(minLen, maxLen int) {
	if minLen > 0 {
		s.minName = minLen
	}
	if maxLen > 0 {
		s.maxName = maxLen
	}
}

// Quote prices a trip between two coordinates. Predictor failures are returned
// wrapped; no fallback fare is ever produced.
func (s *QuoteService) Quote(ctx context.Context, pickup, dropoff models.GeoPoint, passengers int, weather models.Weather, hour int) (models.FareBreakdown, error) {
	return s.quote(ctx, "", "", pickup, dropoff, passengers, weather, hour)
}

// QuoteByName resolves both names through the location lookup and prices the
// trip. Pickup and dropoff must name different places.
func (s *QuoteService) QuoteByName(ctx context.Context, pickupName, dropoffName string, passengers int, weather models.Weather, hour int) (models.FareBreakdown, error) {
	pickupName, err := validation.ValidateLocationName(pickupName, s.minName, s.maxName)
	if err != nil {
		return s.reject(fmt.Errorf("pickup: %w", err))
	}
	dropoffName, err = validation.ValidateLocationName(dropoffName, s.minName, s.maxName)
	if err != nil {
		return s.reject(fmt.Errorf("dropoff: %w", err))
	}
	if location.SameName(pickupName, dropoffName) {
		return s.reject(validation.ErrSameLocation)
	}

	pickup, err := s.lookup.Resolve(ctx, pickupName)
	if err != nil {
		return s.reject(fmt.Errorf("pickup: %w", err))
	}
	dropoff, err := s.lookup.Resolve(ctx, dropoffName)
	if err != nil {
		return s.reject(fmt.Errorf("dropoff: %w", err))
	}
	return s.quote(ctx, pickupName, dropoffName, pickup, dropoff, passengers, weather, hour)
}

func (s *QuoteService) quote(ctx context.Context, pickupName, dropoffName string, pickup, dropoff models.GeoPoint, passengers int, weather models.Weather, hour int) (models.FareBreakdown, error) {
	start := time.Now()
	logger := observability.LoggerFrom(ctx, s.logger)

	trip, err := models.NewTripContext(pickup, dropoff, passengers, weather, hour)
	if err != nil {
		return s.reject(err)
	}
	distanceKm, err := geo.Distance(trip.Pickup(), trip.Dropoff())
	if err != nil {
		return s.reject(err)
	}

	prediction, err := s.predictor.Predict(ctx, models.NewFeatures(trip, distanceKm))
	if err == nil && (math.IsNaN(prediction) || math.IsInf(prediction, 0)) {
		err = fmt.Errorf("%w: %v", client.ErrInvalidPrediction, prediction)
	}
	if err != nil {
		traffic.RecordError()
		observability.QuotesTotal.WithLabelValues(outcomeOf(err)).Inc()
		logger.Debug("fare prediction failed",
			zap.Float64("distance_km", distanceKm),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return models.FareBreakdown{}, fmt.Errorf("predict fare: %w", err)
	}

	fare, err := pricing.Compose(prediction, distanceKm, trip)
	if err != nil {
		traffic.RecordError()
		return s.reject(fmt.Errorf("compose fare: %w", err))
	}

	traffic.RecordSuccess()
	recordQuoteMetrics(pickupName, trip, fare)
	logger.Debug("quote served",
		zap.String("pickup", pickupName),
		zap.String("dropoff", dropoffName),
		zap.Float64("distance_km", distanceKm),
		zap.Float64("model_prediction", fare.ModelPrediction),
		zap.Float64("final_fare", fare.FinalFare),
		zap.Duration("duration", time.Since(start)))

	s.publish(ctx, logger, events.QuoteEvent{
		Type:          events.EventQuoted,
		CorrelationID: observability.CorrelationIDFrom(ctx),
		PickupName:    pickupName,
		DropoffName:   dropoffName,
		Pickup:        trip.Pickup(),
		Dropoff:       trip.Dropoff(),
		Passengers:    trip.Passengers(),
		Weather:       trip.Weather(),
		Hour:          trip.Hour(),
		Fare:          fare,
		QuotedAt:      s.now().UTC(),
	})
	return fare, nil
}

// publish sends the event; failures are logged and counted only.
func (s *QuoteService) publish(ctx context.Context, logger *zap.Logger, event events.QuoteEvent) {
	if err := s.publisher.PublishQuote(ctx, event); err != nil {
		observability.QuoteEventPublishFailuresTotal.Inc()
		logger.Warn("quote event publish failed", zap.Error(err))
	}
}

func (s *QuoteService) reject(err error) (models.FareBreakdown, error) {
	observability.QuotesTotal.WithLabelValues(outcomeOf(err)).Inc()
	return models.FareBreakdown{}, err
}

// Locations returns every known place name, sorted.
func (s *QuoteService) Locations(ctx context.Context) ([]string, error) {
	names, err := s.lookup.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Destinations returns every known place except pickup, sorted. An unknown
// pickup is ErrNotFound.
func (s *QuoteService) Destinations(ctx context.Context, pickup string) ([]string, error) {
	pickup, err := validation.ValidateLocationName(pickup, s.minName, s.maxName)
	if err != nil {
		return nil, err
	}
	if _, err := s.lookup.Resolve(ctx, pickup); err != nil {
		return nil, err
	}
	names, err := s.Locations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !location.SameName(n, pickup) {
			out = append(out, n)
		}
	}
	return out, nil
}

// RouteVectors builds the feature vector for every ordered pair of known
// places with one passenger at hour. Used to warm the prediction cache.
func (s *QuoteService) RouteVectors(ctx context.Context, hour int) ([]models.Features, error) {
	names, err := s.Locations(ctx)
	if err != nil {
		return nil, err
	}
	points := make([]models.GeoPoint, len(names))
	for i, n := range names {
		if points[i], err = s.lookup.Resolve(ctx, n); err != nil {
			return nil, fmt.Errorf("resolve %q: %w", n, err)
		}
	}
	var out []models.Features
	for i := range points {
		for j := range points {
			if i == j {
				continue
			}
			trip, err := models.NewTripContext(points[i], points[j], validation.MinPassengers, models.WeatherClear, hour)
			if err != nil {
				return nil, err
			}
			d, err := geo.Distance(points[i], points[j])
			if err != nil {
				return nil, err
			}
			out = append(out, models.NewFeatures(trip, d))
		}
	}
	return out, nil
}

func recordQuoteMetrics(pickupName string, trip models.TripContext, fare models.FareBreakdown) {
	observability.QuotesTotal.WithLabelValues("success").Inc()
	observability.QuotesByPickupTotal.WithLabelValues(observability.PickupLabel(pickupName)).Inc()
	observability.QuotesByWeatherTotal.WithLabelValues(trip.Weather().String()).Inc()
	observability.FinalFare.Observe(fare.FinalFare)
	if fare.SurgeMultiplier > pricing.NoSurgeMultiplier {
		observability.SurgeAppliedTotal.Inc()
	}
	if fare.NightCharge > 0 {
		observability.NightChargeAppliedTotal.Inc()
	}
	if fare.ModelPrediction < pricing.MinimumBaseFare {
		observability.MinimumFareAppliedTotal.Inc()
	}
}

// outcomeOf maps an error to the quotesTotal outcome label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, location.ErrNotFound):
		return "not_found"
	case errors.Is(err, validation.ErrInvalid):
		return "invalid"
	default:
		return "predictor_error"
	}
}
