package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/cab-fare-service/internal/health"
	"github.com/kjstillabower/cab-fare-service/internal/location"
	"github.com/kjstillabower/cab-fare-service/internal/models"
	"github.com/kjstillabower/cab-fare-service/internal/observability"
	"github.com/kjstillabower/cab-fare-service/internal/validation"
)

// maxBodyBytes bounds POST /quote bodies.
const maxBodyBytes = 64 << 10

// QuoteService is the fare quotation surface the handlers call.
type QuoteService interface {
	Quote(ctx context.Context, pickup, dropoff models.GeoPoint, passengers int, weather models.Weather, hour int) (models.FareBreakdown, error)
	QuoteByName(ctx context.Context, pickupName, dropoffName string, passengers int, weather models.Weather, hour int) (models.FareBreakdown, error)
	Locations(ctx context.Context) ([]string, error)
	Destinations(ctx context.Context, pickup string) ([]string, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	quotes           QuoteService
	health           *health.Evaluator
	logger           *zap.Logger
	timezone         *time.Location
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev health.Status
}

// NewHandler returns a new Handler. timezone supplies the hour of day when a
// quote request omits it; nil means UTC.
func NewHandler(quotes QuoteService, evaluator *health.Evaluator, logger *zap.Logger, timezone *time.Location) *Handler {
	if timezone == nil {
		timezone = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		quotes:   quotes,
		health:   evaluator,
		logger:   logger,
		timezone: timezone,
		now:      time.Now,
	}
}

type quoteRequest struct {
	Pickup     *models.GeoPoint `json:"pickup"`
	Dropoff    *models.GeoPoint `json:"dropoff"`
	Passengers *int             `json:"passengers"`
	Weather    models.Weather   `json:"weather"`
	Hour       *int             `json:"hour"`
}

type quoteResponse struct {
	models.FareQuote
	Pickup     string               `json:"pickup,omitempty"`
	Dropoff    string               `json:"dropoff,omitempty"`
	Passengers int                  `json:"passengers"`
	Weather    models.Weather       `json:"weather"`
	Hour       int                  `json:"hour"`
	Raw        models.FareBreakdown `json:"raw"`
}

// GetQuote handles GET /quote?pickup=&dropoff=&passengers=&weather=&hour=.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pickup := strings.TrimSpace(q.Get("pickup"))
	dropoff := strings.TrimSpace(q.Get("dropoff"))
	if pickup == "" || dropoff == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "pickup and dropoff are required")
		return
	}

	passengers := validation.MinPassengers
	if v := q.Get("passengers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "passengers must be an integer")
			return
		}
		passengers = n
	}
	weather, err := models.ParseWeather(q.Get("weather"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "weather must be one of Clear, Rain, Storm")
		return
	}
	hour := h.currentHour()
	if v := q.Get("hour"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "hour must be an integer")
			return
		}
		hour = n
	}

	fare, err := h.quotes.QuoteByName(r.Context(), pickup, dropoff, passengers, weather, hour)
	if err != nil {
		writeQuoteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		FareQuote:  fare.Display(),
		Pickup:     pickup,
		Dropoff:    dropoff,
		Passengers: passengers,
		Weather:    weather,
		Hour:       hour,
		Raw:        fare,
	})
}

// PostQuote handles POST /quote with a JSON body of coordinates.
func (h *Handler) PostQuote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req quoteRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		observability.LoggerFrom(r.Context(), h.logger).Debug("decode quote request", zap.Error(err))
		return
	}
	if req.Pickup == nil || req.Dropoff == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "pickup and dropoff are required")
		return
	}
	if !req.Weather.Valid() {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "weather must be one of Clear, Rain, Storm")
		return
	}
	passengers := validation.MinPassengers
	if req.Passengers != nil {
		passengers = *req.Passengers
	}
	hour := h.currentHour()
	if req.Hour != nil {
		hour = *req.Hour
	}

	fare, err := h.quotes.Quote(r.Context(), *req.Pickup, *req.Dropoff, passengers, req.Weather, hour)
	if err != nil {
		writeQuoteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		FareQuote:  fare.Display(),
		Passengers: passengers,
		Weather:    req.Weather,
		Hour:       hour,
		Raw:        fare,
	})
}

// GetLocations handles GET /locations.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	names, err := h.quotes.Locations(r.Context())
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"locations": names})
}

// GetDestinations handles GET /locations/{name}/destinations.
func (h *Handler) GetDestinations(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(mux.Vars(r)["name"])
	names, err := h.quotes.Destinations(r.Context(), name)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pickup":       name,
		"destinations": names,
	})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := h.health.Evaluate(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != report.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", string(prev)),
			zap.String("current_status", string(report.Status)),
			zap.String("reason", report.Reason))
	}
	h.healthStatusPrev = report.Status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    report.Status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    report.Checks,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if report.Reason != "" {
		resp["reason"] = report.Reason
	}
	writeJSON(w, report.Status.HTTPStatus(), resp)
}

func (h *Handler) currentHour() int {
	return h.now().In(h.timezone).Hour()
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFrom(r.Context()),
		},
	})
}

// writeQuoteError maps quote errors to status codes. Anything that is not a
// timeout, unknown place or validation failure is a predictor failure.
func writeQuoteError(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, err, "PREDICTOR_UNAVAILABLE", "Unable to price trip")
}

// writeLookupError maps location listing errors; backend failures are 503.
func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, err, "LOCATIONS_UNAVAILABLE", "Unable to list locations")
}

// writeServiceError writes the mapped error response. Validation messages are
// returned to the caller; upstream details are only logged at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, unavailableCode, unavailableMsg string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
	case errors.Is(err, location.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", err.Error())
	case errors.Is(err, validation.ErrInvalid):
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		writeError(w, r, http.StatusServiceUnavailable, unavailableCode, unavailableMsg)
	}
	observability.LoggerFrom(r.Context(), nil).Debug("request failed", zap.Error(err))
}
