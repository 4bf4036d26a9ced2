// Package events publishes notifications about issued quotes. Events are
// fire-and-forget: the quote path never waits on or fails because of them.
package events

import (
	"context"
	"time"

	"github.com/kjstillabower/cab-fare-service/internal/models"
)

// EventQuoted is the type of QuoteEvent.
const EventQuoted = "fare.quoted"

// QuoteEvent describes one successful quote.
type QuoteEvent struct {
	Type          string               `json:"type"`
	CorrelationID string               `json:"correlationId,omitempty"`
	PickupName    string               `json:"pickupName,omitempty"`
	DropoffName   string               `json:"dropoffName,omitempty"`
	Pickup        models.GeoPoint      `json:"pickup"`
	Dropoff       models.GeoPoint      `json:"dropoff"`
	Passengers    int                  `json:"passengers"`
	Weather       models.Weather       `json:"weather"`
	Hour          int                  `json:"hour"`
	Fare          models.FareBreakdown `json:"fare"`
	QuotedAt      time.Time            `json:"quotedAt"`
}

// Publisher delivers quote events.
type Publisher interface {
	PublishQuote(ctx context.Context, event QuoteEvent) error
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

// PublishQuote implements Publisher.
func (NopPublisher) PublishQuote(context.Context, QuoteEvent) error { return nil }
