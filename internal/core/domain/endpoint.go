package domain

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Endpoint is a merchant-registered delivery target.
type Endpoint struct {
	ID             uuid.UUID   `json:"id"`
	MerchantID     uuid.UUID   `json:"merchant_id"`
	URL            string      `json:"url"`
	EventTypes     []EventType `json:"event_types"`
	SecretEnc      string      `json:"-"` // Encrypted signing secret, never expose
	Enabled        bool        `json:"enabled"`
	LastDeliveryAt *time.Time  `json:"last_delivery_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SubscribedTo reports whether the endpoint subscribes to the event type.
func (e *Endpoint) SubscribedTo(t EventType) bool {
	for _, sub := range e.EventTypes {
		if sub == t {
			return true
		}
	}
	return false
}

// ValidateURL checks that raw is a well-formed HTTPS URL with a host.
func ValidateURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Host != ""
}
