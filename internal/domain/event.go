package domain

import "time"

// Platform identifies an ad platform conversions are reported to.
type Platform string

const (
	PlatformGoogleAds    Platform = "google_ads"
	PlatformMicrosoftAds Platform = "microsoft_ads"
)

// Platforms returns all platforms in reporting order.
func Platforms() []Platform {
	return []Platform{PlatformGoogleAds, PlatformMicrosoftAds}
}

// ConversionEvent is a candidate warehouse event with its click
// identifiers already resolved (per-user attribution first, first-touch
// as fallback). An event may carry one or both click ids; events with
// neither are excluded at the source and never reach the engine.
type ConversionEvent struct {
	EventID    string    `ch:"event_id"`
	EventType  EventType `ch:"event_type"`
	UserID     string    `ch:"user_id"`
	OccurredAt time.Time `ch:"conversion_time"`
	Value      float64   `ch:"conversion_value"`
	GCLID      string    `ch:"gclid"`
	MSCLKID    string    `ch:"msclkid"`

	// Contact fields for enhanced conversions. Hashed before any
	// upload; plaintext never leaves the process.
	Email     string `ch:"email"`
	FirstName string `ch:"first_name"`
	LastName  string `ch:"last_name"`
	City      string `ch:"city"`
	State     string `ch:"state"`
	Country   string `ch:"country"`
	ZipCode   string `ch:"zip_code"`
}

// HasClickID reports whether the event is attributable to the platform.
func (e *ConversionEvent) HasClickID(p Platform) bool {
	return e.ClickID(p) != ""
}

// ClickID returns the platform-specific click identifier, if any.
func (e *ConversionEvent) ClickID(p Platform) string {
	switch p {
	case PlatformGoogleAds:
		return e.GCLID
	case PlatformMicrosoftAds:
		return e.MSCLKID
	default:
		return ""
	}
}
