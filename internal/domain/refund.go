package domain

import "time"

// Refund is a refund payment row matched to the original sent
// conversion it retracts. The match is by user id, taking the most
// recently sent non-refund record for that user on each platform.
type Refund struct {
	EventID    string    `ch:"event_id"`
	UserID     string    `ch:"user_id"`
	RefundedAt time.Time `ch:"conversion_time"`
	Value      float64   `ch:"conversion_value"`

	// Fields of the matched original conversion log record.
	OriginalEventID  string    `ch:"original_event_id"`
	Platform         Platform  `ch:"platform"`
	ClickID          string    `ch:"click_id"`
	OriginalTime     time.Time `ch:"original_conversion_time"`
	OriginalAction   string    `ch:"original_conversion_action"`
	OriginalSentAt   time.Time `ch:"original_sent_at"`
	OriginalCurrency string    `ch:"original_currency_code"`
}
