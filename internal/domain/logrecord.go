package domain

import "time"

// Status of a conversion log record. The log is append-only: a retry
// after failure inserts a new row, it never mutates the old one.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

const (
	maxAPIResponseLen  = 1000
	maxErrorMessageLen = 2000
)

// LogRecord is one upload attempt outcome, keyed by (event_id,
// platform). For any pair that already has a sent record the engine
// must never submit again.
type LogRecord struct {
	EventID          string    `ch:"event_id"`
	EventType        EventType `ch:"event_type"`
	Platform         Platform  `ch:"platform"`
	ClickID          string    `ch:"click_id"`
	ConversionTime   time.Time `ch:"conversion_time"`
	ConversionValue  float64   `ch:"conversion_value"`
	ConversionAction string    `ch:"conversion_action"`
	CurrencyCode     string    `ch:"currency_code"`
	Status           Status    `ch:"status"`
	APIResponse      string    `ch:"api_response"`
	ErrorMessage     string    `ch:"error_message"`
	OriginalEventID  string    `ch:"original_event_id"`
	UserID           string    `ch:"user_id"`
	RunID            string    `ch:"run_id"`
	SentAt           time.Time `ch:"sent_at"`
}

// Truncate clamps the free-text fields so a verbose API error cannot
// blow up the log table.
func (r *LogRecord) Truncate() {
	r.APIResponse = truncate(r.APIResponse, maxAPIResponseLen)
	r.ErrorMessage = truncate(r.ErrorMessage, maxErrorMessageLen)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
