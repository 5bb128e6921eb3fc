package uploader

import (
	"context"
	"time"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
)

// FailureReason classifies why a single record was not accepted.
type FailureReason string

const (
	ReasonNone          FailureReason = ""
	ReasonUnknownAction FailureReason = "unknown_action"
	ReasonInvalidClick  FailureReason = "invalid_click"
	ReasonExpiredClick  FailureReason = "expired_click"
	ReasonRateLimited   FailureReason = "rate_limited"
	ReasonTransient     FailureReason = "transient"
	ReasonRejected      FailureReason = "rejected"
)

// Retryable reports whether a later run may succeed for this reason.
// The engine records the failure either way; retryable ones stay under
// the retry ceiling, permanent ones burn through it.
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonRateLimited, ReasonTransient:
		return true
	default:
		return false
	}
}

// Conversion is one record to report. ActionName is the platform-side
// conversion action (Google) or goal (Microsoft) name; OrderID is the
// match key later retractions reference, always the warehouse event id.
type Conversion struct {
	EventID    string
	EventType  domain.EventType
	ClickID    string
	ActionName string
	Value      float64
	Currency   string
	OccurredAt time.Time
	OrderID    string

	// Hashed contact identifiers for enhanced conversions. Empty when
	// enhanced conversions are disabled or no contact data exists.
	HashedEmail     string
	HashedFirstName string
	HashedLastName  string
	City            string
	State           string
	CountryCode     string
	PostalCode      string
}

// Retraction reverses a previously reported conversion. Google matches
// on the original order id; Microsoft matches on the click id plus the
// original conversion time.
type Retraction struct {
	EventID         string
	OriginalEventID string
	ClickID         string
	ActionName      string
	OriginalTime    time.Time
	AdjustedAt      time.Time
	Currency        string
}

// Result is the per-record outcome of a batch submission.
type Result struct {
	EventID string
	OK      bool
	Reason  FailureReason
	Message string
}

// Uploader submits batches to one ad platform. Implementations return
// one Result per input in input order and never fail the whole batch
// for a single bad record; a transport-level error marks every record
// of the affected chunk as failed instead.
type Uploader interface {
	Platform() domain.Platform
	UploadConversions(ctx context.Context, conversions []Conversion) []Result
	UploadRetractions(ctx context.Context, retractions []Retraction) []Result
}

// okResult returns a successful outcome for an event.
func okResult(eventID string) Result {
	return Result{EventID: eventID, OK: true, Message: "OK"}
}
