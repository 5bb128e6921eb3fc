package repository

import (
	"context"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
)

// Candidate is one warehouse event together with its per-platform
// eligibility. Eligibility already folds in click-id presence, the
// sent-record exclusion, and the retry ceiling, so the engine can
// dispatch on it directly.
type Candidate struct {
	Event             domain.ConversionEvent
	GoogleEligible    bool
	MicrosoftEligible bool
}

// Eligible reports platform eligibility for a candidate.
func (c *Candidate) Eligible(p domain.Platform) bool {
	switch p {
	case domain.PlatformGoogleAds:
		return c.GoogleEligible
	case domain.PlatformMicrosoftAds:
		return c.MicrosoftEligible
	default:
		return false
	}
}

// EventSource reads candidate conversion events from the warehouse.
type EventSource interface {
	// FetchCandidates returns the unsent candidates for one forward
	// pass, click identifiers resolved, within the lookback window.
	FetchCandidates(ctx context.Context, pass domain.Pass) ([]Candidate, error)

	// FetchRefunds returns refund payments matched to the most
	// recently sent conversion for the same user, excluding refunds
	// already retracted or at the retry ceiling.
	FetchRefunds(ctx context.Context) ([]domain.Refund, error)
}

// ConversionLog is the append-only record of upload attempts and the
// source of truth for idempotency.
type ConversionLog interface {
	// InitSchema creates the log table if it does not exist.
	InitSchema(ctx context.Context) error

	// Append inserts outcome records as a batch. Records are never
	// updated in place.
	Append(ctx context.Context, records []domain.LogRecord) (int, error)

	// AlreadySent returns the subset of eventIDs that already have a
	// sent record for the platform. This is the duplicate guard for
	// overlapping runs: sent pairs found here are skipped, not
	// re-inserted.
	AlreadySent(ctx context.Context, platform domain.Platform, eventIDs []string) (map[string]bool, error)

	// Ping checks if the warehouse connection is alive.
	Ping(ctx context.Context) error
}
