package queue

import (
	"context"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
)

// SummaryPublisher publishes the end-of-run summary as a notification.
type SummaryPublisher interface {
	PublishSummary(ctx context.Context, summary *domain.RunSummary) error
}
