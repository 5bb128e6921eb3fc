package uploader

import (
	"context"

	"go.uber.org/zap"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
)

// DryRun stands in for a platform uploader during verification runs.
// It walks the same resolution path and logs what would be submitted,
// but performs no network call and reports every record as accepted.
type DryRun struct {
	platform domain.Platform
	log      *zap.Logger
}

// NewDryRun creates a dry-run uploader for the given platform.
func NewDryRun(platform domain.Platform, log *zap.Logger) *DryRun {
	return &DryRun{platform: platform, log: log}
}

// Platform returns the platform this uploader stands in for.
func (d *DryRun) Platform() domain.Platform {
	return d.platform
}

// previewLimit caps how many records are logged individually per batch.
const previewLimit = 3

// UploadConversions logs the batch and reports every record accepted.
func (d *DryRun) UploadConversions(_ context.Context, conversions []Conversion) []Result {
	d.log.Info("[DRY RUN] Would upload conversions",
		zap.String("platform", string(d.platform)),
		zap.Int("count", len(conversions)))

	results := make([]Result, 0, len(conversions))
	for i, conv := range conversions {
		if i < previewLimit {
			d.log.Info("[DRY RUN] conversion",
				zap.String("event_id", conv.EventID),
				zap.String("click_id", conv.ClickID),
				zap.String("action", conv.ActionName),
				zap.Float64("value", conv.Value))
		}
		results = append(results, okResult(conv.EventID))
	}
	return results
}

// UploadRetractions logs the batch and reports every record accepted.
func (d *DryRun) UploadRetractions(_ context.Context, retractions []Retraction) []Result {
	d.log.Info("[DRY RUN] Would upload retractions",
		zap.String("platform", string(d.platform)),
		zap.Int("count", len(retractions)))

	results := make([]Result, 0, len(retractions))
	for i, ret := range retractions {
		if i < previewLimit {
			d.log.Info("[DRY RUN] retraction",
				zap.String("event_id", ret.EventID),
				zap.String("original_event_id", ret.OriginalEventID),
				zap.String("action", ret.ActionName))
		}
		results = append(results, okResult(ret.EventID))
	}
	return results
}
