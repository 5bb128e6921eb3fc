package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/config"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/hashing"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/metrics"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/repository"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/uploader"
)

// Options are the per-run engine settings.
type Options struct {
	RunID               string
	DryRun              bool
	CurrencyCode        string
	EnhancedConversions bool
}

// Engine drives one sync run: the forward passes over the warehouse
// event sources, then the refund retraction pass. Every submission
// attempt ends in exactly one conversion log record per platform, sent
// or failed; nothing is dropped silently.
type Engine struct {
	source    repository.EventSource
	clog      repository.ConversionLog
	uploaders map[domain.Platform]uploader.Uploader
	actions   config.ActionMap
	opts      Options
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// New creates a sync engine. One uploader per platform; platforms
// without an uploader are skipped entirely.
func New(
	source repository.EventSource,
	clog repository.ConversionLog,
	uploaders []uploader.Uploader,
	actions config.ActionMap,
	opts Options,
	m *metrics.Metrics,
	log *zap.Logger,
) *Engine {
	byPlatform := make(map[domain.Platform]uploader.Uploader, len(uploaders))
	for _, u := range uploaders {
		byPlatform[u.Platform()] = u
	}
	return &Engine{
		source:    source,
		clog:      clog,
		uploaders: byPlatform,
		actions:   actions,
		opts:      opts,
		metrics:   m,
		log:       log,
	}
}

// Run executes the full sync: schema init, the forward passes in fixed
// order, then the refund pass. A pass-level failure (warehouse or log
// write) is recorded and the remaining passes still run; the joined
// error is returned alongside the summary.
func (e *Engine) Run(ctx context.Context) (*domain.RunSummary, error) {
	startedAt := time.Now().UTC()
	summary := domain.NewRunSummary(e.opts.RunID, e.opts.DryRun, startedAt)

	e.log.Info("Sync run starting",
		zap.String("run_id", e.opts.RunID),
		zap.Bool("dry_run", e.opts.DryRun))

	if err := e.clog.InitSchema(ctx); err != nil {
		return summary, fmt.Errorf("failed to initialize conversion log: %w", err)
	}

	var passErrs []error
	for _, pass := range domain.ForwardPasses() {
		if err := e.runForwardPass(ctx, pass, summary); err != nil {
			e.log.Error("Forward pass failed",
				zap.String("pass", pass.Label),
				zap.Error(err))
			passErrs = append(passErrs, fmt.Errorf("%s pass: %w", pass.Label, err))
		}
	}

	if err := e.runRefundPass(ctx, summary); err != nil {
		e.log.Error("Refund pass failed", zap.Error(err))
		passErrs = append(passErrs, fmt.Errorf("refund pass: %w", err))
	}

	summary.FinishedAt = time.Now().UTC()
	e.metrics.ObserveRun(summary.FinishedAt.Sub(startedAt))

	for _, p := range domain.Platforms() {
		counts := summary.Platforms[p]
		e.log.Info("Platform totals",
			zap.String("platform", string(p)),
			zap.Int("sent", counts.Sent),
			zap.Int("retracted", counts.Retracted),
			zap.Int("failed", counts.Failed))
	}

	return summary, errors.Join(passErrs...)
}

// runForwardPass fetches one source's candidates and dispatches them to
// each platform independently. An event eligible for both platforms
// produces two submissions and two log records.
func (e *Engine) runForwardPass(ctx context.Context, pass domain.Pass, summary *domain.RunSummary) error {
	candidates, err := e.source.FetchCandidates(ctx, pass)
	if err != nil {
		return err
	}

	e.log.Info("Forward pass candidates fetched",
		zap.String("pass", pass.Label),
		zap.Int("count", len(candidates)))

	var errs []error
	for _, platform := range domain.Platforms() {
		up, ok := e.uploaders[platform]
		if !ok {
			continue
		}
		if err := e.dispatchForward(ctx, up, pass, candidates, summary); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", platform, err))
		}
	}
	return errors.Join(errs...)
}

// dispatchForward sends one pass's eligible candidates to one platform
// and records the outcomes.
func (e *Engine) dispatchForward(ctx context.Context, up uploader.Uploader, pass domain.Pass, candidates []repository.Candidate, summary *domain.RunSummary) error {
	platform := up.Platform()

	eligible := make([]repository.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Eligible(platform) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	// Second idempotency gate right before dispatch. The source query
	// already excludes sent pairs, but an overlapping run may have sent
	// some of these since the query ran.
	eventIDs := make([]string, len(eligible))
	for i, c := range eligible {
		eventIDs[i] = c.Event.EventID
	}
	alreadySent, err := e.clog.AlreadySent(ctx, platform, eventIDs)
	if err != nil {
		return fmt.Errorf("duplicate guard query failed: %w", err)
	}

	var conversions []uploader.Conversion
	var events []domain.ConversionEvent
	for _, c := range eligible {
		if alreadySent[c.Event.EventID] {
			e.log.Debug("Skipping already sent event",
				zap.String("event_id", c.Event.EventID),
				zap.String("platform", string(platform)))
			continue
		}
		conversions = append(conversions, e.buildConversion(c.Event, platform))
		events = append(events, c.Event)
	}
	if len(conversions) == 0 {
		return nil
	}

	e.log.Info("Uploading conversions",
		zap.String("pass", pass.Label),
		zap.String("platform", string(platform)),
		zap.Int("count", len(conversions)))

	results := up.UploadConversions(ctx, conversions)

	records := make([]domain.LogRecord, 0, len(results))
	for i, res := range results {
		event := events[i]
		record := domain.LogRecord{
			EventID:          event.EventID,
			EventType:        event.EventType,
			Platform:         platform,
			ClickID:          event.ClickID(platform),
			ConversionTime:   event.OccurredAt,
			ConversionValue:  event.Value,
			ConversionAction: conversions[i].ActionName,
			CurrencyCode:     e.opts.CurrencyCode,
			UserID:           event.UserID,
			RunID:            e.opts.RunID,
		}
		if res.OK {
			record.Status = domain.StatusSent
			record.APIResponse = res.Message
			summary.AddSent(platform, 1)
			e.metrics.ObserveSent(string(platform), string(event.EventType))
		} else {
			record.Status = domain.StatusFailed
			record.ErrorMessage = failureMessage(res)
			summary.AddFailed(platform, 1)
			e.metrics.ObserveFailed(string(platform), string(event.EventType), string(res.Reason))
			e.log.Warn("Conversion rejected",
				zap.String("event_id", res.EventID),
				zap.String("platform", string(platform)),
				zap.String("reason", string(res.Reason)))
		}
		records = append(records, record)
	}

	return e.appendRecords(ctx, records)
}

// runRefundPass retracts previously sent conversions for refunded
// users. Each refund already carries the matched original record.
func (e *Engine) runRefundPass(ctx context.Context, summary *domain.RunSummary) error {
	refunds, err := e.source.FetchRefunds(ctx)
	if err != nil {
		return err
	}

	e.log.Info("Refund candidates fetched", zap.Int("count", len(refunds)))

	byPlatform := make(map[domain.Platform][]domain.Refund)
	for _, r := range refunds {
		byPlatform[r.Platform] = append(byPlatform[r.Platform], r)
	}

	var errs []error
	for _, platform := range domain.Platforms() {
		up, ok := e.uploaders[platform]
		if !ok {
			continue
		}
		if err := e.dispatchRefunds(ctx, up, byPlatform[platform], summary); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", platform, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) dispatchRefunds(ctx context.Context, up uploader.Uploader, refunds []domain.Refund, summary *domain.RunSummary) error {
	if len(refunds) == 0 {
		return nil
	}
	platform := up.Platform()

	eventIDs := make([]string, len(refunds))
	for i, r := range refunds {
		eventIDs[i] = r.EventID
	}
	alreadySent, err := e.clog.AlreadySent(ctx, platform, eventIDs)
	if err != nil {
		return fmt.Errorf("duplicate guard query failed: %w", err)
	}

	var retractions []uploader.Retraction
	var pending []domain.Refund
	for _, r := range refunds {
		if alreadySent[r.EventID] {
			continue
		}
		currency := r.OriginalCurrency
		if currency == "" {
			currency = e.opts.CurrencyCode
		}
		retractions = append(retractions, uploader.Retraction{
			EventID:         r.EventID,
			OriginalEventID: r.OriginalEventID,
			ClickID:         r.ClickID,
			ActionName:      r.OriginalAction,
			OriginalTime:    r.OriginalTime,
			AdjustedAt:      r.RefundedAt,
			Currency:        currency,
		})
		pending = append(pending, r)
	}
	if len(retractions) == 0 {
		return nil
	}

	e.log.Info("Uploading retractions",
		zap.String("platform", string(platform)),
		zap.Int("count", len(retractions)))

	results := up.UploadRetractions(ctx, retractions)

	records := make([]domain.LogRecord, 0, len(results))
	for i, res := range results {
		refund := pending[i]
		record := domain.LogRecord{
			EventID:          refund.EventID,
			EventType:        domain.EventTypeRefund,
			Platform:         platform,
			ClickID:          refund.ClickID,
			ConversionTime:   refund.RefundedAt,
			ConversionValue:  refund.Value,
			ConversionAction: refund.OriginalAction,
			CurrencyCode:     retractions[i].Currency,
			OriginalEventID:  refund.OriginalEventID,
			UserID:           refund.UserID,
			RunID:            e.opts.RunID,
		}
		if res.OK {
			record.Status = domain.StatusSent
			record.APIResponse = res.Message
			summary.AddRetracted(platform, 1)
			e.metrics.ObserveRetracted(string(platform))
		} else {
			record.Status = domain.StatusFailed
			record.ErrorMessage = failureMessage(res)
			summary.AddFailed(platform, 1)
			e.metrics.ObserveFailed(string(platform), string(domain.EventTypeRefund), string(res.Reason))
			e.log.Warn("Retraction rejected",
				zap.String("event_id", res.EventID),
				zap.String("platform", string(platform)),
				zap.String("reason", string(res.Reason)))
		}
		records = append(records, record)
	}

	return e.appendRecords(ctx, records)
}

// appendRecords writes outcome records to the conversion log. Dry runs
// write nothing: the next real run sees these events as unsent.
func (e *Engine) appendRecords(ctx context.Context, records []domain.LogRecord) error {
	if e.opts.DryRun || len(records) == 0 {
		return nil
	}
	n, err := e.clog.Append(ctx, records)
	if err != nil {
		return fmt.Errorf("failed to append conversion log records: %w", err)
	}
	e.log.Debug("Conversion log records appended", zap.Int("count", n))
	return nil
}

func (e *Engine) buildConversion(event domain.ConversionEvent, platform domain.Platform) uploader.Conversion {
	actionName := e.actions.GoogleAction(event.EventType)
	if platform == domain.PlatformMicrosoftAds {
		actionName = e.actions.MicrosoftGoal(event.EventType)
	}

	conv := uploader.Conversion{
		EventID:    event.EventID,
		EventType:  event.EventType,
		ClickID:    event.ClickID(platform),
		ActionName: actionName,
		Value:      event.Value,
		Currency:   e.opts.CurrencyCode,
		OccurredAt: event.OccurredAt,
		OrderID:    event.EventID,
	}
	if e.opts.EnhancedConversions {
		conv.HashedEmail = hashing.NormalizeAndHashEmail(event.Email)
		conv.HashedFirstName = hashing.NormalizeAndHashName(event.FirstName)
		conv.HashedLastName = hashing.NormalizeAndHashName(event.LastName)
		conv.City = event.City
		conv.State = event.State
		conv.CountryCode = event.Country
		conv.PostalCode = event.ZipCode
	}
	return conv
}

func failureMessage(res uploader.Result) string {
	if res.Reason == uploader.ReasonNone {
		return res.Message
	}
	return fmt.Sprintf("%s: %s", res.Reason, res.Message)
}
