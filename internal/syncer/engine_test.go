package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/config"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/metrics"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/repository"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/uploader"
)

// MockEventSource is a mock implementation of repository.EventSource
type MockEventSource struct {
	mock.Mock
}

func (m *MockEventSource) FetchCandidates(ctx context.Context, pass domain.Pass) ([]repository.Candidate, error) {
	args := m.Called(ctx, pass)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.Candidate), args.Error(1)
}

func (m *MockEventSource) FetchRefunds(ctx context.Context) ([]domain.Refund, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Refund), args.Error(1)
}

// MockConversionLog is a mock implementation of repository.ConversionLog
type MockConversionLog struct {
	mock.Mock
}

func (m *MockConversionLog) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockConversionLog) Append(ctx context.Context, records []domain.LogRecord) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}

func (m *MockConversionLog) AlreadySent(ctx context.Context, platform domain.Platform, eventIDs []string) (map[string]bool, error) {
	args := m.Called(ctx, platform, eventIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

func (m *MockConversionLog) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockUploader is a mock implementation of uploader.Uploader
type MockUploader struct {
	mock.Mock
	platform domain.Platform
}

func (m *MockUploader) Platform() domain.Platform {
	return m.platform
}

func (m *MockUploader) UploadConversions(ctx context.Context, conversions []uploader.Conversion) []uploader.Result {
	args := m.Called(ctx, conversions)
	return args.Get(0).([]uploader.Result)
}

func (m *MockUploader) UploadRetractions(ctx context.Context, retractions []uploader.Retraction) []uploader.Result {
	args := m.Called(ctx, retractions)
	return args.Get(0).([]uploader.Result)
}

func testActions() config.ActionMap {
	return config.ActionMap{
		domain.EventTypeTrialStart:          {GoogleAction: "Trial Start DWH", MicrosoftGoal: "UET Trial Start"},
		domain.EventTypeMonthlySubscription: {GoogleAction: "Monthly Subscription DWH", MicrosoftGoal: "UET Monthly Subscription"},
		domain.EventTypeYearlySubscription:  {GoogleAction: "Yearly Subscription DWH", MicrosoftGoal: "UET Yearly Subscription"},
		domain.EventTypeDocumentPurchase:    {GoogleAction: "Document Purchase DWH", MicrosoftGoal: "UET Document Purchase"},
		domain.EventTypeChatPurchase:        {GoogleAction: "Chat Purchase DWH", MicrosoftGoal: "UET Chat Purchase"},
	}
}

func passMatcher(label string) interface{} {
	return mock.MatchedBy(func(p domain.Pass) bool { return p.Label == label })
}

func otherPasses(label string) interface{} {
	return mock.MatchedBy(func(p domain.Pass) bool { return p.Label != label })
}

func trialCandidate(eventID, gclid, msclkid string) repository.Candidate {
	return repository.Candidate{
		Event: domain.ConversionEvent{
			EventID:    eventID,
			EventType:  domain.EventTypeTrialStart,
			UserID:     "user-1",
			OccurredAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
			GCLID:      gclid,
			MSCLKID:    msclkid,
		},
		GoogleEligible:    gclid != "",
		MicrosoftEligible: msclkid != "",
	}
}

func okResults(eventIDs ...string) []uploader.Result {
	results := make([]uploader.Result, len(eventIDs))
	for i, id := range eventIDs {
		results[i] = uploader.Result{EventID: id, OK: true, Message: "OK"}
	}
	return results
}

func newTestEngine(source *MockEventSource, clog *MockConversionLog, google, microsoft *MockUploader, opts Options) *Engine {
	if opts.RunID == "" {
		opts.RunID = "run-test"
	}
	if opts.CurrencyCode == "" {
		opts.CurrencyCode = "USD"
	}
	return New(source, clog,
		[]uploader.Uploader{google, microsoft},
		testActions(), opts, metrics.New(), zap.NewNop())
}

func TestEngine_Run_BothPlatformsGetOwnRecord(t *testing.T) {
	source := new(MockEventSource)
	clog := new(MockConversionLog)
	google := &MockUploader{platform: domain.PlatformGoogleAds}
	microsoft := &MockUploader{platform: domain.PlatformMicrosoftAds}

	clog.On("InitSchema", mock.Anything).Return(nil)
	source.On("FetchCandidates", mock.Anything, passMatcher("Trial Starts")).
		Return([]repository.Candidate{trialCandidate("ev1", "gclid-1", "msclkid-1")}, nil)
	source.On("FetchCandidates", mock.Anything, otherPasses("Trial Starts")).
		Return([]repository.Candidate{}, nil)
	source.On("FetchRefunds", mock.Anything).Return([]domain.Refund{}, nil)
	clog.On("AlreadySent", mock.Anything, mock.Anything, []string{"ev1"}).
		Return(map[string]bool{}, nil)

	google.On("UploadConversions", mock.Anything, mock.Anything).Return(okResults("ev1"))
	microsoft.On("UploadConversions", mock.Anything, mock.Anything).Return(okResults("ev1"))

	var appended []domain.LogRecord
	clog.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		appended = append(appended, args.Get(1).([]domain.LogRecord)...)
	}).Return(1, nil)

	engine := newTestEngine(source, clog, google, microsoft, Options{})
	summary, err := engine.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Platforms[domain.PlatformGoogleAds].Sent)
	assert.Equal(t, 1, summary.Platforms[domain.PlatformMicrosoftAds].Sent)
	assert.Len(t, appended, 2)

	platforms := map[domain.Platform]domain.LogRecord{}
	for _, r := range appended {
		platforms[r.Platform] = r
	}
	assert.Equal(t, domain.StatusSent, platforms[domain.PlatformGoogleAds].Status)
	assert.Equal(t, "gclid-1", platforms[domain.PlatformGoogleAds].ClickID)
	assert.Equal(t, "Trial Start DWH", platforms[domain.PlatformGoogleAds].ConversionAction)
	assert.Equal(t, "msclkid-1", platforms[domain.PlatformMicrosoftAds].ClickID)
	assert.Equal(t, "UET Trial Start", platforms[domain.PlatformMicrosoftAds].ConversionAction)
	assert.Equal(t, "run-test", platforms[domain.PlatformGoogleAds].RunID)
	google.AssertExpectations(t)
	microsoft.AssertExpectations(t)
}

func TestEngine_Run_SingleClickIDOnlyOnePlatform(t *testing.T) {
	source := new(MockEventSource)
	clog := new(MockConversionLog)
	google := &MockUploader{platform: domain.PlatformGoogleAds}
	microsoft := &MockUploader{platform: domain.PlatformMicrosoftAds}

	clog.On("InitSchema", mock.Anything).Return(nil)
	source.On("FetchCandidates", mock.Anything, passMatcher("Trial Starts")).
		Return([]repository.Candidate{trialCandidate("ev1", "gclid-1", "")}, nil)
	source.On("FetchCandidates", mock.Anything, otherPasses("Trial Starts")).
		Return([]repository.Candidate{}, nil)
	source.On("FetchRefunds", mock.Anything).Return([]domain.Refund{}, nil)
	clog.On("AlreadySent", mock.Anything, domain.PlatformGoogleAds, []string{"ev1"}).
		Return(map[string]bool{}, nil)
	google.On("UploadConversions", mock.Anything, mock.Anything).Return(okResults("ev1"))
	clog.On("Append", mock.Anything, mock.Anything).Return(1, nil)

	engine := newTestEngine(source, clog, google, microsoft, Options{})
	summary, err := engine.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Platforms[domain.PlatformGoogleAds].Sent)
	assert.Equal(t, 0, summary.Platforms[domain.PlatformMicrosoftAds].Sent)
	microsoft.AssertNotCalled(t, "UploadConversions")
}

func TestEngine_Run_DuplicateGuardSkipsSentEvents(t *testing.T) {
	source := new(MockEventSource)
	clog := new(MockConversionLog)
	google := &MockUploader{platform: domain.PlatformGoogleAds}
	microsoft := &MockUploader{platform: domain.PlatformMicrosoftAds}

	clog.On("InitSchema", mock.Anything).Return(nil)
	source.On("FetchCandidates", mock.Anything, passMatcher("Trial Starts")).
		Return([]repository.Candidate{trialCandidate("ev1", "gclid-1", "")}, nil)
	source.On("FetchCandidates", mock.Anything, otherPasses("Trial Starts")).
		Return([]repository.Candidate{}, nil)
	source.On("FetchRefunds", mock.Anything).Return([]domain.Refund{}, nil)

	// Another run sent ev1 between the candidate query and dispatch.
	clog.On("AlreadySent", mock.Anything, domain.PlatformGoogleAds, []string{"ev1"}).
		Return(map[string]bool{"ev1": true}, nil)

	engine := newTestEngine(source, clog, google, microsoft, Options{})
	summary, err := engine.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, summary.Platforms[domain.PlatformGoogleAds].Sent)
	google.AssertNotCalled(t, "UploadConversions")
	clog.AssertNotCalled(t, "Append")
}

func TestEngine_Run_FailureRecordedNotDropped(t *testing.T) {
	source := new(MockEventSource)
	clog := new(MockConversionLog)
	google := &MockUploader{platform: domain.PlatformGoogleAds}
	microsoft := &MockUploader{platform: domain.PlatformMicrosoftAds}

	clog.On("InitSchema", mock.Anything).Return(nil)
	source.On("FetchCandidates", mock.Anything, passMatcher("Trial Starts")).
		Return([]repository.Candidate{trialCandidate("ev1", "gclid-1", "")}, nil)
	source.On("FetchCandidates", mock.Anything, otherPasses("Trial Starts")).
		Return([]repository.Candidate{}, nil)
	source.On("FetchRefunds", mock.Anything).Return([]domain.Refund{}, nil)
	clog.On("AlreadySent", mock.Anything, domain.PlatformGoogleAds, []string{"ev1"}).
		Return(map[string]bool{}, nil)

	google.On("UploadConversions", mock.Anything, mock.Anything).Return([]uploader.Result{
		{EventID: "ev1", Reason: uploader.ReasonExpiredClick, Message: "click too old"},
	})

	var appended []domain.LogRecord
	clog.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		appended = append(appended, args.Get(1).([]domain.LogRecord)...)
	}).Return(1, nil)

	engine := newTestEngine(source, clog, google, microsoft, Options{})
	summary, err := engine.Run(context.Background())

	// A per-record rejection is an outcome, not a run failure.
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Platforms[domain.PlatformGoogleAds].Failed)
	assert.Len(t, appended, 1)
	assert.Equal(t, domain.StatusFailed, appended[0].Status)
	assert.Contains(t, appended[0].ErrorMessage, "expired_click")
	assert.Contains(t, appended[0].ErrorMessage, "click too old")
}

func TestEngine_Run_PassFailureDoesNotStopOtherPasses(t *testing.T) {
	source := new(MockEventSource)
	clog := new(MockConversionLog)
	google := &MockUploader{platform: domain.PlatformGoogleAds}
	microsoft := &MockUploader{platform: domain.PlatformMicrosoftAds}

	clog.On("InitSchema", mock.Anything).Return(nil)
	source.On("FetchCandidates", mock.Anything, passMatcher("Trial Starts")).
		Return(nil, errors.New("warehouse timeout"))
	source.On("FetchCandidates", mock.Anything, otherPasses("Trial Starts")).
		Return([]repository.Candidate{}, nil)
	source.On("FetchRefunds", mock.Anything).Return([]domain.Refund{}, nil)

	engine := newTestEngine(source, clog, google, microsoft, Options{})
	_, err := engine.Run(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Trial Starts pass")
	assert.Contains(t, err.Error(), "warehouse timeout")
	// The remaining passes still ran.
	source.AssertNumberOfCalls(t, "FetchCandidates", 4)
	source.AssertCalled(t, "FetchRefunds", mock.Anything)
}

func TestEngine_Run_RefundRetraction(t *testing.T) {
	source := new(MockEventSource)
	clog := new(MockConversionLog)
	google := &MockUploader{platform: domain.PlatformGoogleAds}
	microsoft := &MockUploader{platform: domain.PlatformMicrosoftAds}

	refund := domain.Refund{
		EventID:          "refund-1",
		UserID:           "user-1",
		RefundedAt:       time.Date(2026, 8, 22, 9, 0, 0, 0, time.UTC),
		Value:            -49.90,
		OriginalEventID:  "ev1",
		Platform:         domain.PlatformGoogleAds,
		ClickID:          "gclid-1",
		OriginalTime:     time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		OriginalAction:   "Document Purchase DWH",
		OriginalCurrency: "EUR",
	}

	clog.On("InitSchema", mock.Anything).Return(nil)
	source.On("FetchCandidates", mock.Anything, mock.Anything).Return([]repository.Candidate{}, nil)
	source.On("FetchRefunds", mock.Anything).Return([]domain.Refund{refund}, nil)
	clog.On("AlreadySent", mock.Anything, domain.PlatformGoogleAds, []string{"refund-1"}).
		Return(map[string]bool{}, nil)

	var uploaded []uploader.Retraction
	google.On("UploadRetractions", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		uploaded = args.Get(1).([]uploader.Retraction)
	}).Return(okResults("refund-1"))

	var appended []domain.LogRecord
	clog.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		appended = append(appended, args.Get(1).([]domain.LogRecord)...)
	}).Return(1, nil)

	engine := newTestEngine(source, clog, google, microsoft, Options{})
	summary, err := engine.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Platforms[domain.PlatformGoogleAds].Retracted)
	microsoft.AssertNotCalled(t, "UploadRetractions")

	assert.Len(t, uploaded, 1)
	assert.Equal(t, "ev1", uploaded[0].OriginalEventID)
	assert.Equal(t, "Document Purchase DWH", uploaded[0].ActionName)
	assert.Equal(t, "EUR", uploaded[0].Currency)

	assert.Len(t, appended, 1)
	assert.Equal(t, domain.EventTypeRefund, appended[0].EventType)
	assert.Equal(t, domain.StatusSent, appended[0].Status)
	assert.Equal(t, "ev1", appended[0].OriginalEventID)
	assert.Equal(t, "refund-1", appended[0].EventID)
}

func TestEngine_Run_DryRunWritesNothing(t *testing.T) {
	source := new(MockEventSource)
	clog := new(MockConversionLog)
	google := &MockUploader{platform: domain.PlatformGoogleAds}
	microsoft := &MockUploader{platform: domain.PlatformMicrosoftAds}

	clog.On("InitSchema", mock.Anything).Return(nil)
	source.On("FetchCandidates", mock.Anything, passMatcher("Trial Starts")).
		Return([]repository.Candidate{trialCandidate("ev1", "gclid-1", "")}, nil)
	source.On("FetchCandidates", mock.Anything, otherPasses("Trial Starts")).
		Return([]repository.Candidate{}, nil)
	source.On("FetchRefunds", mock.Anything).Return([]domain.Refund{}, nil)
	clog.On("AlreadySent", mock.Anything, domain.PlatformGoogleAds, []string{"ev1"}).
		Return(map[string]bool{}, nil)
	google.On("UploadConversions", mock.Anything, mock.Anything).Return(okResults("ev1"))

	engine := newTestEngine(source, clog, google, microsoft, Options{DryRun: true})
	summary, err := engine.Run(context.Background())

	assert.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Platforms[domain.PlatformGoogleAds].Sent)
	clog.AssertNotCalled(t, "Append")
}

func TestEngine_Run_AppendFailureIsPassFailure(t *testing.T) {
	source := new(MockEventSource)
	clog := new(MockConversionLog)
	google := &MockUploader{platform: domain.PlatformGoogleAds}
	microsoft := &MockUploader{platform: domain.PlatformMicrosoftAds}

	clog.On("InitSchema", mock.Anything).Return(nil)
	source.On("FetchCandidates", mock.Anything, passMatcher("Trial Starts")).
		Return([]repository.Candidate{trialCandidate("ev1", "gclid-1", "")}, nil)
	source.On("FetchCandidates", mock.Anything, otherPasses("Trial Starts")).
		Return([]repository.Candidate{}, nil)
	source.On("FetchRefunds", mock.Anything).Return([]domain.Refund{}, nil)
	clog.On("AlreadySent", mock.Anything, domain.PlatformGoogleAds, []string{"ev1"}).
		Return(map[string]bool{}, nil)
	google.On("UploadConversions", mock.Anything, mock.Anything).Return(okResults("ev1"))
	clog.On("Append", mock.Anything, mock.Anything).Return(0, errors.New("insert failed"))

	engine := newTestEngine(source, clog, google, microsoft, Options{})
	_, err := engine.Run(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insert failed")
}

func TestEngine_Run_InitSchemaFailureAborts(t *testing.T) {
	source := new(MockEventSource)
	clog := new(MockConversionLog)
	google := &MockUploader{platform: domain.PlatformGoogleAds}
	microsoft := &MockUploader{platform: domain.PlatformMicrosoftAds}

	clog.On("InitSchema", mock.Anything).Return(errors.New("DDL rejected"))

	engine := newTestEngine(source, clog, google, microsoft, Options{})
	_, err := engine.Run(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DDL rejected")
	source.AssertNotCalled(t, "FetchCandidates")
}

func TestEngine_Run_EnhancedConversionsHashed(t *testing.T) {
	source := new(MockEventSource)
	clog := new(MockConversionLog)
	google := &MockUploader{platform: domain.PlatformGoogleAds}
	microsoft := &MockUploader{platform: domain.PlatformMicrosoftAds}

	candidate := trialCandidate("ev1", "gclid-1", "")
	candidate.Event.Email = "John.Doe+promo@gmail.com"
	candidate.Event.FirstName = "John"
	candidate.Event.LastName = "Doe"

	clog.On("InitSchema", mock.Anything).Return(nil)
	source.On("FetchCandidates", mock.Anything, passMatcher("Trial Starts")).
		Return([]repository.Candidate{candidate}, nil)
	source.On("FetchCandidates", mock.Anything, otherPasses("Trial Starts")).
		Return([]repository.Candidate{}, nil)
	source.On("FetchRefunds", mock.Anything).Return([]domain.Refund{}, nil)
	clog.On("AlreadySent", mock.Anything, domain.PlatformGoogleAds, []string{"ev1"}).
		Return(map[string]bool{}, nil)

	var uploaded []uploader.Conversion
	google.On("UploadConversions", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		uploaded = args.Get(1).([]uploader.Conversion)
	}).Return(okResults("ev1"))
	clog.On("Append", mock.Anything, mock.Anything).Return(1, nil)

	engine := newTestEngine(source, clog, google, microsoft, Options{EnhancedConversions: true})
	_, err := engine.Run(context.Background())

	assert.NoError(t, err)
	assert.Len(t, uploaded, 1)
	assert.NotEmpty(t, uploaded[0].HashedEmail)
	assert.NotContains(t, uploaded[0].HashedEmail, "@")
	assert.Len(t, uploaded[0].HashedEmail, 64)
	assert.NotEqual(t, "John", uploaded[0].HashedFirstName)
}
