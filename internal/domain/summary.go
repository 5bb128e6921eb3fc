package domain

import "time"

// PlatformCounts are the per-platform outcome totals of one run.
type PlatformCounts struct {
	Sent      int `json:"sent"`
	Retracted int `json:"retracted"`
	Failed    int `json:"failed"`
}

// RunSummary aggregates the outcome of a single sync run. It is logged
// at the end of the run and, when configured, published as a
// completion notification.
type RunSummary struct {
	RunID      string                      `json:"run_id"`
	DryRun     bool                        `json:"dry_run"`
	StartedAt  time.Time                   `json:"started_at"`
	FinishedAt time.Time                   `json:"finished_at"`
	Platforms  map[Platform]PlatformCounts `json:"platforms"`
}

// NewRunSummary returns a summary with zeroed counters for every platform.
func NewRunSummary(runID string, dryRun bool, startedAt time.Time) *RunSummary {
	s := &RunSummary{
		RunID:     runID,
		DryRun:    dryRun,
		StartedAt: startedAt,
		Platforms: make(map[Platform]PlatformCounts, len(Platforms())),
	}
	for _, p := range Platforms() {
		s.Platforms[p] = PlatformCounts{}
	}
	return s
}

// AddSent records successful conversion uploads for a platform.
func (s *RunSummary) AddSent(p Platform, n int) {
	c := s.Platforms[p]
	c.Sent += n
	s.Platforms[p] = c
}

// AddRetracted records successful retractions for a platform.
func (s *RunSummary) AddRetracted(p Platform, n int) {
	c := s.Platforms[p]
	c.Retracted += n
	s.Platforms[p] = c
}

// AddFailed records failed submissions for a platform.
func (s *RunSummary) AddFailed(p Platform, n int) {
	c := s.Platforms[p]
	c.Failed += n
	s.Platforms[p] = c
}

// TotalFailed returns the failure count across platforms.
func (s *RunSummary) TotalFailed() int {
	total := 0
	for _, c := range s.Platforms {
		total += c.Failed
	}
	return total
}
