package services

import (
	"context"
	"fmt"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
)

// Window is one query interval. Start and End are UTC; Location is the
// configured business timezone for query functions that format local dates.
type Window struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// LocalStart returns Start in the window's location
func (w Window) LocalStart() time.Time {
	return w.Start.In(w.location())
}

// LocalEnd returns End in the window's location
func (w Window) LocalEnd() time.Time {
	return w.End.In(w.location())
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// QueryFunc lists the records changed inside a window
type QueryFunc func(ctx context.Context, window Window) ([]models.RawRecord, error)

// WindowPolicy controls how an empty window is widened
type WindowPolicy struct {
	Backoff     time.Duration
	MaxAttempts int
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultWindowPolicy builds the policy from sync configuration
func DefaultWindowPolicy(cfg *config.SyncConfig) *WindowPolicy {
	return &WindowPolicy{
		Backoff:     cfg.Backoff(),
		MaxAttempts: cfg.MaxWidenAttempts,
		Now:         time.Now,
		Sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IncrementalFetcher queries a listing function from a cut date, widening the
// window additively while it comes back empty and still ends before now.
type IncrementalFetcher struct {
	policy   *WindowPolicy
	location *time.Location
	logger   *logger.Logger
}

// NewIncrementalFetcher creates a new incremental fetcher
func NewIncrementalFetcher(policy *WindowPolicy, location *time.Location, logger *logger.Logger) *IncrementalFetcher {
	if policy.Now == nil {
		policy.Now = time.Now
	}
	if policy.Sleep == nil {
		policy.Sleep = sleepContext
	}
	return &IncrementalFetcher{
		policy:   policy,
		location: location,
		logger:   logger,
	}
}

// Fetch runs query from cutDate. windowHours == 0 issues exactly one query
// over cutDate..now. Query errors abort the fetch without partial results.
func (f *IncrementalFetcher) Fetch(ctx context.Context, query QueryFunc, cutDate time.Time, windowHours int) ([]models.RawRecord, error) {
	start := cutDate.UTC()
	step := windowHours
	hours := windowHours

	for attempt := 1; ; attempt++ {
		window := Window{
			Start:    start,
			End:      start.Add(time.Duration(hours) * time.Hour),
			Location: f.location,
		}
		if step == 0 {
			window.End = f.policy.Now().UTC()
		}

		records, err := query(ctx, window)
		if err != nil {
			f.logger.WithError(err).
				WithField("start", window.Start).
				WithField("end", window.End).
				Error("Incremental fetch query failed")
			return nil, fmt.Errorf("query window %s..%s: %w", window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339), err)
		}

		if step == 0 || len(records) > 0 || !window.End.Before(f.policy.Now()) {
			return records, nil
		}

		if f.policy.MaxAttempts > 0 && attempt >= f.policy.MaxAttempts {
			f.logger.WithField("attempts", attempt).
				WithField("window_hours", hours).
				Warn("Widening limit reached without records")
			return records, nil
		}

		hours += step
		f.logger.WithField("window_hours", hours).
			WithField("backoff", f.policy.Backoff).
			Debug("Empty window, widening")

		if err := f.policy.Sleep(ctx, f.policy.Backoff); err != nil {
			return nil, err
		}
	}
}
