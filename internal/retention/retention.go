// Package retention deletes raw audio older than the retention window.
//
// Only the audio collection is ever touched; analysis records are kept
// indefinitely. Sweeping is idempotent: a second sweep at the same instant
// finds nothing to delete.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/yamnet/internal/query"
	"github.com/roach88/yamnet/internal/store"
)

// DefaultWindow is how long raw audio is kept.
const DefaultWindow = 24 * time.Hour

// Records is the part of the store the sweeper needs.
type Records interface {
	Address(c store.Collection) store.Address
	Count(ctx context.Context, addr store.Address, filter query.Predicate) (int64, error)
	Delete(ctx context.Context, addr store.Address, filter query.Predicate) (int64, error)
}

// Policy is the retention configuration in force for one sweep.
type Policy struct {
	Enabled bool
	Window  time.Duration
}

// Report describes one sweep.
type Report struct {
	Cutoff  time.Time
	Matched int64
	Deleted int64
	// Skipped is set when retention was disabled and nothing was examined.
	Skipped bool
}

// Sweeper removes expired audio records.
type Sweeper struct {
	records  Records
	policy   func() Policy
	now      func() time.Time
	logger   *slog.Logger
	observer func(Report)
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock replaces time.Now for Run.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithObserver registers fn to receive a Report after every sweep,
// including skipped ones.
func WithObserver(fn func(Report)) Option {
	return func(s *Sweeper) { s.observer = fn }
}

// New creates a Sweeper. policy is consulted on every sweep so that
// settings changes take effect without a restart.
func New(records Records, policy func() Policy, opts ...Option) *Sweeper {
	s := &Sweeper{
		records: records,
		policy:  policy,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps with the current time and the policy's window. It is the
// retention job's entry point.
func (s *Sweeper) Run(ctx context.Context) error {
	p := s.policy()
	window := p.Window
	if window <= 0 {
		window = DefaultWindow
	}
	_, err := s.Sweep(ctx, s.now(), window)
	return err
}

// Sweep deletes every audio record with timestamp < now - window and
// returns how many were deleted. It returns 0 without touching the store
// when retention is disabled, and issues no delete when nothing matches.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	cutoff := now.Add(-window)
	report := Report{Cutoff: cutoff}
	defer func() {
		if s.observer != nil {
			s.observer(report)
		}
	}()

	if !s.policy().Enabled {
		report.Skipped = true
		s.logger.Debug("retention disabled, sweep skipped")
		return 0, nil
	}

	addr := s.records.Address(store.Audio)
	filter := query.Lt(store.ColTimestamp, cutoff.UnixMilli())

	matched, err := s.records.Count(ctx, addr, filter)
	if err != nil {
		return 0, fmt.Errorf("count expired audio: %w", err)
	}
	report.Matched = matched

	s.logger.Info("retention sweep",
		"cutoff", cutoff.UnixMilli(),
		"window", window,
		"expired", matched)

	if matched == 0 {
		return 0, nil
	}

	deleted, err := s.records.Delete(ctx, addr, filter)
	if err != nil {
		return 0, fmt.Errorf("delete expired audio: %w", err)
	}
	report.Deleted = deleted

	s.logger.Info("expired audio deleted", "deleted", deleted)
	return deleted, nil
}
