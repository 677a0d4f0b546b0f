// Package schedule runs periodic jobs, one worker per job.
//
// Each job has its own queue, so jobs overlap freely with each other but a
// job never overlaps with itself. Ticks that arrive while the job is still
// running are coalesced into a single pending run.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownJob is returned by Trigger for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// Job is a periodic task.
type Job struct {
	Name string
	// Interval is consulted after every tick, so a settings change takes
	// effect from the next period on.
	Interval func() time.Duration
	Run      func(ctx context.Context) error
	// Immediate runs the job once at start instead of waiting one interval.
	Immediate bool
}

// Every returns a fixed Interval.
func Every(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

// Report describes one job run.
type Report struct {
	Job      string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Scheduler owns the jobs and their queues.
type Scheduler struct {
	jobs     []Job
	queues   map[string]*jobQueue
	logger   *slog.Logger
	now      func() time.Time
	observer func(Report)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock replaces time.Now for run reports.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithObserver registers fn to receive a Report after every run.
func WithObserver(fn func(Report)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// New creates a Scheduler for jobs. Job names must be unique.
func New(jobs []Job, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		queues: make(map[string]*jobQueue, len(jobs)),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil || j.Interval == nil {
			return nil, fmt.Errorf("job %q: name, interval and run are required", j.Name)
		}
		if _, dup := s.queues[j.Name]; dup {
			return nil, fmt.Errorf("job %q: duplicate name", j.Name)
		}
		s.queues[j.Name] = newJobQueue()
		s.jobs = append(s.jobs, j)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Trigger requests an immediate run of the named job. It reports whether
// a new run was queued; false means one was already pending.
func (s *Scheduler) Trigger(name string) (bool, error) {
	q, ok := s.queues[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return q.Trigger(), nil
}

// Run starts a ticker and a worker per job and blocks until ctx is
// cancelled. In-flight runs see the cancelled context and are waited for.
// Job failures are logged and reported but never stop the scheduler.
// Run may be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, j := range s.jobs {
		q := s.queues[j.Name]
		if j.Immediate {
			q.Trigger()
		}
		g.Go(func() error { return s.tick(ctx, j, q) })
		g.Go(func() error { return s.work(ctx, j, q) })
	}

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) tick(ctx context.Context, j Job, q *jobQueue) error {
	timer := time.NewTimer(s.interval(j))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			q.Close()
			return nil
		case <-timer.C:
			if !q.Trigger() {
				s.logger.Debug("job still running, tick coalesced", "job", j.Name)
			}
			timer.Reset(s.interval(j))
		}
	}
}

func (s *Scheduler) work(ctx context.Context, j Job, q *jobQueue) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, open := <-q.Wait():
			if !open {
				return nil
			}
			if q.TryTake() {
				s.runOnce(ctx, j)
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	report := Report{Job: j.Name, Started: s.now()}
	defer func() {
		if r := recover(); r != nil {
			report.Err = fmt.Errorf("job panicked: %v", r)
		}
		report.Duration = s.now().Sub(report.Started)
		if report.Err != nil {
			s.logger.Error("job failed", "job", j.Name, "error", report.Err, "duration", report.Duration)
		} else {
			s.logger.Debug("job finished", "job", j.Name, "duration", report.Duration)
		}
		if s.observer != nil {
			s.observer(report)
		}
	}()

	report.Err = j.Run(ctx)
}

func (s *Scheduler) interval(j Job) time.Duration {
	d := j.Interval()
	if d <= 0 {
		s.logger.Warn("non-positive job interval, using one minute", "job", j.Name, "interval", d)
		d = time.Minute
	}
	return d
}
