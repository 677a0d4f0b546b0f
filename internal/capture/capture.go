// Package capture records fixed-duration slices of 16-bit mono PCM from an
// audio input device.
//
// A capture is bounded twice: the device must report ready within the
// ready timeout, and reading stops at the hard deadline (target duration
// plus a grace period) even if fewer bytes than requested have arrived.
// A deadline breach is not an error; the caller gets the partial buffer
// and Recording.TimedOut is set.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultSampleRate is the sample rate the classifier expects.
	DefaultSampleRate = 16000

	// BytesPerSample for 16-bit mono PCM.
	BytesPerSample = 2

	DefaultReadyTimeout = 2 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
	DefaultGrace        = time.Second
)

// ErrDeviceUnavailable is returned when the input device cannot be opened,
// started, or does not become ready in time.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Device is a 16-bit little-endian mono PCM input.
//
// Within a single Capture call a Recorder drives a Device through a trial
// Open, Start, Stop, Close and then Open, Start, Read..., Stop, Close. It
// never shares the device across calls.
type Device interface {
	// MinBufferSize is the smallest streaming buffer in bytes the device
	// accepts at sampleRate.
	MinBufferSize(sampleRate int) (int, error)
	Open(sampleRate, bufferSize int) error
	// Ready reports whether the opened device finished initializing.
	Ready() bool
	Start() error
	// Read fills p with up to len(p) bytes. A zero-byte read without error
	// means no data was available yet.
	Read(p []byte) (int, error)
	Stop() error
	Close() error
}

// Recording is the result of one Capture call.
type Recording struct {
	PCM        []byte
	SampleRate int
	// TargetBytes is the byte count that was requested.
	TargetBytes int
	// TimedOut is set when the hard deadline cut the capture short.
	TimedOut bool
	Started  time.Time
	Finished time.Time
}

// Complete reports whether the full requested duration was captured.
func (r Recording) Complete() bool {
	return len(r.PCM) >= r.TargetBytes
}

// Recorder captures audio from a Device.
type Recorder struct {
	dev          Device
	sampleRate   int
	readyTimeout time.Duration
	pollInterval time.Duration
	grace        time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithSampleRate overrides DefaultSampleRate.
func WithSampleRate(hz int) Option {
	return func(r *Recorder) { r.sampleRate = hz }
}

// WithReadyTimeout bounds how long Capture waits for the device to report ready.
func WithReadyTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.readyTimeout = d }
}

// WithPollInterval sets how often readiness is polled.
func WithPollInterval(d time.Duration) Option {
	return func(r *Recorder) { r.pollInterval = d }
}

// WithGrace sets how far past the target duration reading may run.
func WithGrace(d time.Duration) Option {
	return func(r *Recorder) { r.grace = d }
}

// WithClock replaces time.Now for deadline accounting.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a Recorder for dev.
func NewRecorder(dev Device, opts ...Option) *Recorder {
	r := &Recorder{
		dev:          dev,
		sampleRate:   DefaultSampleRate,
		readyTimeout: DefaultReadyTimeout,
		pollInterval: DefaultPollInterval,
		grace:        DefaultGrace,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SampleRate returns the rate the recorder captures at.
func (r *Recorder) SampleRate() int {
	return r.sampleRate
}

// TargetBytes returns the byte count of durationMS of 16-bit mono audio at
// sampleRate.
func TargetBytes(sampleRate, durationMS int) int {
	return sampleRate * BytesPerSample * durationMS / 1000
}

// BufferSize returns the streaming buffer size for a capture: the device
// minimum, raised to hold the whole target if that is larger.
func BufferSize(deviceMin, target int) int {
	return max(deviceMin, target)
}

// Probe runs a trial open, start, stop cycle and reports whether the device
// is usable. Failures wrap ErrDeviceUnavailable.
func (r *Recorder) Probe(ctx context.Context) error {
	minBuf, err := r.dev.MinBufferSize(r.sampleRate)
	if err != nil {
		return fmt.Errorf("%w: min buffer size: %v", ErrDeviceUnavailable, err)
	}
	if err := r.dev.Open(r.sampleRate, minBuf); err != nil {
		return fmt.Errorf("%w: open: %v", ErrDeviceUnavailable, err)
	}
	defer r.release()

	if err := r.waitReady(ctx); err != nil {
		return err
	}
	if err := r.dev.Start(); err != nil {
		return fmt.Errorf("%w: start: %v", ErrDeviceUnavailable, err)
	}
	if err := r.dev.Stop(); err != nil {
		return fmt.Errorf("%w: stop: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

// Capture records durationMS milliseconds of audio.
//
// Every call starts with a Probe; a device that fails the trial cycle is
// reported as ErrDeviceUnavailable before the capture session is opened.
// It returns as soon as the target byte count is reached. If the hard
// deadline (durationMS plus the grace period) passes first, it returns
// whatever was read with TimedOut set and a nil error. If ctx is cancelled
// between reads, the partial recording is returned together with ctx.Err().
// The device is stopped and closed on every return path.
func (r *Recorder) Capture(ctx context.Context, durationMS int) (Recording, error) {
	if durationMS <= 0 {
		return Recording{}, fmt.Errorf("capture: duration must be positive, got %dms", durationMS)
	}

	if err := r.Probe(ctx); err != nil {
		return Recording{}, err
	}

	target := TargetBytes(r.sampleRate, durationMS)
	minBuf, err := r.dev.MinBufferSize(r.sampleRate)
	if err != nil {
		return Recording{}, fmt.Errorf("%w: min buffer size: %v", ErrDeviceUnavailable, err)
	}
	bufSize := BufferSize(minBuf, target)

	if err := r.dev.Open(r.sampleRate, bufSize); err != nil {
		return Recording{}, fmt.Errorf("%w: open: %v", ErrDeviceUnavailable, err)
	}
	defer r.release()

	if err := r.waitReady(ctx); err != nil {
		return Recording{}, err
	}

	if err := r.dev.Start(); err != nil {
		return Recording{}, fmt.Errorf("%w: start: %v", ErrDeviceUnavailable, err)
	}
	started := r.now()
	defer func() {
		if stopErr := r.dev.Stop(); stopErr != nil {
			r.logger.Warn("failed to stop audio device", "error", stopErr)
		}
	}()

	r.logger.Debug("capture started",
		"duration_ms", durationMS,
		"sample_rate", r.sampleRate,
		"target_bytes", target,
		"buffer_bytes", bufSize)

	deadline := started.Add(time.Duration(durationMS)*time.Millisecond + r.grace)
	rec := Recording{SampleRate: r.sampleRate, TargetBytes: target, Started: started}

	var out bytes.Buffer
	out.Grow(target)
	buf := make([]byte, bufSize)
	readErrors := 0

	for out.Len() < target {
		if ctxErr := ctx.Err(); ctxErr != nil {
			rec.PCM = out.Bytes()
			rec.Finished = r.now()
			return rec, ctxErr
		}

		n, readErr := r.dev.Read(buf[:min(len(buf), target-out.Len())])
		if n > 0 {
			out.Write(buf[:n])
		}
		if readErr != nil {
			readErrors++
			r.logger.Debug("audio read failed", "error", readErr, "read_errors", readErrors)
		}

		if out.Len() < target && r.now().After(deadline) {
			rec.TimedOut = true
			r.logger.Warn("capture deadline reached",
				"captured_bytes", out.Len(),
				"target_bytes", target,
				"read_errors", readErrors)
			break
		}
		if n == 0 {
			r.backoff(ctx)
		}
	}

	rec.PCM = out.Bytes()
	rec.Finished = r.now()
	r.logger.Debug("capture finished",
		"captured_bytes", len(rec.PCM),
		"elapsed", rec.Finished.Sub(started))
	return rec, nil
}

// backoff sleeps one poll interval after an empty read, or less if ctx
// is cancelled.
func (r *Recorder) backoff(ctx context.Context) {
	t := time.NewTimer(r.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// waitReady polls the device until it reports ready, the ready timeout
// elapses, or ctx is cancelled.
func (r *Recorder) waitReady(ctx context.Context) error {
	if r.dev.Ready() {
		return nil
	}

	timeout := time.NewTimer(r.readyTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("%w: not ready after %s", ErrDeviceUnavailable, r.readyTimeout)
		case <-ticker.C:
			if r.dev.Ready() {
				return nil
			}
		}
	}
}

func (r *Recorder) release() {
	if err := r.dev.Close(); err != nil {
		r.logger.Warn("failed to close audio device", "error", err)
	}
}
