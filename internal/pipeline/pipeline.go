// Package pipeline runs one sampling cycle: capture audio, classify it,
// persist the analysis and the raw audio, and optionally export a WAV file.
//
// Each stage runs strictly after the previous one. A capture failure ends
// the cycle with nothing written; a classification failure still persists
// an error analysis together with the audio.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/yamnet/internal/capture"
	"github.com/roach88/yamnet/internal/classify"
	"github.com/roach88/yamnet/internal/export"
	"github.com/roach88/yamnet/internal/store"
)

// State is the stage a cycle is in.
type State int32

const (
	Idle State = iota
	Capturing
	Classifying
	Persisting
	Exporting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Classifying:
		return "classifying"
	case Persisting:
		return "persisting"
	case Exporting:
		return "exporting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome summarizes how a cycle ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomeClassifyError means the audio and an error analysis were stored.
	OutcomeClassifyError Outcome = "classify_error"
	OutcomeCaptureFailed Outcome = "capture_failed"
	OutcomePersistFailed Outcome = "persist_failed"
	// OutcomeSkipped means the sampler was disabled.
	OutcomeSkipped Outcome = "skipped"
)

// Capturer records audio. Implemented by capture.Recorder.
type Capturer interface {
	Capture(ctx context.Context, durationMS int) (capture.Recording, error)
}

// Classifier labels audio. Implemented by classify.Classifier.
type Classifier interface {
	Classify(ctx context.Context, pcm []byte, topK int) (classify.Result, error)
}

// Records persists cycle output. Implemented by store.Store.
type Records interface {
	InsertAnalysis(ctx context.Context, rec store.AnalysisRecord) (int64, error)
	InsertAudio(ctx context.Context, rec store.AudioRecord) (int64, error)
}

// IDGenerator produces cycle ids for log correlation.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable cycle ids.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Settings are read at the start of every cycle.
type Settings struct {
	// Enabled is the sampler status flag; Run does nothing when false.
	Enabled    bool
	DurationMS int
	TopK       int
	DeviceID   string
	// SaveAudioFiles enables the per-cycle WAV file under ExportRoot.
	SaveAudioFiles bool
	// ExportRoot defaults to export.DefaultRoot.
	ExportRoot string
}

// CycleReport describes one completed (or abandoned) cycle.
type CycleReport struct {
	CycleID   string
	Outcome   Outcome
	Timestamp time.Time
	DeviceID  string
	// DurationMS is the requested capture duration.
	DurationMS  int
	AudioBytes  int
	TimedOut    bool
	Predictions []classify.Prediction
	// Results is the stored analysis_results document.
	Results    string
	AnalysisID int64
	AudioID    int64
	ExportPath string
	// Err is the error that ended or degraded the cycle: the capture or
	// persist error, or the classification error that was recorded.
	Err     error
	Elapsed time.Duration
}

// Pipeline wires the cycle stages together. Run is not reentrant; the
// scheduler guarantees one cycle at a time.
type Pipeline struct {
	capturer   Capturer
	classifier Classifier
	records    Records
	settings   func() Settings

	ids      IDGenerator
	now      func() time.Time
	logger   *slog.Logger
	observer func(CycleReport)
	onState  func(State)

	state atomic.Int32
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIDGenerator replaces the UUIDv7 cycle id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) { p.ids = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithObserver registers fn to receive a report after every cycle.
func WithObserver(fn func(CycleReport)) Option {
	return func(p *Pipeline) { p.observer = fn }
}

// WithStateHook registers fn to be called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(p *Pipeline) { p.onState = fn }
}

// New creates a Pipeline.
func New(c Capturer, cl Classifier, r Records, settings func() Settings, opts ...Option) *Pipeline {
	p := &Pipeline{
		capturer:   c,
		classifier: cl,
		records:    r,
		settings:   settings,
		ids:        UUIDv7Generator{},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the stage the current cycle is in.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Run executes one cycle. It returns an error only when nothing (or not
// everything) could be persisted; classification and export failures are
// recorded and logged but do not fail the cycle.
func (p *Pipeline) Run(ctx context.Context) error {
	cfg := p.settings()
	report := CycleReport{
		CycleID:    p.ids.Generate(),
		DeviceID:   cfg.DeviceID,
		DurationMS: cfg.DurationMS,
	}
	start := p.now()
	log := p.logger.With("cycle", report.CycleID)

	defer func() {
		p.setState(Idle)
		report.Elapsed = p.now().Sub(start)
		if p.observer != nil {
			p.observer(report)
		}
	}()

	if !cfg.Enabled {
		report.Outcome = OutcomeSkipped
		log.Debug("sampler disabled, cycle skipped")
		return nil
	}

	p.setState(Capturing)
	rec, err := p.capturer.Capture(ctx, cfg.DurationMS)
	if err != nil {
		report.Outcome = OutcomeCaptureFailed
		report.Err = err
		log.Error("capture failed, cycle aborted", "error", err)
		return fmt.Errorf("capture: %w", err)
	}
	report.AudioBytes = len(rec.PCM)
	report.TimedOut = rec.TimedOut

	ts := rec.Finished
	if ts.IsZero() {
		ts = p.now()
	}
	report.Timestamp = ts

	p.setState(Classifying)
	report.Outcome = OutcomeSuccess
	results, preds, classifyErr := p.classify(ctx, rec.PCM, cfg.TopK)
	if classifyErr != nil {
		report.Outcome = OutcomeClassifyError
		report.Err = classifyErr
		log.Warn("classification failed, storing error analysis", "error", classifyErr)
	}
	report.Results = results
	report.Predictions = preds

	p.setState(Persisting)
	if err := p.persist(ctx, &report, rec.PCM); err != nil {
		report.Outcome = OutcomePersistFailed
		report.Err = err
		log.Error("persist failed", "error", err)
		return err
	}

	if cfg.SaveAudioFiles {
		root := cfg.ExportRoot
		if root == "" {
			root = export.DefaultRoot
		}
		p.setState(Exporting)
		path, err := export.WriteCycleFile(root, ts, rec.PCM, rec.SampleRate)
		if err != nil {
			log.Warn("audio file export failed", "error", err)
		} else {
			report.ExportPath = path
		}
	}

	log.Info("cycle complete",
		"outcome", report.Outcome,
		"timestamp", ts.UnixMilli(),
		"bytes", report.AudioBytes,
		"timed_out", report.TimedOut,
		"predictions", len(report.Predictions))
	return nil
}

// classify returns the results document to store. err is the
// classification (or encoding) failure that the document records.
func (p *Pipeline) classify(ctx context.Context, pcm []byte, topK int) (string, []classify.Prediction, error) {
	if topK <= 0 {
		topK = classify.DefaultTopK
	}
	res, err := p.classifier.Classify(ctx, pcm, topK)
	if err != nil {
		return ErrorResults(err), nil, err
	}
	doc, err := SuccessResults(p.now().UnixMilli(), res.Predictions)
	if err != nil {
		return ErrorResults(err), nil, err
	}
	return doc, res.Predictions, nil
}

func (p *Pipeline) persist(ctx context.Context, report *CycleReport, pcm []byte) error {
	ts := report.Timestamp.UnixMilli()

	id, err := p.records.InsertAnalysis(ctx, store.AnalysisRecord{
		Timestamp:  ts,
		DeviceID:   report.DeviceID,
		DurationMS: int64(report.DurationMS),
		Results:    report.Results,
	})
	if err != nil {
		return fmt.Errorf("persist analysis: %w", err)
	}
	if id == store.NoRow {
		p.logger.Warn("analysis already recorded for timestamp", "timestamp", ts, "device", report.DeviceID)
	}
	report.AnalysisID = id

	id, err = p.records.InsertAudio(ctx, store.AudioRecord{
		Timestamp:  ts,
		DeviceID:   report.DeviceID,
		DurationMS: int64(report.DurationMS),
		RawAudio:   pcm,
	})
	if err != nil {
		return fmt.Errorf("persist audio: %w", err)
	}
	report.AudioID = id
	return nil
}

func (p *Pipeline) setState(s State) {
	if State(p.state.Swap(int32(s))) == s {
		return
	}
	if p.onState != nil {
		p.onState(s)
	}
}
