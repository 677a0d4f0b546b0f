// Package classify turns a PCM buffer into a ranked list of sound-event
// classes using a pretrained model.
//
// The model, its manifest, and its label table are loaded lazily on the
// first Classify call and cached for the life of the Classifier. A failed
// load is not cached, so the next call retries. Inference backends live in
// subpackages (see classify/tflite) and plug in through Backend.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultTopK is the number of predictions the pipeline keeps per cycle.
const DefaultTopK = 5

// Model is a loaded inference model.
type Model interface {
	// Infer scores one waveform of samples normalized to [-1, 1).
	Infer(input []float32) ([]float32, error)
	// OutputWidth is the number of classes the model scores.
	OutputWidth() int
	Close() error
}

// Backend loads a model file.
type Backend interface {
	Load(path string, m Manifest) (Model, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(path string, m Manifest) (Model, error)

func (f BackendFunc) Load(path string, m Manifest) (Model, error) { return f(path, m) }

// Result is the outcome of one successful classification.
type Result struct {
	Predictions []Prediction
	// Model is the manifest name of the model that produced the scores.
	Model       string
	OutputWidth int
	// Samples is the number of samples fed to the model.
	Samples int
}

type loaded struct {
	model    Model
	manifest Manifest
	labels   []string
}

// Classifier ranks sound-event classes for PCM buffers.
//
// Thread-safety: Classify and Close are safe for concurrent use; calls are
// serialized because inference backends are generally not reentrant.
type Classifier struct {
	backend  Backend
	assetDir string
	logger   *slog.Logger

	mu     sync.Mutex
	cached *loaded
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New creates a Classifier that loads its model from assetDir through backend.
func New(backend Backend, assetDir string, opts ...Option) *Classifier {
	c := &Classifier{
		backend:  backend,
		assetDir: assetDir,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load loads and caches the model without classifying anything. Classify
// calls it implicitly.
func (c *Classifier) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.load(ctx)
	return err
}

// Manifest returns the manifest of the loaded model, or false if nothing
// is loaded yet.
func (c *Classifier) Manifest() (Manifest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil {
		return Manifest{}, false
	}
	return c.cached.manifest, true
}

// Classify scores pcm (16-bit little-endian mono) and returns the topK
// classes, highest score first.
//
// Every failure is a *Error: ErrCodeModelLoad when the model could not be
// loaded, ErrCodeInference when it could not be run. A panic inside the
// backend is recovered and reported as ErrCodeInference.
func (c *Classifier) Classify(ctx context.Context, pcm []byte, topK int) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lm, err := c.load(ctx)
	if err != nil {
		return Result{}, err
	}

	input := PCMToFloat32(pcm)
	if len(input) == 0 {
		return Result{}, inferenceError("no audio samples", nil)
	}
	if n := lm.manifest.InputSamples; n > 0 {
		input = fitSamples(input, n)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, inferenceError("cancelled", err)
	}

	scores, err := infer(lm.model, input)
	if err != nil {
		return Result{}, err
	}
	if len(scores) != lm.manifest.OutputWidth {
		return Result{}, inferenceError(
			fmt.Sprintf("model returned %d scores, manifest declares %d", len(scores), lm.manifest.OutputWidth), nil)
	}

	return Result{
		Predictions: Rank(scores, lm.labels, topK),
		Model:       lm.manifest.Name,
		OutputWidth: len(scores),
		Samples:     len(input),
	}, nil
}

// Close releases the cached model. A later Classify loads it again.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil {
		return nil
	}
	err := c.cached.model.Close()
	c.cached = nil
	return err
}

// load returns the cached model, loading it first if needed. Caller holds mu.
func (c *Classifier) load(ctx context.Context) (*loaded, error) {
	if c.cached != nil {
		return c.cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, modelLoadError("cancelled", err)
	}

	manifest, found, err := LoadManifest(c.assetDir)
	if err != nil {
		return nil, modelLoadError("invalid model manifest", err)
	}
	if !found {
		c.logger.Debug("no model manifest, using defaults",
			"asset_dir", c.assetDir, "model", manifest.Model)
	}

	modelPath := filepath.Join(c.assetDir, manifest.Model)
	model, err := c.loadModel(modelPath, manifest)
	if err != nil {
		c.logAssets()
		return nil, modelLoadError("load "+modelPath, err)
	}

	if w := model.OutputWidth(); w != manifest.OutputWidth {
		model.Close()
		return nil, modelLoadError(
			fmt.Sprintf("model output width %d does not match manifest %d", w, manifest.OutputWidth), nil)
	}

	labels := c.loadLabels(filepath.Join(c.assetDir, manifest.Labels), manifest.OutputWidth)

	c.cached = &loaded{model: model, manifest: manifest, labels: labels}
	c.logger.Info("model loaded",
		"model", manifest.Name,
		"path", modelPath,
		"output_width", manifest.OutputWidth,
		"labels", len(labels))
	return c.cached, nil
}

func (c *Classifier) loadModel(path string, m Manifest) (model Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			model, err = nil, fmt.Errorf("backend panic: %v", r)
		}
	}()
	return c.backend.Load(path, m)
}

// loadLabels reads the label table, falling back to synthetic labels when
// it cannot be read. A short table is kept as-is; Rank only covers the
// overlap.
func (c *Classifier) loadLabels(path string, width int) []string {
	labels, err := LoadLabels(path)
	if err != nil {
		c.logger.Warn("label table unavailable, using synthetic labels",
			"path", path, "error", err, "output_width", width)
		return SyntheticLabels(width)
	}

	switch {
	case len(labels) < width:
		c.logger.Warn("label table shorter than model output; only labelled classes are ranked",
			"labels", len(labels), "output_width", width)
	case len(labels) > width:
		c.logger.Debug("label table longer than model output; extra labels ignored",
			"labels", len(labels), "output_width", width)
	}
	return labels
}

// logAssets lists the asset directory at debug level to help diagnose a
// missing or misnamed model file.
func (c *Classifier) logAssets() {
	entries, err := os.ReadDir(c.assetDir)
	if err != nil {
		c.logger.Debug("cannot list asset directory", "asset_dir", c.assetDir, "error", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	c.logger.Debug("asset directory contents", "asset_dir", c.assetDir, "files", names)
}

func infer(m Model, input []float32) (scores []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			scores, err = nil, inferenceError("backend panic", fmt.Errorf("%v", r))
		}
	}()

	scores, err = m.Infer(input)
	if err != nil {
		return nil, inferenceError("run model", err)
	}
	return scores, nil
}

// fitSamples truncates or zero-pads input to exactly n samples.
func fitSamples(input []float32, n int) []float32 {
	if len(input) >= n {
		return input[:n]
	}
	out := make([]float32, n)
	copy(out, input)
	return out
}
