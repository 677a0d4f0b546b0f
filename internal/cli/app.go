package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/roach88/yamnet/internal/capture"
	"github.com/roach88/yamnet/internal/classify"
	"github.com/roach88/yamnet/internal/config"
	"github.com/roach88/yamnet/internal/export"
	"github.com/roach88/yamnet/internal/metrics"
	"github.com/roach88/yamnet/internal/pipeline"
	"github.com/roach88/yamnet/internal/retention"
	"github.com/roach88/yamnet/internal/store"
)

// app is the set of components one command works with.
type app struct {
	log        *slog.Logger
	source     *config.Source
	store      *store.Store
	classifier *classify.Classifier
	recorder   *capture.Recorder
	metrics    *metrics.Metrics

	unsubscribe func()
}

// openApp loads settings, resolves the device id and opens the store.
// Errors are *ExitError with ExitCommandError.
func openApp(opts *RootOptions, log *slog.Logger) (*app, error) {
	if opts.Backends.Device == nil || opts.Backends.Model == nil {
		return nil, NewExitError(ExitCommandError, "no audio or model backend configured")
	}

	src, err := config.NewSource(config.Loader{
		Path:    opts.ConfigPath,
		EnvFile: opts.EnvFile,
		Logger:  log,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load settings", err)
	}

	cur := src.Current()
	dbPath := cur.Database
	if opts.Database != "" {
		dbPath = opts.Database
	}

	deviceID, err := config.ResolveDeviceID(cur.DeviceID, filepath.Dir(dbPath))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to resolve device id", err)
	}
	src.SetDeviceID(deviceID)

	log.Debug("opening database", "path", dbPath)
	st, err := store.Open(dbPath, store.WithLogger(log))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	m := metrics.New()
	a := &app{
		log:        log,
		source:     src,
		store:      st,
		classifier: classify.New(opts.Backends.Model, cur.AssetsDir, classify.WithLogger(log)),
		recorder:   capture.NewRecorder(opts.Backends.Device(), capture.WithLogger(log)),
		metrics:    m,
	}
	a.unsubscribe = st.Subscribe(m.ObserveChange)

	log.Debug("ready", "database", dbPath, "device_id", deviceID, "assets", cur.AssetsDir)
	return a, nil
}

func (a *app) close() {
	a.unsubscribe()
	if err := a.classifier.Close(); err != nil {
		a.log.Error("error releasing model", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("error closing database", "error", err)
	}
}

// newPipeline builds the capture cycle. force ignores the status flag.
// observe, if set, receives every report after the metrics do.
func (a *app) newPipeline(force bool, observe func(pipeline.CycleReport)) *pipeline.Pipeline {
	settings := func() pipeline.Settings {
		s := a.source.Current()
		return pipeline.Settings{
			Enabled:        s.Enabled || force,
			DurationMS:     s.DurationMS,
			TopK:           s.TopK,
			DeviceID:       s.DeviceID,
			SaveAudioFiles: s.SaveAudioFiles,
			ExportRoot:     s.ExportRoot,
		}
	}
	return pipeline.New(a.recorder, a.classifier, a.store, settings,
		pipeline.WithLogger(a.log),
		pipeline.WithObserver(func(r pipeline.CycleReport) {
			a.metrics.ObserveCycle(r)
			if observe != nil {
				observe(r)
			}
		}))
}

// newSweeper builds the retention sweeper. force ignores the retention flag.
func (a *app) newSweeper(force bool, observe func(retention.Report)) *retention.Sweeper {
	policy := func() retention.Policy {
		s := a.source.Current()
		return retention.Policy{Enabled: s.RetentionEnabled || force, Window: s.RetentionWindow}
	}
	return retention.New(a.store, policy,
		retention.WithLogger(a.log),
		retention.WithObserver(func(r retention.Report) {
			a.metrics.ObserveSweep(r)
			if observe != nil {
				observe(r)
			}
		}))
}

// newExporter writes under out, or the export_root setting, or the
// working directory.
func (a *app) newExporter(out string) *export.Exporter {
	root := out
	if root == "" {
		root = a.source.Current().ExportRoot
	}
	if root == "" {
		root = export.DefaultRoot
	}
	return export.New(a.store, root, export.WithLogger(a.log), export.WithSampleRate(a.recorder.SampleRate()))
}

// failureCode maps a command failure to the JSON error code.
func failureCode(err error) string {
	var txErr *store.TxError
	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return CodeDeviceUnavailable
	case errors.Is(err, export.ErrNoAudio):
		return CodeNoAudio
	case errors.As(err, &txErr):
		return CodePersist
	default:
		return CodeStore
	}
}

// fail reports err on the formatter and returns it as an ExitError.
func fail(f *OutputFormatter, code, message string, err error) error {
	if outErr := f.Error(code, fmt.Sprintf("%s: %v", message, err), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, message, err)
}
