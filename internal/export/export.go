// Package export writes captured audio to WAV files: one file per cycle as
// it is captured, or reconstructed later from stored audio records.
//
// Stored audio is always located by the timestamp (and device) of its
// analysis record, never by the analysis row key; the two collections
// number their rows independently.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/yamnet/internal/query"
	"github.com/roach88/yamnet/internal/store"
	"github.com/roach88/yamnet/internal/wav"
)

const (
	// CycleDir holds the per-cycle files, partitioned by day.
	CycleDir = "audio"
	// RecordingsDir holds files reconstructed from stored audio.
	RecordingsDir = "yamnet_recordings"
	// DefaultRoot is used when no export root is configured.
	DefaultRoot = "."
)

// ErrNoAudio is returned when no stored audio exists for a timestamp,
// typically because the retention sweep already removed it.
var ErrNoAudio = errors.New("no stored audio for timestamp")

// CyclePath returns root/audio/YYYY-MM-DD/yamnet_YYYY-MM-DD_HH-mm-ss.wav
// for a cycle captured at ts, formatted in ts's location.
func CyclePath(root string, ts time.Time) string {
	day := ts.Format("2006-01-02")
	name := "yamnet_" + ts.Format("2006-01-02_15-04-05") + ".wav"
	return filepath.Join(root, CycleDir, day, name)
}

// RecordingPath returns root/yamnet_recordings/yamnet_<ts>.wav, or
// yamnet_<ts>_<device>.wav when deviceID is set so that devices sampling at
// the same instant do not share a file.
func RecordingPath(root string, timestampMS int64, deviceID string) string {
	name := "yamnet_" + strconv.FormatInt(timestampMS, 10)
	if deviceID != "" {
		name += "_" + fileSafe(deviceID)
	}
	return filepath.Join(root, RecordingsDir, name+".wav")
}

// fileSafe replaces path separators and other characters that are awkward
// in file names.
func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, s)
}

// WriteCycleFile writes one cycle's audio as a WAV file and returns its path.
func WriteCycleFile(root string, ts time.Time, pcm []byte, sampleRate int) (string, error) {
	path := CyclePath(root, ts)
	if err := wav.WriteFile(path, pcm, sampleRate); err != nil {
		return "", fmt.Errorf("write cycle file: %w", err)
	}
	return path, nil
}

// Records is the part of the store the exporter reads.
type Records interface {
	AudioByTimestamp(ctx context.Context, timestamp int64, deviceID string) (store.AudioRecord, bool, error)
	ListAnalyses(ctx context.Context, filter query.Predicate) ([]store.AnalysisRecord, error)
}

// Summary describes a batch export.
type Summary struct {
	Written []string
	// Missing counts analysis records whose audio is gone.
	Missing int
}

// Exporter reconstructs WAV files from stored audio.
type Exporter struct {
	records    Records
	root       string
	sampleRate int
	logger     *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// WithSampleRate sets the sample rate written into WAV headers.
func WithSampleRate(hz int) Option {
	return func(e *Exporter) { e.sampleRate = hz }
}

// New creates an Exporter writing under root.
func New(records Records, root string, opts ...Option) *Exporter {
	e := &Exporter{
		records:    records,
		root:       root,
		sampleRate: wav.DefaultSampleRate,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExportByTimestamp writes the audio stored at timestampMS to
// RecordingPath and returns the path. An empty deviceID matches any device
// and leaves the device out of the file name.
func (e *Exporter) ExportByTimestamp(ctx context.Context, timestampMS int64, deviceID string) (string, error) {
	rec, ok, err := e.records.AudioByTimestamp(ctx, timestampMS, deviceID)
	if err != nil {
		return "", fmt.Errorf("export %d: %w", timestampMS, err)
	}
	if !ok {
		return "", fmt.Errorf("export %d: %w", timestampMS, ErrNoAudio)
	}

	path := RecordingPath(e.root, timestampMS, deviceID)
	if err := wav.WriteFile(path, rec.RawAudio, e.sampleRate); err != nil {
		return "", fmt.Errorf("export %d: %w", timestampMS, err)
	}
	e.logger.Debug("audio exported", "timestamp", timestampMS, "path", path, "bytes", len(rec.RawAudio))
	return path, nil
}

// ExportAll exports the audio of every analysis record matching filter,
// newest first. Records whose audio was already swept are counted in
// Summary.Missing and skipped. The first write failure aborts the batch.
func (e *Exporter) ExportAll(ctx context.Context, filter query.Predicate) (Summary, error) {
	analyses, err := e.records.ListAnalyses(ctx, filter)
	if err != nil {
		return Summary{}, fmt.Errorf("export all: %w", err)
	}

	var sum Summary
	for i := len(analyses) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		a := analyses[i]
		path, err := e.ExportByTimestamp(ctx, a.Timestamp, a.DeviceID)
		if errors.Is(err, ErrNoAudio) {
			sum.Missing++
			continue
		}
		if err != nil {
			return sum, err
		}
		sum.Written = append(sum.Written, path)
	}

	e.logger.Info("batch export finished",
		"written", len(sum.Written),
		"missing", sum.Missing,
		"root", e.root)
	return sum, nil
}
