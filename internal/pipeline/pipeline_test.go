package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/yamnet/internal/capture"
	"github.com/roach88/yamnet/internal/classify"
	"github.com/roach88/yamnet/internal/export"
	"github.com/roach88/yamnet/internal/store"
	"github.com/roach88/yamnet/internal/testutil"
)

var cycleTime = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

type harness struct {
	device  *testutil.FakeDevice
	model   *testutil.FakeModel
	store   *store.Store
	clock   *testutil.ManualClock
	reports []CycleReport
	states  []State
	cfg     Settings
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &harness{
		device: &testutil.FakeDevice{MinBuffer: 1280},
		model:  &testutil.FakeModel{Scores: testutil.RampScores(521)},
		store:  s,
		clock:  testutil.NewManualClock(cycleTime),
		cfg: Settings{
			Enabled:    true,
			DurationMS: 1000,
			TopK:       5,
			DeviceID:   "dev-1",
		},
	}
}

func (h *harness) pipeline(t *testing.T, records Records) *Pipeline {
	t.Helper()
	if records == nil {
		records = h.store
	}
	rec := capture.NewRecorder(h.device, capture.WithClock(h.clock.Now))
	backend := classify.BackendFunc(func(string, classify.Manifest) (classify.Model, error) {
		return h.model, nil
	})
	cl := classify.New(backend, t.TempDir())

	return New(rec, cl, records, func() Settings { return h.cfg },
		WithClock(h.clock.Now),
		WithIDGenerator(testutil.NewFixedIDGenerator("cycle-1")),
		WithObserver(func(r CycleReport) { h.reports = append(h.reports, r) }),
		WithStateHook(func(s State) { h.states = append(h.states, s) }))
}

func (h *harness) counts(t *testing.T) (analyses, audio int64) {
	t.Helper()
	ctx := context.Background()
	analyses, err := h.store.Count(ctx, h.store.Address(store.Analysis), nil)
	require.NoError(t, err)
	audio, err = h.store.Count(ctx, h.store.Address(store.Audio), nil)
	require.NoError(t, err)
	return analyses, audio
}

func TestRun_Success(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(t, nil)

	require.NoError(t, p.Run(context.Background()))

	analyses, err := h.store.ListAnalyses(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	a := analyses[0]
	assert.Equal(t, cycleTime.UnixMilli(), a.Timestamp)
	assert.Equal(t, "dev-1", a.DeviceID)
	assert.Equal(t, int64(1000), a.DurationMS)

	var doc struct {
		Status      string                `json:"status"`
		Timestamp   int64                 `json:"timestamp"`
		Predictions []classify.Prediction `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal([]byte(a.Results), &doc))
	assert.Equal(t, StatusSuccess, doc.Status)
	require.Len(t, doc.Predictions, 5)
	assert.Equal(t, 520, doc.Predictions[0].Index)
	assert.Equal(t, "Class 520", doc.Predictions[0].Label)

	audio, ok, err := h.store.AudioByTimestamp(context.Background(), a.Timestamp, a.DeviceID)
	require.NoError(t, err)
	require.True(t, ok, "audio shares the analysis timestamp and device")
	assert.Len(t, audio.RawAudio, 32000)

	assert.Equal(t, []State{Capturing, Classifying, Persisting, Idle}, h.states)
	assert.Equal(t, Idle, p.State())

	require.Len(t, h.reports, 1)
	r := h.reports[0]
	assert.Equal(t, "cycle-1", r.CycleID)
	assert.Equal(t, OutcomeSuccess, r.Outcome)
	assert.Equal(t, 32000, r.AudioBytes)
	assert.False(t, r.TimedOut)
	assert.NoError(t, r.Err)
	assert.NotEqual(t, store.NoRow, r.AnalysisID)
	assert.NotEqual(t, store.NoRow, r.AudioID)
	assert.True(t, h.device.Released())
}

func TestRun_ClassifyFailurePersistsErrorAndAudio(t *testing.T) {
	h := newHarness(t)
	h.model.Width = 521
	h.model.Err = errors.New("tensor shape mismatch")
	p := h.pipeline(t, nil)

	require.NoError(t, p.Run(context.Background()))

	analyses, err := h.store.ListAnalyses(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, analyses, 1)

	var doc map[string]string
	require.NoError(t, json.Unmarshal([]byte(analyses[0].Results), &doc))
	assert.Equal(t, StatusError, doc["status"])
	assert.Contains(t, doc["message"], "tensor shape mismatch")

	_, audio := h.counts(t)
	assert.Equal(t, int64(1), audio, "raw audio is kept on classification failure")

	require.Len(t, h.reports, 1)
	assert.Equal(t, OutcomeClassifyError, h.reports[0].Outcome)
	assert.True(t, classify.IsInference(h.reports[0].Err))
}

func TestRun_CaptureFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.device.OpenErr = errors.New("device busy")
	p := h.pipeline(t, nil)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)

	analyses, audio := h.counts(t)
	assert.Zero(t, analyses)
	assert.Zero(t, audio)
	assert.Zero(t, h.model.Calls)

	require.Len(t, h.reports, 1)
	assert.Equal(t, OutcomeCaptureFailed, h.reports[0].Outcome)
	assert.Equal(t, []State{Capturing, Idle}, h.states)
}

func TestRun_DeviceFailingTrialStopWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.device.StopErr = errors.New("stop broken")
	p := h.pipeline(t, nil)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, capture.ErrDeviceUnavailable)

	analyses, audio := h.counts(t)
	assert.Zero(t, analyses)
	assert.Zero(t, audio)
	assert.Empty(t, h.device.ReadSizes)
	assert.Equal(t, OutcomeCaptureFailed, h.reports[0].Outcome)
}

func TestRun_DisabledIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.cfg.Enabled = false
	p := h.pipeline(t, nil)

	require.NoError(t, p.Run(context.Background()))

	assert.Zero(t, h.device.Opens)
	analyses, audio := h.counts(t)
	assert.Zero(t, analyses)
	assert.Zero(t, audio)

	require.Len(t, h.reports, 1)
	assert.Equal(t, OutcomeSkipped, h.reports[0].Outcome)
	assert.Empty(t, h.states)
}

func TestRun_SavesCycleFile(t *testing.T) {
	h := newHarness(t)
	h.cfg.SaveAudioFiles = true
	h.cfg.ExportRoot = t.TempDir()
	p := h.pipeline(t, nil)

	require.NoError(t, p.Run(context.Background()))

	want := export.CyclePath(h.cfg.ExportRoot, cycleTime)
	assert.FileExists(t, want)
	assert.Equal(t, want, h.reports[0].ExportPath)
	assert.Equal(t, []State{Capturing, Classifying, Persisting, Exporting, Idle}, h.states)
}

func TestRun_ExportFailureDoesNotFailCycle(t *testing.T) {
	h := newHarness(t)
	root := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))
	h.cfg.SaveAudioFiles = true
	h.cfg.ExportRoot = root
	p := h.pipeline(t, nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, OutcomeSuccess, h.reports[0].Outcome)
	assert.Empty(t, h.reports[0].ExportPath)

	analyses, audio := h.counts(t)
	assert.Equal(t, int64(1), analyses)
	assert.Equal(t, int64(1), audio)
}

func TestRun_SaveWithoutRootUsesWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	h := newHarness(t)
	h.cfg.SaveAudioFiles = true
	p := h.pipeline(t, nil)

	require.NoError(t, p.Run(context.Background()))

	want := export.CyclePath(export.DefaultRoot, cycleTime)
	assert.Equal(t, want, h.reports[0].ExportPath)
	assert.FileExists(t, filepath.Join(dir, want))
	assert.Contains(t, h.states, Exporting)
}

func TestRun_PersistFailure(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(t, failingRecords{err: &store.TxError{Op: store.OpInsert, Collection: store.Analysis, Err: errors.New("disk full")}})

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, store.IsTxFailure(err))

	require.Len(t, h.reports, 1)
	assert.Equal(t, OutcomePersistFailed, h.reports[0].Outcome)
	assert.Equal(t, Idle, p.State())
}

func TestRun_DuplicateTimestampIsBenign(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(t, nil)

	require.NoError(t, p.Run(context.Background()))
	require.NoError(t, p.Run(context.Background()))

	analyses, audio := h.counts(t)
	assert.Equal(t, int64(1), analyses)
	assert.Equal(t, int64(1), audio)
	require.Len(t, h.reports, 2)
	assert.Equal(t, store.NoRow, h.reports[1].AnalysisID)
	assert.Equal(t, store.NoRow, h.reports[1].AudioID)
}

func TestRun_DefaultTopK(t *testing.T) {
	h := newHarness(t)
	h.cfg.TopK = 0
	p := h.pipeline(t, nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Len(t, h.reports[0].Predictions, classify.DefaultTopK)
}

func TestRun_DeadlinePartialIsStored(t *testing.T) {
	h := newHarness(t)
	h.device.Source = make([]byte, 8000)
	h.clock.AutoStep(100 * time.Millisecond)
	p := h.pipeline(t, nil)

	require.NoError(t, p.Run(context.Background()))

	r := h.reports[0]
	assert.True(t, r.TimedOut)
	assert.Equal(t, 8000, r.AudioBytes)

	audio, ok, err := h.store.AudioByTimestamp(context.Background(), r.Timestamp.UnixMilli(), "dev-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, audio.RawAudio, 8000)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "capturing", Capturing.String())
	assert.Equal(t, "classifying", Classifying.String())
	assert.Equal(t, "persisting", Persisting.String())
	assert.Equal(t, "exporting", Exporting.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

type failingRecords struct{ err error }

func (f failingRecords) InsertAnalysis(context.Context, store.AnalysisRecord) (int64, error) {
	return 0, f.err
}

func (f failingRecords) InsertAudio(context.Context, store.AudioRecord) (int64, error) {
	return 0, f.err
}
