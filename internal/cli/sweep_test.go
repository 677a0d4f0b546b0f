package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/yamnet/internal/store"
)

func seedAges(t *testing.T, e *testEnv, ages ...time.Duration) {
	t.Helper()
	now := time.Now()
	var analyses []store.AnalysisRecord
	var audio []store.AudioRecord
	for _, age := range ages {
		ts := now.Add(-age).UnixMilli()
		analyses = append(analyses, store.AnalysisRecord{Timestamp: ts, DeviceID: "dev-a", Results: successDoc(ts, "Speech", 0.5)})
		audio = append(audio, store.AudioRecord{Timestamp: ts, DeviceID: "dev-a", RawAudio: pcm(8)})
	}
	e.seed(t, analyses, audio)
}

func TestSweep_DisabledByDefault(t *testing.T) {
	e := newTestEnv(t, "")
	seedAges(t, e, 48*time.Hour)

	out, err := e.execute(t, "--format", "json", "sweep")
	require.NoError(t, err)

	var res SweepResult
	decodeData(t, out, &res)
	assert.True(t, res.Skipped)
	assert.Equal(t, int64(1), e.count(t, store.Audio))
}

func TestSweep_Force(t *testing.T) {
	e := newTestEnv(t, "")
	seedAges(t, e, 48*time.Hour, time.Minute)

	out, err := e.execute(t, "--format", "json", "sweep", "--force")
	require.NoError(t, err)

	var res SweepResult
	decodeData(t, out, &res)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(1), res.Deleted)
	assert.Equal(t, int64(1), e.count(t, store.Audio))
	assert.Equal(t, int64(2), e.count(t, store.Analysis), "analyses are never swept")
}

func TestSweep_FollowsSaveAudioFiles(t *testing.T) {
	e := newTestEnv(t, "save_audio_files: true\n")
	seedAges(t, e, 25*time.Hour, 23*time.Hour)

	out, err := e.execute(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 audio record(s)")
	assert.Equal(t, int64(1), e.count(t, store.Audio))
}

func TestSweep_WindowFlag(t *testing.T) {
	e := newTestEnv(t, "retention_enabled: true\n")
	seedAges(t, e, 2*time.Hour, time.Minute)

	out, err := e.execute(t, "--format", "json", "sweep", "--window", "30s")
	require.NoError(t, err)

	var res SweepResult
	decodeData(t, out, &res)
	assert.Equal(t, int64(2), res.Deleted)
	assert.Equal(t, int64(0), e.count(t, store.Audio))
}

func TestSweep_Idempotent(t *testing.T) {
	e := newTestEnv(t, "retention_enabled: true\n")
	seedAges(t, e, 48*time.Hour)

	_, err := e.execute(t, "sweep")
	require.NoError(t, err)

	out, err := e.execute(t, "--format", "json", "sweep")
	require.NoError(t, err)
	var res SweepResult
	decodeData(t, out, &res)
	assert.Equal(t, int64(0), res.Deleted)
}
