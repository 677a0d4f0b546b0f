package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/yamnet/internal/capture"
	"github.com/roach88/yamnet/internal/classify"
	"github.com/roach88/yamnet/internal/store"
	"github.com/roach88/yamnet/internal/testutil"
)

// testEnv is a scratch directory with a settings file, a database path
// and fake backends.
type testEnv struct {
	dir     string
	db      string
	config  string
	envFile string
	device  *testutil.FakeDevice
	model   *testutil.FakeModel
	logs    bytes.Buffer
}

// newTestEnv writes a settings file pointing at the temp directory.
// extra is appended to it verbatim.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	e := &testEnv{
		dir:     dir,
		db:      filepath.Join(dir, "yamnet.db"),
		config:  filepath.Join(dir, "yamnet.yaml"),
		envFile: filepath.Join(dir, ".env"),
		device:  &testutil.FakeDevice{MinBuffer: 1280},
		model:   &testutil.FakeModel{Scores: testutil.RampScores(521)},
	}
	settings := "database: " + e.db + "\n" +
		"assets_dir: " + filepath.Join(dir, "assets") + "\n" +
		"device_id: test-device\n" + extra
	require.NoError(t, os.WriteFile(e.config, []byte(settings), 0o644))
	return e
}

func (e *testEnv) backends() Backends {
	return Backends{
		Device: func() capture.Device { return e.device },
		Model: classify.BackendFunc(func(string, classify.Manifest) (classify.Model, error) {
			return e.model, nil
		}),
	}
}

// execute runs the command tree with the env's global flags prepended.
func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.executeContext(t, context.Background(), args...)
}

func (e *testEnv) executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand(e.backends())
	cmd.SetOut(out)
	cmd.SetErr(&e.logs)
	cmd.SetArgs(append([]string{"--config", e.config, "--env-file", e.envFile}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// openStore opens the env's database for seeding or inspection. The
// command under test must not be running.
func (e *testEnv) openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(e.db)
	require.NoError(t, err)
	return s
}

func (e *testEnv) seed(t *testing.T, analyses []store.AnalysisRecord, audio []store.AudioRecord) {
	t.Helper()
	s := e.openStore(t)
	defer s.Close()
	ctx := context.Background()
	for _, a := range analyses {
		_, err := s.InsertAnalysis(ctx, a)
		require.NoError(t, err)
	}
	for _, a := range audio {
		_, err := s.InsertAudio(ctx, a)
		require.NoError(t, err)
	}
}

func (e *testEnv) count(t *testing.T, c store.Collection) int64 {
	t.Helper()
	s := e.openStore(t)
	defer s.Close()
	n, err := s.Count(context.Background(), s.Address(c), nil)
	require.NoError(t, err)
	return n
}

// decodeData unmarshals the data field of a JSON success response.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func successDoc(ts int64, label string, score float32) string {
	doc := map[string]any{
		"status":      "success",
		"timestamp":   ts,
		"predictions": []map[string]any{{"label": label, "score": score, "index": 1}},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

// writeConfig writes an alternative settings file into the env directory.
func writeConfig(t *testing.T, e *testEnv, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, "alt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
