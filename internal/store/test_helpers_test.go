package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestAudio builds an audio record with a small recognizable blob.
func createTestAudio(ts int64, deviceID string) AudioRecord {
	return AudioRecord{
		Timestamp:  ts,
		DeviceID:   deviceID,
		DurationMS: 1000,
		RawAudio:   []byte{byte(ts), byte(ts >> 8), 0x00, 0x7F},
	}
}

// createTestAnalysis builds a success analysis record.
func createTestAnalysis(ts int64, deviceID string) AnalysisRecord {
	return AnalysisRecord{
		Timestamp:  ts,
		DeviceID:   deviceID,
		DurationMS: 1000,
		Results:    `{"status":"success","predictions":[]}`,
	}
}

// mustInsertAudio inserts rec and fails the test if it was not stored.
func mustInsertAudio(t *testing.T, s *Store, rec AudioRecord) int64 {
	t.Helper()
	id, err := s.InsertAudio(context.Background(), rec)
	if err != nil {
		t.Fatalf("InsertAudio() failed: %v", err)
	}
	if id == NoRow {
		t.Fatalf("InsertAudio() ignored record at %d", rec.Timestamp)
	}
	return id
}
