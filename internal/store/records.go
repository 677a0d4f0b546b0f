package store

import (
	"context"
	"fmt"

	"github.com/roach88/yamnet/internal/query"
)

// AnalysisRecord is one classification result. Results holds the JSON
// document produced by the pipeline. Never carries raw audio.
type AnalysisRecord struct {
	ID         int64
	Timestamp  int64 // epoch milliseconds, taken when capture finished
	DeviceID   string
	DurationMS int64
	Results    string
}

// AudioRecord is the raw PCM captured in one cycle.
type AudioRecord struct {
	ID         int64
	Timestamp  int64
	DeviceID   string
	DurationMS int64
	RawAudio   []byte // 16-bit little-endian mono PCM
}

// InsertAnalysis stores rec in the analysis collection and returns its row
// key, or NoRow if a record with the same timestamp and device already exists.
func (s *Store) InsertAnalysis(ctx context.Context, rec AnalysisRecord) (int64, error) {
	return s.Insert(ctx, s.Address(Analysis), Values{
		ColTimestamp:       rec.Timestamp,
		ColDeviceID:        rec.DeviceID,
		ColDuration:        rec.DurationMS,
		ColAnalysisResults: rec.Results,
	})
}

// InsertAudio stores rec in the audio collection. Same duplicate semantics
// as InsertAnalysis.
func (s *Store) InsertAudio(ctx context.Context, rec AudioRecord) (int64, error) {
	return s.Insert(ctx, s.Address(Audio), Values{
		ColTimestamp: rec.Timestamp,
		ColDeviceID:  rec.DeviceID,
		ColDuration:  rec.DurationMS,
		ColRawAudio:  rec.RawAudio,
	})
}

// AudioByTimestamp returns the audio recorded at timestamp. An empty
// deviceID matches any device; when several devices share the timestamp
// the lowest row key wins. ok is false if no audio exists (for example
// because the retention sweep already removed it).
func (s *Store) AudioByTimestamp(ctx context.Context, timestamp int64, deviceID string) (rec AudioRecord, ok bool, err error) {
	filter := query.Eq(ColTimestamp, timestamp)
	if deviceID != "" {
		filter = query.All(filter, query.Eq(ColDeviceID, deviceID))
	}

	cur, err := s.Query(ctx, s.Address(Audio), filter, nil)
	if err != nil {
		return AudioRecord{}, false, fmt.Errorf("audio by timestamp: %w", err)
	}
	defer cur.Close()

	if !cur.Next() {
		return AudioRecord{}, false, nil
	}
	r := cur.Row()
	return AudioRecord{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		DeviceID:   r.DeviceID,
		DurationMS: r.Duration,
		RawAudio:   r.Payload,
	}, true, nil
}

// ListAnalyses returns analysis records matching filter, oldest first.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListAnalyses(ctx context.Context, filter query.Predicate) ([]AnalysisRecord, error) {
	cur, err := s.Query(ctx, s.Address(Analysis), filter, query.By(query.Asc(ColTimestamp)))
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer cur.Close()

	out := make([]AnalysisRecord, 0, cur.Len())
	for cur.Next() {
		r := cur.Row()
		out = append(out, AnalysisRecord{
			ID:         r.ID,
			Timestamp:  r.Timestamp,
			DeviceID:   r.DeviceID,
			DurationMS: r.Duration,
			Results:    string(r.Payload),
		})
	}
	return out, nil
}
