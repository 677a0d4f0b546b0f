package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/yamnet/internal/query"
)

func TestQuery_Empty(t *testing.T) {
	s := createTestStore(t)

	cur, err := s.Query(context.Background(), s.Address(Analysis), nil, nil)
	require.NoError(t, err)
	defer cur.Close()

	assert.False(t, cur.Next())
	assert.Equal(t, 0, cur.Len())
	assert.NotNil(t, cur.All(), "empty result is an empty slice, not nil")
}

func TestQuery_RangeFilterAndOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, ts := range []int64{300, 100, 400, 200} {
		mustInsertAudio(t, s, createTestAudio(ts, "dev-1"))
	}

	cur, err := s.Query(ctx, s.Address(Audio),
		query.All(query.Ge(ColTimestamp, int64(200)), query.Lt(ColTimestamp, int64(400))),
		query.By(query.Desc(ColTimestamp)))
	require.NoError(t, err)
	defer cur.Close()

	var got []int64
	for cur.Next() {
		got = append(got, cur.Row().Timestamp)
	}
	assert.Equal(t, []int64{300, 200}, got)
}

func TestQuery_TiesBrokenByRowKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustInsertAudio(t, s, createTestAudio(100, "dev-b"))
	mustInsertAudio(t, s, createTestAudio(100, "dev-a"))
	mustInsertAudio(t, s, createTestAudio(100, "dev-c"))

	cur, err := s.Query(ctx, s.Address(Audio), nil, query.By(query.Asc(ColTimestamp)))
	require.NoError(t, err)

	var devices []string
	for _, r := range cur.All() {
		devices = append(devices, r.DeviceID)
	}
	assert.Equal(t, []string{"dev-b", "dev-a", "dev-c"}, devices)
}

func TestQuery_ItemAddress(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustInsertAudio(t, s, createTestAudio(100, "dev-1"))
	id := mustInsertAudio(t, s, createTestAudio(200, "dev-1"))

	cur, err := s.Query(ctx, s.ItemAddress(Audio, id), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, cur.Len())
	require.True(t, cur.Next())

	row := cur.Row()
	assert.Equal(t, id, row.ID)
	assert.Equal(t, int64(200), row.Timestamp)
	assert.Equal(t, createTestAudio(200, "dev-1").RawAudio, row.Payload)
}

func TestQuery_UnknownField(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Query(context.Background(), s.Address(Audio), query.Eq("raw_audio", []byte{1}), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestQuery_UnknownCollection(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Query(context.Background(), Address("content://"+DefaultAuthority+"/plugin_other"), nil, nil)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestCount_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, ts := range []int64{10, 20, 30, 40} {
		mustInsertAudio(t, s, createTestAudio(ts, "dev-1"))
	}

	n, err := s.Count(ctx, s.Address(Audio), query.Lt(ColTimestamp, int64(30)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Count(ctx, s.Address(Analysis), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestAudioByTimestamp_Missing(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.AudioByTimestamp(context.Background(), 12345, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAudioByTimestamp_RoundTripsBlob(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	pcm := make([]byte, 32000)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}
	_, err := s.InsertAudio(ctx, AudioRecord{Timestamp: 777, DeviceID: "dev-1", DurationMS: 1000, RawAudio: pcm})
	require.NoError(t, err)

	rec, ok, err := s.AudioByTimestamp(ctx, 777, "dev-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pcm, rec.RawAudio)
	assert.Equal(t, int64(1000), rec.DurationMS)
}

func TestListAnalyses_OldestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, ts := range []int64{3000, 1000, 2000} {
		_, err := s.InsertAnalysis(ctx, createTestAnalysis(ts, "dev-1"))
		require.NoError(t, err)
	}

	recs, err := s.ListAnalyses(ctx, nil)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, int64(1000), recs[0].Timestamp)
	assert.Equal(t, int64(3000), recs[2].Timestamp)
	assert.Equal(t, `{"status":"success","predictions":[]}`, recs[0].Results)

	recent, err := s.ListAnalyses(ctx, query.Ge(ColTimestamp, int64(2000)))
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
