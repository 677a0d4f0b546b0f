package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/yamnet/internal/query"
)

func TestInsert_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.InsertAnalysis(ctx, createTestAnalysis(1_700_000_000_000, "dev-1"))
	require.NoError(t, err)
	assert.NotEqual(t, NoRow, id)

	var ts int64
	var deviceID, results string
	err = s.db.QueryRow(
		"SELECT timestamp, device_id, analysis_results FROM plugin_yamnet WHERE _id = ?", id,
	).Scan(&ts, &deviceID, &results)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000), ts)
	assert.Equal(t, "dev-1", deviceID)
	assert.Equal(t, `{"status":"success","predictions":[]}`, results)
}

func TestInsert_DuplicateReturnsNoRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	events, cancel := s.SubscribeChan(4)
	defer cancel()

	first, err := s.InsertAudio(ctx, createTestAudio(5000, "dev-1"))
	require.NoError(t, err)
	require.NotEqual(t, NoRow, first)
	<-events

	second, err := s.InsertAudio(ctx, createTestAudio(5000, "dev-1"))
	require.NoError(t, err, "duplicate insert is a benign no-op")
	assert.Equal(t, NoRow, second)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for ignored insert: %+v", ev)
	default:
	}

	n, err := s.Count(ctx, s.Address(Audio), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInsert_SameTimestampDifferentDevice(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustInsertAudio(t, s, createTestAudio(5000, "dev-1"))
	mustInsertAudio(t, s, createTestAudio(5000, "dev-2"))

	n, err := s.Count(ctx, s.Address(Audio), query.Eq(ColTimestamp, int64(5000)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestInsert_IndependentRowKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Skew the audio key space so paired rows get different keys.
	mustInsertAudio(t, s, createTestAudio(1, "dev-1"))

	analysisID, err := s.InsertAnalysis(ctx, createTestAnalysis(2000, "dev-1"))
	require.NoError(t, err)
	audioID := mustInsertAudio(t, s, createTestAudio(2000, "dev-1"))

	assert.NotEqual(t, analysisID, audioID)

	rec, ok, err := s.AudioByTimestamp(ctx, 2000, "dev-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, audioID, rec.ID)
}

func TestInsert_UnknownColumn(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Insert(context.Background(), s.Address(Analysis), Values{"raw_audio": []byte{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column")
}

func TestInsert_EmptyValues(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Insert(context.Background(), s.Address(Analysis), Values{})
	assert.Error(t, err)
}

func TestInsert_ItemAddressRejected(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Insert(context.Background(), s.ItemAddress(Audio, 7), Values{ColTimestamp: int64(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestInsert_UnknownAddress(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Insert(context.Background(), Address("content://other.authority/plugin_yamnet"), Values{ColTimestamp: int64(1)})
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestInsert_ConcurrentWriters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every pair of goroutines races for the same timestamp.
			if _, err := s.InsertAudio(ctx, createTestAudio(int64(i/2), "dev-1")); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent insert failed: %v", err)
	}

	n, err := s.Count(ctx, s.Address(Audio), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestUpdate_ItemAddress(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id := mustInsertAudio(t, s, createTestAudio(100, "dev-1"))
	mustInsertAudio(t, s, createTestAudio(200, "dev-1"))

	n, err := s.Update(ctx, s.ItemAddress(Audio, id), Values{ColDuration: int64(2500)}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, ok, err := s.AudioByTimestamp(ctx, 100, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2500), rec.DurationMS)

	other, _, err := s.AudioByTimestamp(ctx, 200, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), other.DurationMS)
}

func TestUpdate_NotifiesAfterCommit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustInsertAudio(t, s, createTestAudio(100, "dev-1"))

	var got []ChangeEvent
	cancel := s.Subscribe(func(ev ChangeEvent) {
		// Reading from inside the callback proves the write lock is released.
		n, err := s.Count(ctx, s.Address(Audio), query.Eq(ColDuration, int64(42)))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		got = append(got, ev)
	})
	defer cancel()

	_, err := s.Update(ctx, s.Address(Audio), Values{ColDuration: int64(42)}, query.Eq(ColTimestamp, int64(100)))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, OpUpdate, got[0].Op)
	assert.Equal(t, s.Address(Audio), got[0].Address)
	assert.Equal(t, int64(1), got[0].Count)
}

func TestUpdate_UniqueViolationIsTxFailure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustInsertAudio(t, s, createTestAudio(100, "dev-1"))
	mustInsertAudio(t, s, createTestAudio(200, "dev-1"))

	_, err := s.Update(ctx, s.Address(Audio), Values{ColTimestamp: int64(100)}, query.Eq(ColTimestamp, int64(200)))
	require.Error(t, err)
	assert.True(t, IsTxFailure(err))

	// Rolled back: both rows still present with their original timestamps.
	_, ok, err := s.AudioByTimestamp(ctx, 200, "dev-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDelete_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, ts := range []int64{100, 200, 300} {
		mustInsertAudio(t, s, createTestAudio(ts, "dev-1"))
	}

	events, cancel := s.SubscribeChan(8)
	defer cancel()

	n, err := s.Delete(ctx, s.Address(Audio), query.Lt(ColTimestamp, int64(250)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ev := <-events
	assert.Equal(t, OpDelete, ev.Op)
	assert.Equal(t, int64(2), ev.Count)

	remaining, err := s.Count(ctx, s.Address(Audio), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}

func TestDelete_DoesNotTouchOtherCollection(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.InsertAnalysis(ctx, createTestAnalysis(100, "dev-1"))
	require.NoError(t, err)
	mustInsertAudio(t, s, createTestAudio(100, "dev-1"))

	_, err = s.Delete(ctx, s.Address(Audio), nil)
	require.NoError(t, err)

	n, err := s.Count(ctx, s.Address(Analysis), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSubscribeChan_CancelClosesChannel(t *testing.T) {
	s := createTestStore(t)

	events, cancel := s.SubscribeChan(1)
	cancel()
	cancel() // idempotent

	_, open := <-events
	assert.False(t, open)

	// Mutations after cancel must not panic on the closed channel.
	mustInsertAudio(t, s, createTestAudio(1, "dev-1"))
}

func TestSubscribeChan_FullBufferDrops(t *testing.T) {
	s := createTestStore(t)

	events, cancel := s.SubscribeChan(1)
	defer cancel()

	mustInsertAudio(t, s, createTestAudio(1, "dev-1"))
	mustInsertAudio(t, s, createTestAudio(2, "dev-1"))

	ev := <-events
	assert.Equal(t, int64(1), ev.RowID)
	select {
	case ev := <-events:
		t.Fatalf("expected second event to be dropped, got %+v", ev)
	default:
	}
}

// sqlmock-backed tests exercise failure paths a real SQLite file cannot
// produce on demand.

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newStore(db), mock
}

func TestInsert_ExecFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO plugin_yamnet_audio").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	var notified bool
	s.Subscribe(func(ChangeEvent) { notified = true })

	id, err := s.InsertAudio(context.Background(), createTestAudio(1, "dev-1"))
	require.Error(t, err)
	assert.Equal(t, NoRow, id)
	assert.True(t, IsTxFailure(err))
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.False(t, notified, "rolled-back work must not notify")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_CommitFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM plugin_yamnet_audio WHERE timestamp < ?")).
		WithArgs(int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, err := s.Delete(context.Background(), s.Address(Audio), query.Lt(ColTimestamp, int64(500)))
	require.Error(t, err)

	var te *TxError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpDelete, te.Op)
	assert.Equal(t, Audio, te.Collection)
	assert.Contains(t, te.Error(), "commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_BeginFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin().WillReturnError(fmt.Errorf("connection reset"))

	_, err := s.InsertAnalysis(context.Background(), createTestAnalysis(1, "dev-1"))
	require.Error(t, err)
	assert.True(t, IsTxFailure(err))
	assert.Contains(t, err.Error(), "begin tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}
