package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmdbuf/cmdbuf/internal/storage"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestRecordAndListBufferEvents(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordBufferEvent(ctx, BufferEvent{
		Action: ActionCreated, BufferID: 5, Size: 640, TotalBytes: 640,
	}))
	require.NoError(t, j.RecordBufferEvent(ctx, BufferEvent{
		Action: ActionDestroyed, BufferID: 5, Size: 640, Shared: false, TotalBytes: 0,
	}))

	events, err := j.RecentBufferEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, ActionDestroyed, events[0].Action)
	assert.Equal(t, int32(5), events[0].BufferID)
	assert.Equal(t, ActionCreated, events[1].Action)
	assert.Equal(t, int64(640), events[1].TotalBytes)
	assert.False(t, events[0].At.IsZero())
}

func TestRecordBufferEventRequiresAction(t *testing.T) {
	j := newTestJournal(t)
	assert.Error(t, j.RecordBufferEvent(context.Background(), BufferEvent{BufferID: 1}))
}

func TestRecordAndListFaults(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordFault(ctx, Fault{
		Kind: KindParseError, Code: 3, Put: 7, Get: 2, Token: 40,
	}))
	require.NoError(t, j.RecordFault(ctx, Fault{
		Kind: KindContextLost, Code: 1, Put: 7, Get: 2, Token: 40,
	}))

	faults, err := j.RecentFaults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, faults, 2)
	assert.Equal(t, KindContextLost, faults[0].Kind)
	assert.Equal(t, int32(3), faults[1].Code)
	assert.Equal(t, int32(7), faults[1].Put)
}

func TestRecordFaultRejectsUnknownKind(t *testing.T) {
	j := newTestJournal(t)
	assert.Error(t, j.RecordFault(context.Background(), Fault{Kind: "explosion"}))
}

func TestRecentLimits(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.RecordFault(ctx, Fault{Kind: KindParseError, Code: int32(i)}))
	}

	faults, err := j.RecentFaults(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, faults, 3)
}
