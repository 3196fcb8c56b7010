package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicewire/relay/transcript"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndTurns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	turns := []transcript.Turn{
		{CallSID: "CA1", Seq: 0, Role: "user", Content: "hello", CreatedAt: time.Now()},
		{CallSID: "CA1", Seq: 1, Role: "assistant", Content: "hi there", CreatedAt: time.Now()},
		{CallSID: "CA2", Seq: 0, Role: "user", Content: "other call", CreatedAt: time.Now()},
	}
	for _, turn := range turns {
		require.NoError(t, store.Append(ctx, turn))
	}

	got, err := store.Turns(ctx, "CA1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Content)
	assert.Equal(t, "hi there", got[1].Content)
	assert.Equal(t, "user", got[0].Role)

	other, err := store.Turns(ctx, "CA2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "other call", other[0].Content)

	none, err := store.Turns(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppendDuplicateSeqIgnored(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	turn := transcript.Turn{CallSID: "CA1", Seq: 0, Role: "user", Content: "first", CreatedAt: time.Now()}
	require.NoError(t, store.Append(ctx, turn))

	turn.Content = "retry"
	require.NoError(t, store.Append(ctx, turn), "a retried write must not error")

	got, err := store.Turns(ctx, "CA1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Content, "the original write wins")
}
