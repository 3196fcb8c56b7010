package transcript

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRecordsInOrder(t *testing.T) {
	sink := NewMemorySink()
	w, err := NewWriter(sink, 2)
	require.NoError(t, err)

	w.Record("CA1", "user", "hello")
	w.Record("CA1", "assistant", "hi there")
	w.Record("CA1", "user", "bye")
	w.Close()

	turns := sink.Turns()
	require.Len(t, turns, 3)

	// Writes land on pooled workers in any order; sequence numbers restore it.
	sort.Slice(turns, func(i, j int) bool { return turns[i].Seq < turns[j].Seq })
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, "hi there", turns[1].Content)
	assert.Equal(t, "bye", turns[2].Content)
	for i, turn := range turns {
		assert.Equal(t, i, turn.Seq)
		assert.Equal(t, "CA1", turn.CallSID)
		assert.WithinDuration(t, time.Now(), turn.CreatedAt, time.Minute)
	}
}

func TestWriterSeparateCallsSeparateSequences(t *testing.T) {
	sink := NewMemorySink()
	w, err := NewWriter(sink, 2)
	require.NoError(t, err)

	w.Record("CA1", "user", "first call")
	w.Record("CA2", "user", "second call")
	w.Close()

	for _, turn := range sink.Turns() {
		assert.Equal(t, 0, turn.Seq, "each call starts its own sequence")
	}
}

func TestWriterForgetResetsSequence(t *testing.T) {
	sink := NewMemorySink()
	w, err := NewWriter(sink, 2)
	require.NoError(t, err)

	w.Record("CA1", "user", "a")
	w.Forget("CA1")
	w.Record("CA1", "user", "b")
	w.Close()

	turns := sink.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, 0, turns[0].Seq)
	assert.Equal(t, 0, turns[1].Seq)
}
