package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicewire/relay/agent"
)

type capturedFrame struct {
	token string
	last  bool
}

func captureFrames() (*[]capturedFrame, emitFunc) {
	frames := &[]capturedFrame{}
	return frames, func(token string, last bool) error {
		*frames = append(*frames, capturedFrame{token: token, last: last})
		return nil
	}
}

func plainVoice() agent.VoiceConfig {
	return agent.VoiceConfig{Name: "en-US-Standard-A", Language: "en-US"}
}

func markupVoice() agent.VoiceConfig {
	return agent.VoiceConfig{
		Name:         "en-US-Neural2-F",
		Language:     "en-US",
		SupportsSSML: true,
		Rate:         "95%",
		Pitch:        "-2st",
	}
}

func TestChunkerPlainConcatenation(t *testing.T) {
	frames, emit := captureFrames()
	c := newChunker(plainVoice(), emit)

	input := "The quick brown fox jumps over the lazy dog and keeps on running down the hill."
	for _, word := range strings.SplitAfter(input, " ") {
		require.NoError(t, c.push(word))
	}
	require.NoError(t, c.close())

	require.NotEmpty(t, *frames)
	var rebuilt strings.Builder
	for i, f := range *frames {
		rebuilt.WriteString(f.token)
		assert.Equal(t, i == len(*frames)-1, f.last, "only the final frame carries last")
	}
	assert.Equal(t, input, rebuilt.String())
}

func TestChunkerSilentTurn(t *testing.T) {
	frames, emit := captureFrames()
	c := newChunker(plainVoice(), emit)

	require.NoError(t, c.close())

	require.Len(t, *frames, 1)
	assert.Equal(t, " ", (*frames)[0].token)
	assert.True(t, (*frames)[0].last)
}

func TestChunkerPunctuationOnlyNeverFlushed(t *testing.T) {
	frames, emit := captureFrames()
	c := newChunker(markupVoice(), emit)

	// Longer than every threshold, but contains no word characters.
	require.NoError(t, c.push(strings.Repeat("... ", 30)))
	assert.Empty(t, *frames, "bare punctuation must not be spoken early")

	require.NoError(t, c.close())
	require.Len(t, *frames, 1)
	assert.True(t, (*frames)[0].last)
}

func TestChunkerMarkupRoot(t *testing.T) {
	frames, emit := captureFrames()
	c := newChunker(markupVoice(), emit)

	input := "First we greet the caller warmly. Then we answer the question in detail. Finally we wrap up politely and ask whether anything else is needed today."
	for _, word := range strings.SplitAfter(input, " ") {
		require.NoError(t, c.push(word))
	}
	require.NoError(t, c.close())

	require.Greater(t, len(*frames), 1, "long markup turn should stream in chunks")
	first := (*frames)[0]
	last := (*frames)[len(*frames)-1]
	assert.True(t, strings.HasPrefix(first.token, `<speak><prosody rate="95%" pitch="-2st">`))
	assert.True(t, strings.HasSuffix(last.token, "</prosody></speak>"))
	assert.True(t, last.last)
	for _, f := range (*frames)[:len(*frames)-1] {
		assert.False(t, f.last)
	}

	var rebuilt strings.Builder
	for _, f := range *frames {
		rebuilt.WriteString(f.token)
	}
	spoken := strings.TrimPrefix(rebuilt.String(), `<speak><prosody rate="95%" pitch="-2st">`)
	spoken = strings.TrimSuffix(spoken, "</prosody></speak>")
	assert.Equal(t, input, spoken)
}

func TestChunkerMarkupLengthThreshold(t *testing.T) {
	frames, emit := captureFrames()
	c := newChunker(markupVoice(), emit)

	// Crossing the flush length mid-stream must emit before close.
	require.NoError(t, c.push(strings.Repeat("steady progress report ", 4)))
	assert.NotEmpty(t, *frames, "buffer past the flush length should go out immediately")
	assert.False(t, (*frames)[0].last)
}

func TestChunkerReserveHeldUntilClose(t *testing.T) {
	frames, emit := captureFrames()
	c := newChunker(markupVoice(), emit)

	// Two flush-length chunks: the first goes out immediately, the second is
	// held in reserve and released with last=true at close.
	require.NoError(t, c.push(strings.Repeat("alpha beta gamma ", 4)))
	require.NoError(t, c.push(strings.Repeat("delta epsilon zeta ", 4)))
	sent := len(*frames)
	require.NoError(t, c.close())

	require.Greater(t, len(*frames), sent, "close must release the reserved chunk")
	assert.True(t, (*frames)[len(*frames)-1].last)
}

func TestChunkerPlainDigitsFlushEarly(t *testing.T) {
	frames, emit := captureFrames()
	c := newChunker(plainVoice(), emit)

	// A numeric reply has no alphabetic run but is perfectly speakable; in
	// plain mode it must flush at the token threshold like any other text.
	for _, token := range []string{"4", "2", ".", "5", " ", "0", "0", "0"} {
		require.NoError(t, c.push(token))
	}

	require.NotEmpty(t, *frames, "digit-only text must not be held until close")
	assert.False(t, (*frames)[0].last)
}

func TestChunkerToolFlushKeepsResidue(t *testing.T) {
	frames, emit := captureFrames()
	c := newChunker(markupVoice(), emit)

	require.NoError(t, c.push("Checking that now"))
	require.NoError(t, c.push("... "))
	require.NoError(t, c.toolFlush())
	require.NoError(t, c.push("all done."))
	require.NoError(t, c.close())

	var rebuilt strings.Builder
	for _, f := range *frames {
		rebuilt.WriteString(f.token)
	}
	spoken := strings.TrimPrefix(rebuilt.String(), `<speak><prosody rate="95%" pitch="-2st">`)
	spoken = strings.TrimSuffix(spoken, "</prosody></speak>")
	assert.Equal(t, "Checking that now... all done.", spoken)
}

func TestChunkerToolFlush(t *testing.T) {
	frames, emit := captureFrames()
	c := newChunker(plainVoice(), emit)

	require.NoError(t, c.push("Let me look that up"))
	require.NoError(t, c.toolFlush())

	require.NotEmpty(t, *frames, "status phrase must be spoken before the tool runs")
	for _, f := range *frames {
		assert.False(t, f.last, "tool flush must not end the turn")
	}

	require.NoError(t, c.push(" Here is what I found."))
	require.NoError(t, c.close())
	assert.True(t, (*frames)[len(*frames)-1].last)
}
