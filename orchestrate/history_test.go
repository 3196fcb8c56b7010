package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicewire/relay/model"
)

func TestHistoryTrimKeepsSystem(t *testing.T) {
	h := NewHistory("system", nil)
	for i := 0; i < 10; i++ {
		h.Append(model.NewUserMessage("u"))
		h.Append(model.NewAssistantMessage("a"))
	}
	h.Trim(5)

	msgs := h.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, model.RoleSystem, msgs[0].Role, "the system turn survives trimming")
	for _, msg := range msgs[1:] {
		assert.NotEqual(t, model.RoleSystem, msg.Role)
	}
}

func TestHistoryTrimNoopUnderLimit(t *testing.T) {
	h := NewHistory("system", nil)
	h.Append(model.NewUserMessage("hi"))
	h.Trim(10)
	assert.Equal(t, 2, h.Len())
}

func TestHistorySetSystemInPlace(t *testing.T) {
	h := NewHistory("old", nil)
	h.Append(model.NewUserMessage("hi"))
	h.SetSystem("new")

	msgs := h.Messages()
	assert.Equal(t, "new", msgs[0].Content)
	assert.Equal(t, 2, h.Len(), "no extra system turn is added")
}

func TestHistorySeedsSavedTurns(t *testing.T) {
	saved := []model.Message{
		model.NewUserMessage("earlier question"),
		model.NewAssistantMessage("earlier answer"),
	}
	h := NewHistory("system", saved)

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "earlier question", msgs[1].Content)
	assert.Equal(t, "earlier answer", msgs[2].Content)
}

func TestHistoryPatchAsync(t *testing.T) {
	h := NewHistory("system", nil)
	h.Append(model.NewToolMessage("call_1", `{"asyncExecution":true,"asyncId":"abc-123","status":"pending"}`))

	require.True(t, h.PatchAsync("abc-123", `{"sent":true}`))

	msgs := h.Messages()
	assert.Equal(t, `{"sent":true}`, msgs[1].Content)

	assert.False(t, h.PatchAsync("abc-123", "again"), "the placeholder is gone after the patch")
	assert.False(t, h.PatchAsync("never-dispatched", "x"))
}

func TestMailboxPostNeverBlocks(t *testing.T) {
	m := NewMailbox()
	for i := 0; i < cap(m); i++ {
		require.True(t, m.Post(Patch{AsyncID: "id", Content: "c"}))
	}
	assert.False(t, m.Post(Patch{AsyncID: "overflow", Content: "c"}),
		"a full mailbox drops the patch instead of blocking the worker")
}
