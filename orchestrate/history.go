package orchestrate

import (
	"strings"

	"github.com/voicewire/relay/model"
)

// History is the ordered conversation owned by one live call. It is only
// touched from the call's own control flow; detached workers hand mutations
// to the mailbox instead of reaching in.
type History struct {
	msgs []model.Message
}

// NewHistory creates a history seeded with a system turn and any saved turns
// from a resumed call.
func NewHistory(systemPrompt string, saved []model.Message) *History {
	msgs := make([]model.Message, 0, len(saved)+1)
	msgs = append(msgs, model.NewSystemMessage(systemPrompt))
	msgs = append(msgs, saved...)
	return &History{msgs: msgs}
}

// Append adds a turn.
func (h *History) Append(msg model.Message) {
	h.msgs = append(h.msgs, msg)
}

// Len returns the number of turns.
func (h *History) Len() int {
	return len(h.msgs)
}

// Messages returns a copy of the turns for building a completion request.
func (h *History) Messages() []model.Message {
	return append([]model.Message(nil), h.msgs...)
}

// SetSystem replaces the system turn's content in place.
func (h *History) SetSystem(content string) {
	for i := range h.msgs {
		if h.msgs[i].Role == model.RoleSystem {
			h.msgs[i].Content = content
			return
		}
	}
	h.msgs = append([]model.Message{model.NewSystemMessage(content)}, h.msgs...)
}

// Trim drops the oldest non-system turns until at most max remain. The
// system turn is always retained.
func (h *History) Trim(max int) {
	if max <= 0 || len(h.msgs) <= max {
		return
	}
	trimmed := make([]model.Message, 0, max)
	var rest []model.Message
	for _, msg := range h.msgs {
		if msg.Role == model.RoleSystem {
			trimmed = append(trimmed, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	keep := max - len(trimmed)
	if keep < 0 {
		keep = 0
	}
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}
	h.msgs = append(trimmed, rest...)
}

// PatchAsync replaces the content of the tool-result turn holding asyncID
// with content. It reports whether a matching turn was found.
func (h *History) PatchAsync(asyncID, content string) bool {
	for i := range h.msgs {
		if h.msgs[i].Role == model.RoleTool && strings.Contains(h.msgs[i].Content, asyncID) {
			h.msgs[i].Content = content
			return true
		}
	}
	return false
}

// Patch is a detached worker's request to replace an async placeholder.
type Patch struct {
	AsyncID string
	Content string
}

// Mailbox is the per-call channel detached workers post Patches into. The
// orchestrator drains it at the top of each loop iteration, so history is
// only ever mutated from the call's own control flow.
type Mailbox chan Patch

// NewMailbox creates a mailbox with room for a call's worth of patches.
func NewMailbox() Mailbox {
	return make(Mailbox, 32)
}

// Post delivers a patch without blocking; a full mailbox drops the patch,
// which the registry-poll fallback later repairs.
func (m Mailbox) Post(p Patch) bool {
	select {
	case m <- p:
		return true
	default:
		return false
	}
}
