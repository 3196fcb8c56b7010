// Package orchestrate drives one conversational turn: it calls the
// completion service, consumes the token/tool-call stream, runs tools through
// the execution coordinator, and loops until a plain-text terminal reply or a
// control marker is produced.
package orchestrate

// Output is the closed union streamed to the protocol layer during a turn:
// plain text to speak, or a control marker.
type Output interface {
	isOutput()
}

// Text is a chunk of assistant text to be spoken.
type Text struct {
	Content string
}

func (Text) isOutput() {}

// ToolExecuting is a keep-alive marker: a tool is running and the turn is not
// over. The protocol layer flushes buffered speech and keeps the transport
// alive.
type ToolExecuting struct {
	Name string
}

func (ToolExecuting) isOutput() {}

// Play requests an audio cue on the transport.
type Play struct {
	Source        string
	Loop          int
	Preemptible   bool
	Interruptible bool
}

func (Play) isOutput() {}

// ResetConversation signals that a reset tool fired. The protocol layer
// discards the in-memory history and re-seeds the system turn; the
// orchestrator leaves the old history intact as an audit trail.
type ResetConversation struct {
	Message string
}

func (ResetConversation) isOutput() {}

// HangupCall signals a tool-initiated hangup. Any Message is spoken first;
// the protocol layer then closes with the hangup close code and Reason.
type HangupCall struct {
	Message string
	Reason  string
}

func (HangupCall) isOutput() {}
