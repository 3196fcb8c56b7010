// Package exec runs tool invocations for the relay: synchronously with
// periodic thinking keep-alives, or detached with a result registry and a
// completion callback.
package exec

// Event is the closed union of signals emitted while a tool executes.
type Event interface {
	isEvent()
}

// Thinking is a keep-alive emitted while the handler is still running. The
// first Thinking of an execution carries the tool's announcement text.
type Thinking struct {
	Text string
}

func (Thinking) isEvent() {}

// Result carries the handler's outcome. Exactly one Result ends every
// execution; handler errors arrive here wrapped, never as a raised error.
type Result struct {
	Data any
}

func (Result) isEvent() {}
