// Package relay owns the live telephony connection: the per-call protocol
// state machine, the audio-markup chunking policy, and the WebSocket server
// they run behind.
package relay

// Inbound frame types.
const (
	frameTypeSetup     = "setup"
	frameTypePrompt    = "prompt"
	frameTypeInterrupt = "interrupt"
	frameTypeError     = "error"
)

// Outbound frame types.
const (
	frameTypeText = "text"
	frameTypePlay = "play"
)

// Custom close codes, alongside the standard policy-violation code.
const (
	// CloseReconnect tells the client to re-establish the connection; sent
	// when the connection-age deadline passes.
	CloseReconnect = 4000

	// CloseHangup is a tool-initiated hangup, carrying a short reason.
	CloseHangup = 4100
)

// inboundFrame is the decoded shape of every frame the transport sends. The
// setup frame's call id arrives as either "callSid" or "call_sid" depending
// on the transport version.
type inboundFrame struct {
	Type string `json:"type"`

	// Setup fields.
	CallSID      string `json:"callSid"`
	CallSIDSnake string `json:"call_sid"`

	// Prompt fields.
	VoicePrompt string `json:"voicePrompt"`

	// Interrupt fields.
	UtteranceUntilInterrupt  string  `json:"utteranceUntilInterrupt"`
	DurationUntilInterruptMs int     `json:"durationUntilInterruptMs"`
	Reason                   string  `json:"reason,omitempty"`
	Confidence               float64 `json:"confidence,omitempty"`

	// Error fields.
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (f *inboundFrame) callSID() string {
	if f.CallSID != "" {
		return f.CallSID
	}
	return f.CallSIDSnake
}

// textFrame is a chunk of synthesized-speech text. The frame with last=true
// closes the turn.
type textFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	Last  bool   `json:"last"`
}

func newTextFrame(token string, last bool) textFrame {
	return textFrame{Type: frameTypeText, Token: token, Last: last}
}

// playFrame requests an audio cue; the relay uses it as the tool-execution
// keep-alive so the transport does not treat the turn as finished.
type playFrame struct {
	Type          string `json:"type"`
	Source        string `json:"source"`
	Loop          int    `json:"loop"`
	Preemptible   bool   `json:"preemptible"`
	Interruptible bool   `json:"interruptible"`
}
