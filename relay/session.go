package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/relay/agent"
	"github.com/voicewire/relay/log"
	"github.com/voicewire/relay/model"
	"github.com/voicewire/relay/orchestrate"
)

// Connection-level deadlines.
const (
	// maxConnectionAge is how long one WebSocket connection may live before
	// the client is told to re-establish it.
	maxConnectionAge = 55 * time.Minute

	// turnBudgetGrace is the remaining-call-time threshold below which the
	// relay says goodbye and hangs up.
	turnBudgetGrace = 5 * time.Second

	writeControlTimeout = time.Second
)

// Fixed frames for locally-recovered protocol errors.
const (
	malformedReply  = "I'm sorry, I received a malformed message. Could you repeat that?"
	errorFrameReply = "I'm sorry, something went wrong on the line. Let's keep going."
	reconnectNotice = "Please hold while I reconnect our call."
	goodbyeReply    = "We've run out of time for this call. Thank you, and goodbye!"
)

type sessionState int

const (
	stateAwaitingSetup sessionState = iota
	stateActive
	stateClosing
	stateClosed
)

// Session is the per-connection protocol state machine. It owns the live
// WebSocket, consumes the call registry entry at setup, forwards prompts to
// the orchestrator, and applies the chunking policy to its output.
//
// All reads and writes happen on the session's own control flow; the only
// concurrent actors are detached tool workers, which communicate through the
// orchestrator's mailbox.
type Session struct {
	conn   *websocket.Conn
	server *Server

	state     sessionState
	callSID   string
	agentName string
	callerID  string
	cfg       *agent.RuntimeConfig
	orch      *orchestrate.Orchestrator
	mailbox   orchestrate.Mailbox
	tokens    model.Usage

	connStart     time.Time
	callDeadline  time.Time
	reconnectSent bool
}

func newSession(conn *websocket.Conn, server *Server) *Session {
	return &Session{conn: conn, server: server, state: stateAwaitingSetup}
}

// Run drives the session until the connection ends. The agent's active flag
// is released on every exit path, including panics propagating to teardown.
func (s *Session) Run(ctx context.Context) {
	defer s.teardown()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.state == stateActive {
				log.Infof("call %s: connection closed: %v", s.callSID, err)
			}
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warnf("call %s: malformed frame: %v", s.callSID, err)
			if s.state == stateActive {
				s.sendTerminalText(malformedReply)
			}
			continue
		}

		switch s.state {
		case stateAwaitingSetup:
			if frame.Type != frameTypeSetup {
				log.Debugf("ignoring %q frame before setup", frame.Type)
				continue
			}
			if !s.handleSetup(&frame) {
				return
			}
		case stateActive:
			if s.checkDeadlines() {
				return
			}
			if s.dispatch(ctx, &frame) {
				return
			}
		default:
			return
		}
	}
}

// dispatch routes one active-state frame. It returns true when the session
// closed the connection.
func (s *Session) dispatch(ctx context.Context, frame *inboundFrame) bool {
	switch frame.Type {
	case frameTypePrompt:
		return s.handlePrompt(ctx, frame.VoicePrompt)
	case frameTypeInterrupt:
		// Log-only: no state change, no reply.
		log.Infof("call %s: interrupted after %dms, heard %q",
			s.callSID, frame.DurationUntilInterruptMs, frame.UtteranceUntilInterrupt)
		s.server.writer.Record(s.callSID, "interrupt", frame.UtteranceUntilInterrupt)
		return false
	case frameTypeError:
		log.Warnf("call %s: transport error %s: %s", s.callSID, frame.Code, frame.Description)
		s.sendTerminalText(errorFrameReply)
		return false
	case frameTypeSetup:
		log.Debugf("call %s: duplicate setup frame ignored", s.callSID)
		return false
	default:
		log.Debugf("call %s: unrecognized frame type %q ignored", s.callSID, frame.Type)
		return false
	}
}

// handleSetup resolves the staged identity and activates the agent. It
// returns false when the connection was rejected.
func (s *Session) handleSetup(frame *inboundFrame) bool {
	callSID := frame.callSID()
	desc := s.server.registry.Pop(callSID)
	if desc == nil {
		// Never fail the connection over a missing descriptor.
		log.Warnf("call %s: no staged descriptor, using fallback identity", callSID)
		desc = s.server.fallbackDescriptor(callSID)
	}
	if !s.server.registry.TryActivate(desc.AgentName) {
		log.Warnf("call %s: agent %s already on a call, rejecting", callSID, desc.AgentName)
		s.closeWith(websocket.ClosePolicyViolation, "agent busy")
		return false
	}

	cfg := desc.Config
	cfg.Normalize()

	s.callSID = callSID
	s.agentName = desc.AgentName
	s.callerID = desc.CallerID
	s.cfg = cfg
	s.connStart = s.server.now()
	s.callDeadline = s.connStart.Add(cfg.MaxCallDuration)
	s.mailbox = orchestrate.NewMailbox()
	s.orch = orchestrate.New(orchestrate.Config{
		CallSID:     callSID,
		AgentName:   desc.AgentName,
		CallerID:    desc.CallerID,
		Runtime:     cfg,
		History:     orchestrate.NewHistory(cfg.SystemPrompt, desc.SavedHistory),
		Mailbox:     s.mailbox,
		Tools:       s.server.tools,
		Coordinator: s.server.coord,
		Models:      s.server.models,
	})
	s.state = stateActive
	log.Infof("call %s: setup complete, agent=%s caller=%s resumed=%v",
		callSID, desc.AgentName, desc.CallerID, desc.Resumed)

	if cfg.Greeting != "" && !desc.Resumed {
		s.sendTerminalText(cfg.Greeting)
		s.server.writer.Record(callSID, "assistant", cfg.Greeting)
	}
	return true
}

// checkDeadlines enforces the connection-age and turn-budget deadlines. Both
// are checked on every inbound frame, before dispatch. It returns true when
// the session closed the connection.
func (s *Session) checkDeadlines() bool {
	now := s.server.now()
	if !s.reconnectSent && now.Sub(s.connStart) > maxConnectionAge {
		s.reconnectSent = true
		log.Infof("call %s: connection age limit reached, asking client to reconnect", s.callSID)
		s.sendTerminalText(reconnectNotice)
		s.closeWith(CloseReconnect, "connection age limit")
		return true
	}
	if remaining := s.callDeadline.Sub(now); remaining <= turnBudgetGrace {
		log.Infof("call %s: call time exhausted, saying goodbye", s.callSID)
		s.sendTerminalText(goodbyeReply)
		if remaining > 0 {
			time.Sleep(remaining)
		}
		s.closeWith(websocket.CloseNormalClosure, "call time exhausted")
		return true
	}
	return false
}

// handlePrompt runs one turn. It returns true when the turn ended the
// connection (tool-initiated hangup or a dead transport).
func (s *Session) handlePrompt(ctx context.Context, text string) bool {
	s.server.writer.Record(s.callSID, "user", text)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outputs := s.orch.StreamTurn(turnCtx, text)
	out := newChunker(s.cfg.Voice, func(token string, last bool) error {
		return s.conn.WriteJSON(newTextFrame(token, last))
	})

	var spoken strings.Builder
	var hangup *orchestrate.HangupCall
	var reset *orchestrate.ResetConversation
	broken := false

	for output := range outputs {
		if broken {
			continue // drain so the orchestrator can finish
		}
		var err error
		switch v := output.(type) {
		case orchestrate.Text:
			spoken.WriteString(v.Content)
			err = out.push(v.Content)
		case orchestrate.ToolExecuting:
			if err = out.toolFlush(); err == nil {
				err = s.sendKeepAlive()
			}
		case orchestrate.Play:
			err = s.conn.WriteJSON(playFrame{
				Type:          frameTypePlay,
				Source:        v.Source,
				Loop:          v.Loop,
				Preemptible:   v.Preemptible,
				Interruptible: v.Interruptible,
			})
		case orchestrate.ResetConversation:
			r := v
			reset = &r
			if v.Message != "" {
				spoken.WriteString(v.Message)
				err = out.push(v.Message)
			}
		case orchestrate.HangupCall:
			h := v
			hangup = &h
		}
		if err != nil {
			log.Warnf("call %s: write failed mid-turn: %v", s.callSID, err)
			broken = true
			cancel()
		}
	}
	if !broken {
		if err := out.close(); err != nil {
			broken = true
		}
	}

	if spoken.Len() > 0 {
		s.server.writer.Record(s.callSID, "assistant", spoken.String())
	}
	if reset != nil {
		s.resetConversation()
	}
	if broken {
		return true
	}
	if hangup != nil {
		reason := hangup.Reason
		if reason == "" {
			reason = "hangup"
		}
		s.closeWith(CloseHangup, reason)
		return true
	}
	return false
}

// resetConversation discards the in-memory history and re-seeds the system
// turn. The orchestrator left the old history intact for logging; a fresh
// orchestrator starts over on the same runtime config and mailbox.
func (s *Session) resetConversation() {
	log.Infof("call %s: conversation reset", s.callSID)
	s.addUsage(s.orch.Usage())
	s.orch = orchestrate.New(orchestrate.Config{
		CallSID:     s.callSID,
		AgentName:   s.agentName,
		CallerID:    s.callerID,
		Runtime:     s.cfg,
		History:     orchestrate.NewHistory(s.cfg.SystemPrompt, nil),
		Mailbox:     s.mailbox,
		Tools:       s.server.tools,
		Coordinator: s.server.coord,
		Models:      s.server.models,
	})
}

func (s *Session) sendKeepAlive() error {
	if s.server.keepAliveSource == "" {
		return nil
	}
	return s.conn.WriteJSON(playFrame{
		Type:        frameTypePlay,
		Source:      s.server.keepAliveSource,
		Loop:        1,
		Preemptible: true,
	})
}

func (s *Session) sendTerminalText(text string) {
	if err := s.conn.WriteJSON(newTextFrame(text, true)); err != nil {
		log.Warnf("call %s: terminal frame write failed: %v", s.callSID, err)
	}
}

func (s *Session) closeWith(code int, reason string) {
	s.state = stateClosing
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeControlTimeout)); err != nil {
		log.Debugf("call %s: close control write failed: %v", s.callSID, err)
	}
}

func (s *Session) addUsage(u model.Usage) {
	s.tokens.PromptTokens += u.PromptTokens
	s.tokens.CompletionTokens += u.CompletionTokens
	s.tokens.TotalTokens += u.TotalTokens
}

// teardown runs on every exit path.
func (s *Session) teardown() {
	if s.agentName != "" {
		s.server.registry.Release(s.agentName)
	}
	if s.callSID != "" {
		s.addUsage(s.orch.Usage())
		log.Infof("call %s: closed after %s, tokens prompt=%d completion=%d",
			s.callSID, time.Since(s.connStart).Round(time.Second),
			s.tokens.PromptTokens, s.tokens.CompletionTokens)
		s.server.writer.Forget(s.callSID)
	}
	s.state = stateClosed
	s.conn.Close()
}
