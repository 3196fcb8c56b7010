package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/relay/agent"
	"github.com/voicewire/relay/log"
	"github.com/voicewire/relay/orchestrate"
	"github.com/voicewire/relay/registry"
	"github.com/voicewire/relay/tool"
	"github.com/voicewire/relay/tool/exec"
	"github.com/voicewire/relay/transcript"
)

// ServerConfig wires the shared collaborators every session uses.
type ServerConfig struct {
	Registry    *registry.CallRegistry
	Tools       *tool.Registry
	Coordinator *exec.Coordinator
	Models      orchestrate.ModelFactory
	Writer      *transcript.Writer

	// Profiles resolves an agent name to its configured profile for the
	// staging endpoint. The returned config is cloned before staging.
	Profiles func(name string) *agent.RuntimeConfig

	// DefaultAgent names the profile used when a connection arrives with no
	// staged descriptor.
	DefaultAgent string

	// KeepAliveSource, when set, is an audio URL played while a tool runs.
	KeepAliveSource string
}

// Server accepts relay WebSocket connections and staging requests.
type Server struct {
	registry        *registry.CallRegistry
	tools           *tool.Registry
	coord           *exec.Coordinator
	models          orchestrate.ModelFactory
	writer          *transcript.Writer
	profiles        func(name string) *agent.RuntimeConfig
	defaultAgent    string
	keepAliveSource string
	upgrader        websocket.Upgrader

	// now is replaceable in tests to drive the session deadlines.
	now func() time.Time
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		registry:        cfg.Registry,
		tools:           cfg.Tools,
		coord:           cfg.Coordinator,
		models:          cfg.Models,
		writer:          cfg.Writer,
		profiles:        cfg.Profiles,
		defaultAgent:    cfg.DefaultAgent,
		keepAliveSource: cfg.KeepAliveSource,
		now:             time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The telephony platform dials from its own origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the connection and runs the session to completion.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	newSession(conn, s).Run(r.Context())
}

// fallbackDescriptor builds the unknown-caller identity used when no
// descriptor was staged for a call.
func (s *Server) fallbackDescriptor(callSID string) *agent.Descriptor {
	cfg := s.profiles(s.defaultAgent)
	if cfg == nil {
		cfg = &agent.RuntimeConfig{}
	}
	return &agent.Descriptor{
		AgentName: s.defaultAgent,
		Config:    cfg.Clone(),
		CallerID:  "unknown",
	}
}

type stageRequest struct {
	CallSID      string            `json:"callSid"`
	AgentName    string            `json:"agentName"`
	CallerID     string            `json:"callerId"`
	Resumed      bool              `json:"resumed,omitempty"`
	SavedHistory json.RawMessage   `json:"savedHistory,omitempty"`
	Extras       map[string]string `json:"extras,omitempty"`
}

// ServeStage stages a call descriptor ahead of the WebSocket setup frame.
// POST /v1/calls/stage.
func (s *Server) ServeStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CallSID == "" || req.AgentName == "" {
		http.Error(w, "callSid and agentName are required", http.StatusBadRequest)
		return
	}
	profile := s.profiles(req.AgentName)
	if profile == nil {
		http.Error(w, "unknown agent", http.StatusNotFound)
		return
	}
	desc := &agent.Descriptor{
		AgentName: req.AgentName,
		Config:    profile.Clone(),
		CallerID:  req.CallerID,
		Resumed:   req.Resumed,
		Extras:    req.Extras,
	}
	if len(req.SavedHistory) > 0 {
		if err := json.Unmarshal(req.SavedHistory, &desc.SavedHistory); err != nil {
			http.Error(w, "invalid savedHistory", http.StatusBadRequest)
			return
		}
	}
	s.registry.Store(req.CallSID, desc)
	log.Infof("staged call %s for agent %s", req.CallSID, req.AgentName)
	w.WriteHeader(http.StatusNoContent)
}

// ServeHealth reports liveness. GET /healthz.
func (s *Server) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
