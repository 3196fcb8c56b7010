package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/voicewire/relay/agent"
	"github.com/voicewire/relay/log"
	"github.com/voicewire/relay/model"
	"github.com/voicewire/relay/telemetry"
	"github.com/voicewire/relay/tool"
	"github.com/voicewire/relay/tool/exec"
)

// Fixed replies for turn-level failures.
const (
	// ErrorReply ends a turn after the completion service failed and the
	// backup, if any, was already spent.
	ErrorReply = "I'm sorry, I'm having trouble putting that together right now. Could you say that again?"

	// MaxToolsReply ends a turn that exhausted its tool budget.
	MaxToolsReply = "I've reached the maximum number of tool uses for this request."
)

const outputBufferSize = 64

// ModelFactory resolves a model name from the runtime config into a backend.
// It is consulted on every completion call so model swaps mid-turn take
// effect immediately.
type ModelFactory func(name string) model.Model

// Config wires one per-call orchestrator.
type Config struct {
	CallSID     string
	AgentName   string
	CallerID    string
	Runtime     *agent.RuntimeConfig
	History     *History
	Mailbox     Mailbox
	Tools       *tool.Registry
	Coordinator *exec.Coordinator
	Models      ModelFactory
}

// Orchestrator processes user turns for one live call. It owns no transport;
// output is streamed to the caller as a sequence of Text and control marker
// values.
type Orchestrator struct {
	callSID   string
	agentName string
	callerID  string
	cfg       *agent.RuntimeConfig
	history   *History
	mailbox   Mailbox
	tools     *tool.Registry
	coord     *exec.Coordinator
	models    ModelFactory

	usage model.Usage

	// pendingPrefix is prepended to the next emitted text; set by backup
	// failover to announce the model swap.
	pendingPrefix string
}

// New creates an orchestrator for one call.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		callSID:   cfg.CallSID,
		agentName: cfg.AgentName,
		callerID:  cfg.CallerID,
		cfg:       cfg.Runtime,
		history:   cfg.History,
		mailbox:   cfg.Mailbox,
		tools:     cfg.Tools,
		coord:     cfg.Coordinator,
		models:    cfg.Models,
	}
}

// History returns the orchestrator's conversation history.
func (o *Orchestrator) History() *History {
	return o.history
}

// Usage returns the token tallies accumulated across completed turns. Only
// valid between turns.
func (o *Orchestrator) Usage() model.Usage {
	return o.usage
}

// StreamTurn processes exactly one user turn. The returned channel emits
// Text and control markers in speaking order and is closed when the turn
// ends, whatever the reason.
func (o *Orchestrator) StreamTurn(ctx context.Context, userText string) <-chan Output {
	out := make(chan Output, outputBufferSize)
	go func() {
		defer close(out)
		ctx, span := telemetry.StartTurn(ctx, o.callSID, o.agentName)
		defer span.End()
		o.runTurn(ctx, userText, out)
	}()
	return out
}

func (o *Orchestrator) runTurn(ctx context.Context, userText string, out chan<- Output) {
	o.history.Append(model.NewUserMessage(userText))
	o.history.SetSystem(Interpolate(o.cfg.SystemPrompt, PromptVars(o.callerID, o.agentName)))
	o.history.Trim(o.cfg.MaxHistory)

	o.pendingPrefix = ""
	backupUsed := false
	toolIterations := 0

	for {
		// Fold in any async results that settled since the last call.
		o.drainMailbox()
		o.patchSettledAsync()

		text, toolCalls, streamErr := o.streamCompletion(ctx, out, toolIterations)
		if ctx.Err() != nil {
			return
		}

		if streamErr != nil || (text == "" && len(toolCalls) == 0) {
			if o.cfg.BackupModel != "" && !backupUsed && o.cfg.BackupModel != o.cfg.Model {
				backupUsed = true
				o.cfg.ApplyBackup()
				o.pendingPrefix = fmt.Sprintf("%s says:\n", o.cfg.Model)
				log.Warnf("call %s: completion failed (%v), failing over to %s",
					o.callSID, streamErr, o.cfg.Model)
				continue
			}
			log.Errorf("call %s: completion failed with no backup left: %v", o.callSID, streamErr)
			o.emitText(ctx, out, ErrorReply)
			return
		}

		if len(toolCalls) == 0 {
			// Normal terminal case: a plain text reply.
			o.history.Append(model.NewAssistantMessage(text))
			return
		}

		if toolIterations >= o.cfg.MaxToolIterations {
			o.emitText(ctx, out, MaxToolsReply)
			return
		}
		toolIterations++

		o.history.Append(model.Message{
			Role:      model.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		})
		for _, call := range toolCalls {
			if stop := o.runToolCall(ctx, out, call); stop {
				return
			}
		}
	}
}

// streamCompletion performs one completion call, emitting text deltas as they
// arrive. It returns the accumulated text and any tool calls from the final
// response.
func (o *Orchestrator) streamCompletion(
	ctx context.Context,
	out chan<- Output,
	toolIterations int,
) (string, []model.ToolCall, error) {
	request := o.buildRequest(toolIterations)
	backend := o.models(o.cfg.Model)

	ch, err := backend.GenerateContent(ctx, request)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var toolCalls []model.ToolCall
	for rsp := range ch {
		if rsp.Error != nil {
			return text.String(), nil, errors.New(rsp.Error.Message)
		}
		if rsp.IsPartial {
			delta := rsp.TextDelta()
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			o.emitText(ctx, out, delta)
			continue
		}
		if rsp.Usage != nil {
			o.usage.PromptTokens += rsp.Usage.PromptTokens
			o.usage.CompletionTokens += rsp.Usage.CompletionTokens
			o.usage.TotalTokens += rsp.Usage.TotalTokens
		}
		if len(rsp.Choices) > 0 {
			// A backend that returned everything in the final response (no
			// partials) still gets its text spoken.
			if text.Len() == 0 && rsp.Choices[0].Message.Content != "" {
				text.WriteString(rsp.Choices[0].Message.Content)
				o.emitText(ctx, out, rsp.Choices[0].Message.Content)
			}
			if calls := rsp.ToolCalls(); len(calls) > 0 {
				toolCalls = calls
			}
		}
	}

	// Tool-result turns are appended in the order the model declared.
	sort.SliceStable(toolCalls, func(i, j int) bool {
		return indexOf(toolCalls[i]) < indexOf(toolCalls[j])
	})
	return text.String(), toolCalls, nil
}

func (o *Orchestrator) buildRequest(toolIterations int) *model.Request {
	request := &model.Request{
		Messages: o.history.Messages(),
		GenerationConfig: model.GenerationConfig{
			Stream:      true,
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxTokens,
		},
	}
	// Once the per-turn tool budget is spent, strip tools entirely so the
	// model has to produce a final textual reply.
	if toolIterations < o.cfg.MaxToolIterations {
		request.Tools = o.tools.Declarations(o.cfg.Tools)
		if len(request.Tools) > 0 {
			request.ToolChoice = model.ToolChoiceAuto
		}
	}
	return request
}

// runToolCall executes one tool call and appends its result turn. It returns
// true when the result short-circuits the turn (reset, model change, hangup)
// or the caller went away.
func (o *Orchestrator) runToolCall(ctx context.Context, out chan<- Output, call model.ToolCall) bool {
	name := call.Function.Name
	spec := o.tools.Get(name)
	if spec == nil {
		log.Warnf("call %s: model requested unknown tool %q", o.callSID, name)
		o.appendToolResult(call.ID, map[string]any{"error": fmt.Sprintf("unknown tool %q", name)})
		return false
	}
	args, err := tool.DecodeArgs(call.Function.Arguments)
	if err != nil {
		o.appendToolResult(call.ID, map[string]any{"error": err.Error()})
		return false
	}

	if spec.Async {
		placeholder := o.coord.DispatchAsync(spec, o.callSID, args, func(asyncID string, result any) {
			o.mailbox.Post(Patch{AsyncID: asyncID, Content: marshalResult(result)})
		})
		o.appendToolResult(call.ID, placeholder)
		return false
	}

	if refusal := spec.ValidateArgs(args); refusal != nil {
		o.appendToolResult(call.ID, refusal)
		return false
	}

	var result any
	for ev := range o.coord.Execute(ctx, spec, o.callSID, args) {
		switch ev := ev.(type) {
		case exec.Thinking:
			if ev.Text != "" && !o.emitText(ctx, out, ev.Text) {
				return true
			}
			if !emitOutput(ctx, out, ToolExecuting{Name: name}) {
				return true
			}
		case exec.Result:
			result = ev.Data
		}
	}
	if ctx.Err() != nil {
		return true
	}

	if message, ok := isReset(result); ok {
		// The old conversation stays intact as an audit trail; the protocol
		// layer re-seeds history on seeing the marker.
		o.appendToolResult(call.ID, result)
		emitOutput(ctx, out, ResetConversation{Message: message})
		return true
	}
	if modelName, message, temperature, maxTokens, ok := isModelChange(result); ok {
		o.cfg.ApplyModelChange(modelName, temperature, maxTokens)
		o.appendToolResult(call.ID, result)
		if message != "" {
			o.emitText(ctx, out, message)
		}
		return true
	}
	if message, reason, ok := isHangup(result); ok {
		o.appendToolResult(call.ID, result)
		if message != "" {
			o.emitText(ctx, out, message)
		}
		emitOutput(ctx, out, HangupCall{Message: message, Reason: reason})
		return true
	}

	o.appendToolResult(call.ID, result)
	return false
}

func (o *Orchestrator) appendToolResult(callID string, result any) {
	o.history.Append(model.NewToolMessage(callID, marshalResult(result)))
}

// drainMailbox applies all patches detached workers have posted.
func (o *Orchestrator) drainMailbox() {
	for {
		select {
		case patch := <-o.mailbox:
			if !o.history.PatchAsync(patch.AsyncID, patch.Content) {
				log.Debugf("call %s: no placeholder for async %s", o.callSID, patch.AsyncID)
			}
			o.coord.Async().Forget(patch.AsyncID)
		default:
			return
		}
	}
}

// asyncPlaceholder mirrors the placeholder result appended to history when an
// async tool is dispatched.
type asyncPlaceholder struct {
	AsyncExecution bool   `json:"asyncExecution"`
	AsyncID        string `json:"asyncId"`
	Status         string `json:"status"`
}

// patchSettledAsync is the best-effort registry poll: any pending placeholder
// whose async id has a stored result is replaced in place. It never blocks on
// an unfinished execution.
func (o *Orchestrator) patchSettledAsync() {
	for _, msg := range o.history.Messages() {
		if msg.Role != model.RoleTool {
			continue
		}
		var placeholder asyncPlaceholder
		if err := json.Unmarshal([]byte(msg.Content), &placeholder); err != nil {
			continue
		}
		if !placeholder.AsyncExecution || placeholder.Status != exec.StatusPending {
			continue
		}
		if result, ok := o.coord.Async().Lookup(placeholder.AsyncID); ok {
			o.history.PatchAsync(placeholder.AsyncID, marshalResult(result))
			o.coord.Async().Forget(placeholder.AsyncID)
		}
	}
}

// emitText sends text to the caller, consuming any pending model-swap prefix.
// It reports false when the caller went away.
func (o *Orchestrator) emitText(ctx context.Context, out chan<- Output, text string) bool {
	if o.pendingPrefix != "" {
		text = o.pendingPrefix + text
		o.pendingPrefix = ""
	}
	return emitOutput(ctx, out, Text{Content: text})
}

func emitOutput(ctx context.Context, out chan<- Output, output Output) bool {
	select {
	case out <- output:
		return true
	case <-ctx.Done():
		return false
	}
}

func marshalResult(result any) string {
	if result == nil {
		return "null"
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

func indexOf(call model.ToolCall) int {
	if call.Index == nil {
		return 0
	}
	return *call.Index
}
