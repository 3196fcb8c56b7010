// Package builtin registers the relay's stock tools: call controls, a clock,
// and an asynchronous follow-up sender.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voicewire/relay/orchestrate"
	"github.com/voicewire/relay/tool"
)

// Options configures the optional built-ins.
type Options struct {
	// FollowupWebhook is the endpoint send_followup posts to. When empty the
	// tool is not registered.
	FollowupWebhook string

	// HTTPClient overrides the default follow-up client.
	HTTPClient *http.Client
}

// Register installs the built-in tools into reg.
func Register(reg *tool.Registry, opts Options) {
	reg.MustRegister(resetConversation())
	reg.MustRegister(setModel())
	reg.MustRegister(hangupCall())
	reg.MustRegister(getTime())
	if opts.FollowupWebhook != "" {
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Second}
		}
		reg.MustRegister(sendFollowup(opts.FollowupWebhook, client))
	}
}

func resetConversation() *tool.Spec {
	return &tool.Spec{
		Name:        "reset_conversation",
		Description: "Forget the conversation so far and start over. Use when the caller asks to start fresh.",
		Category:    tool.CategoryControl,
		InputSchema: &tool.Schema{
			Type: "object",
			Properties: map[string]*tool.Schema{
				"message": {
					Type:        "string",
					Description: "What to say to the caller after the reset.",
				},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			message, _ := args["message"].(string)
			if message == "" {
				message = "Okay, let's start over. How can I help you?"
			}
			return orchestrate.NewResetResult(message), nil
		},
	}
}

func setModel() *tool.Spec {
	return &tool.Spec{
		Name:        "set_model",
		Description: "Switch the language model answering this call. Use only when the caller explicitly asks for a different model.",
		Category:    tool.CategoryControl,
		InputSchema: &tool.Schema{
			Type:     "object",
			Required: []string{"model"},
			Properties: map[string]*tool.Schema{
				"model": {
					Type:        "string",
					Description: "The model identifier to switch to.",
				},
				"message": {
					Type:        "string",
					Description: "What to say to the caller after switching.",
				},
				"temperature": {
					Type:        "number",
					Description: "Optional sampling temperature for the new model.",
				},
				"maxTokens": {
					Type:        "integer",
					Description: "Optional completion token limit for the new model.",
				},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			modelName, _ := args["model"].(string)
			if modelName == "" {
				return nil, fmt.Errorf("set_model: model is required")
			}
			message, _ := args["message"].(string)
			if message == "" {
				message = fmt.Sprintf("Okay, I've switched over to %s.", modelName)
			}
			var temperature *float64
			if t, ok := args["temperature"].(float64); ok {
				temperature = &t
			}
			var maxTokens *int
			if m, ok := args["maxTokens"].(float64); ok {
				n := int(m)
				maxTokens = &n
			}
			return orchestrate.NewModelChangeResult(modelName, message, temperature, maxTokens), nil
		},
	}
}

func hangupCall() *tool.Spec {
	return &tool.Spec{
		Name:        "hangup_call",
		Description: "End the call. Use when the caller says goodbye or asks to hang up.",
		Category:    tool.CategoryControl,
		InputSchema: &tool.Schema{
			Type: "object",
			Properties: map[string]*tool.Schema{
				"message": {
					Type:        "string",
					Description: "A short farewell to say before hanging up.",
				},
				"reason": {
					Type:        "string",
					Description: "Why the call is ending.",
				},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			message, _ := args["message"].(string)
			if message == "" {
				message = "Thanks for calling. Goodbye!"
			}
			reason, _ := args["reason"].(string)
			return orchestrate.NewHangupResult(message, reason), nil
		},
	}
}

func getTime() *tool.Spec {
	return &tool.Spec{
		Name:        "get_time",
		Description: "Get the current date and time.",
		Category:    tool.CategoryQuery,
		InputSchema: &tool.Schema{
			Type: "object",
			Properties: map[string]*tool.Schema{
				"timezone": {
					Type:        "string",
					Description: "IANA timezone name, e.g. America/New_York. Defaults to the server timezone.",
				},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			now := time.Now()
			if tz, ok := args["timezone"].(string); ok && tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("get_time: unknown timezone %q", tz)
				}
				now = now.In(loc)
			}
			return map[string]any{
				"time":     now.Format("Monday, January 2, 2006 at 3:04 PM"),
				"timezone": now.Location().String(),
			}, nil
		},
	}
}

// followupPayload is what send_followup posts to the configured webhook.
type followupPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func sendFollowup(webhook string, client *http.Client) *tool.Spec {
	return &tool.Spec{
		Name:        "send_followup",
		Description: "Send the caller a text message after the call, for example a summary or a link they asked for.",
		Category:    tool.CategoryFollowup,
		Async:       true,
		PromptText:  "I'll send that along in just a moment.",
		ThinkingPhrases: []string{
			"Still working on that message.",
			"Almost done putting that together.",
		},
		InputSchema: &tool.Schema{
			Type:     "object",
			Required: []string{"to", "message"},
			Properties: map[string]*tool.Schema{
				"to": {
					Type:        "string",
					Description: "The recipient's phone number.",
				},
				"message": {
					Type:        "string",
					Description: "The message body to send.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			to, _ := args["to"].(string)
			message, _ := args["message"].(string)
			body, err := json.Marshal(followupPayload{To: to, Message: message})
			if err != nil {
				return nil, fmt.Errorf("send_followup: encode payload: %w", err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("send_followup: build request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			rsp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("send_followup: post webhook: %w", err)
			}
			defer rsp.Body.Close()
			if rsp.StatusCode >= 300 {
				return nil, fmt.Errorf("send_followup: webhook returned %s", rsp.Status)
			}
			return map[string]any{"sent": true, "to": to}, nil
		},
	}
}
