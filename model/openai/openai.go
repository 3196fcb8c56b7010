// Package openai provides a streaming chat-completion backend built on the
// official openai-go client. It also serves OpenAI-compatible endpoints via
// the base URL option.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/voicewire/relay/log"
	"github.com/voicewire/relay/model"
	"github.com/voicewire/relay/tool"
)

const (
	defaultChannelBufferSize = 256
	functionToolType         = "function"
)

type options struct {
	APIKey            string
	BaseURL           string
	ChannelBufferSize int
	OpenAIOptions     []openaiopt.RequestOption
}

// Option configures the Model.
type Option func(*options)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *options) { o.APIKey = key }
}

// WithBaseURL sets the base URL, for OpenAI-compatible services.
func WithBaseURL(url string) Option {
	return func(o *options) { o.BaseURL = url }
}

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.ChannelBufferSize = size
		}
	}
}

// WithOpenAIOptions appends raw openai-go request options.
func WithOpenAIOptions(opts ...openaiopt.RequestOption) Option {
	return func(o *options) { o.OpenAIOptions = append(o.OpenAIOptions, opts...) }
}

// Model is a model.Model backed by the OpenAI chat completions API.
type Model struct {
	client            openai.Client
	name              string
	channelBufferSize int
}

// New creates an OpenAI-backed model with the given model name.
func New(name string, opts ...Option) *Model {
	o := &options{ChannelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	clientOpts = append(clientOpts, o.OpenAIOptions...)
	return &Model{
		client:            openai.NewClient(clientOpts...),
		name:              name,
		channelBufferSize: o.ChannelBufferSize,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name}
}

// GenerateContent implements the model.Model interface.
func (m *Model) GenerateContent(
	ctx context.Context,
	request *model.Request,
) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}

	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.Messages),
		Tools:    convertTools(request.Tools),
	}
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}
	if request.ToolChoice != "" && len(chatRequest.Tools) > 0 {
		chatRequest.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(string(request.ToolChoice)),
		}
	}
	if request.Stream {
		chatRequest.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}

	responseChan := make(chan *model.Response, m.channelBufferSize)
	go func() {
		defer close(responseChan)
		if request.Stream {
			m.handleStreamingResponse(ctx, chatRequest, responseChan)
		} else {
			m.handleResponse(ctx, chatRequest, responseChan)
		}
	}()
	return responseChan, nil
}

// convertMessages converts relay messages to OpenAI's union format.
func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			}
		case model.RoleAssistant:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCalls: convertToolCalls(msg.ToolCalls),
				},
			}
		case model.RoleTool:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCallID: msg.ToolID,
				},
			}
		default:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			}
		}
	}
	return result
}

func convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, toolCall := range toolCalls {
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: toolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      toolCall.Function.Name,
				Arguments: string(toolCall.Function.Arguments),
			},
		})
	}
	return result
}

func convertTools(decls []*tool.Declaration) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, decl := range decls {
		schemaBytes, err := json.Marshal(decl.InputSchema)
		if err != nil {
			log.Errorf("marshal tool schema for %s: %v", decl.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("unmarshal tool schema for %s: %v", decl.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        decl.Name,
				Description: openai.String(decl.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}

// handleStreamingResponse consumes the SSE stream, emitting partial responses
// for text deltas and one final response with accumulated tool calls and usage.
func (m *Model) handleStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, chatRequest)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	// Track tool call ID -> stream index for fragment pairing.
	idToIndexMap := make(map[string]int)

	for stream.Next() {
		chunk := stream.Current()
		if skipEmptyChunk(chunk) {
			continue
		}
		updateToolCallIndexMapping(chunk, idToIndexMap)
		// Always accumulate for correctness; tool call deltas are assembled
		// after the stream completes.
		acc.AddChunk(chunk)
		if suppressChunk(chunk) {
			continue
		}
		select {
		case responseChan <- createPartialResponse(chunk):
		case <-ctx.Done():
			return
		}
	}
	m.sendFinalResponse(ctx, stream, acc, idToIndexMap, responseChan)
}

// handleResponse handles the non-streaming path.
func (m *Model) handleResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
) {
	completion, err := m.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		sendResponse(ctx, responseChan, errorResponse(err, model.ErrorTypeAPI))
		return
	}
	response := &model.Response{
		ID:      completion.ID,
		Object:  model.ObjectTypeChatCompletion,
		Created: completion.Created,
		Model:   completion.Model,
		Done:    true,
	}
	for i, choice := range completion.Choices {
		msg := model.Message{
			Role:    model.RoleAssistant,
			Content: choice.Message.Content,
		}
		for j, tc := range choice.Message.ToolCalls {
			idx := j
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
				Index: &idx,
				ID:    tc.ID,
				Type:  functionToolType,
				Function: model.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: []byte(tc.Function.Arguments),
				},
			})
		}
		finishReason := string(choice.FinishReason)
		response.Choices = append(response.Choices, model.Choice{
			Index:        i,
			Message:      msg,
			FinishReason: &finishReason,
		})
	}
	if completion.Usage.TotalTokens > 0 {
		response.Usage = &model.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		}
	}
	sendResponse(ctx, responseChan, response)
}

func updateToolCallIndexMapping(chunk openai.ChatCompletionChunk, idToIndexMap map[string]int) {
	if len(chunk.Choices) > 0 && len(chunk.Choices[0].Delta.ToolCalls) > 0 {
		toolCall := chunk.Choices[0].Delta.ToolCalls[0]
		if toolCall.ID != "" {
			idToIndexMap[toolCall.ID] = int(toolCall.Index)
		}
	}
}

// suppressChunk reports whether a chunk carries nothing worth emitting as a
// partial response. Tool call deltas are suppressed; they surface only in the
// final aggregated response.
func suppressChunk(chunk openai.ChatCompletionChunk) bool {
	if len(chunk.Choices) == 0 {
		return true
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		return false
	}
	if choice.Delta.JSON.ToolCalls.Valid() {
		return true
	}
	return choice.FinishReason == ""
}

// skipEmptyChunk reports whether a chunk contains no delta at all.
func skipEmptyChunk(chunk openai.ChatCompletionChunk) bool {
	if len(chunk.Choices) == 0 {
		return false
	}
	delta := chunk.Choices[0].Delta
	if delta.JSON.ToolCalls.Valid() && len(delta.ToolCalls) == 0 {
		return true
	}
	return false
}

func createPartialResponse(chunk openai.ChatCompletionChunk) *model.Response {
	response := &model.Response{
		ID:        chunk.ID,
		Object:    model.ObjectTypeChatCompletionChunk,
		Created:   chunk.Created,
		Model:     chunk.Model,
		IsPartial: true,
	}
	if len(chunk.Choices) > 0 {
		choice := model.Choice{
			Delta: model.Message{
				Role:    model.RoleAssistant,
				Content: chunk.Choices[0].Delta.Content,
			},
		}
		if chunk.Choices[0].FinishReason != "" {
			finishReason := chunk.Choices[0].FinishReason
			choice.FinishReason = &finishReason
		}
		response.Choices = []model.Choice{choice}
	}
	return response
}

// sendFinalResponse sends the final accumulated response, or the stream error.
func (m *Model) sendFinalResponse(
	ctx context.Context,
	stream *ssestream.Stream[openai.ChatCompletionChunk],
	acc openai.ChatCompletionAccumulator,
	idToIndexMap map[string]int,
	responseChan chan<- *model.Response,
) {
	if stream.Err() != nil {
		sendResponse(ctx, responseChan, errorResponse(stream.Err(), model.ErrorTypeStream))
		return
	}

	var toolCalls []model.ToolCall
	if len(acc.Choices) > 0 {
		toolCalls = accumulatedToolCalls(acc, idToIndexMap)
	}

	finalResponse := &model.Response{
		ID:      acc.ID,
		Object:  model.ObjectTypeChatCompletion,
		Created: acc.Created,
		Model:   acc.Model,
		Done:    true,
	}
	if acc.Usage.TotalTokens > 0 {
		finalResponse.Usage = &model.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		}
	}
	for i, choice := range acc.Choices {
		msg := model.Message{
			Role:    model.RoleAssistant,
			Content: choice.Message.Content,
		}
		if i == 0 {
			msg.ToolCalls = toolCalls
		}
		finishReason := string(choice.FinishReason)
		finalResponse.Choices = append(finalResponse.Choices, model.Choice{
			Index:        i,
			Message:      msg,
			FinishReason: &finishReason,
		})
	}
	sendResponse(ctx, responseChan, finalResponse)
}

// accumulatedToolCalls assembles the tool calls collected by the accumulator,
// restoring each call's original stream index.
func accumulatedToolCalls(
	acc openai.ChatCompletionAccumulator,
	idToIndexMap map[string]int,
) []model.ToolCall {
	calls := make([]model.ToolCall, 0, len(acc.Choices[0].Message.ToolCalls))
	for i, toolCall := range acc.Choices[0].Message.ToolCalls {
		// The accumulator can hold an empty placeholder when the provider
		// starts tool call indexes above zero.
		if toolCall.Function.Name == "" && toolCall.ID == "" {
			continue
		}
		originalIndex := i
		if toolCall.ID != "" {
			if mapped, ok := idToIndexMap[toolCall.ID]; ok {
				originalIndex = mapped
			}
		}
		// Some providers omit the tool call ID; synthesize a stable one so
		// result turns pair up.
		id := toolCall.ID
		if id == "" {
			id = fmt.Sprintf("auto_call_%d", originalIndex)
		}
		idx := originalIndex
		calls = append(calls, model.ToolCall{
			Index: &idx,
			ID:    id,
			Type:  functionToolType,
			Function: model.FunctionCall{
				Name:      toolCall.Function.Name,
				Arguments: []byte(toolCall.Function.Arguments),
			},
		})
	}
	return calls
}

func errorResponse(err error, errType string) *model.Response {
	return &model.Response{
		Object: model.ObjectTypeError,
		Error: &model.ResponseError{
			Message: err.Error(),
			Type:    errType,
		},
		Created: time.Now().Unix(),
		Done:    true,
	}
}

func sendResponse(ctx context.Context, ch chan<- *model.Response, rsp *model.Response) {
	select {
	case ch <- rsp:
	case <-ctx.Done():
	}
}
