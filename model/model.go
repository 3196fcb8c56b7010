// Package model provides the chat-completion abstraction consumed by the
// relay's completion orchestrator.
package model

import "context"

// Model is the interface for streaming chat-completion backends.
//
// Errors are split across two layers:
//
//  1. Function-level errors (returned as `error`): system failures that
//     prevent communication at all — nil request, bad parameters.
//  2. Response-level errors (Response.Error): API failures delivered through
//     the response channel after communication succeeded — rate limits,
//     filtered content, stream aborts.
//
// Usage:
//
//	ch, err := m.GenerateContent(ctx, req)
//	if err != nil {
//	    return fmt.Errorf("generate content: %w", err)
//	}
//	for rsp := range ch {
//	    if rsp.Error != nil {
//	        // API-level error
//	    }
//	    // process rsp
//	}
type Model interface {
	// GenerateContent streams completion responses for the request. The
	// returned channel is closed when the stream ends, for any reason.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a Model.
type Info struct {
	Name string
}
