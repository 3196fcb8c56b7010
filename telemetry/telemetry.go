// Package telemetry exposes the relay's OpenTelemetry tracer and meter. Both
// default to noops; deployments that export telemetry install real providers
// at process start via SetTracerProvider/SetMeterProvider and these globals
// pick them up.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	noopt "go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/voicewire/relay"

var (
	// Tracer is the global tracer for the relay.
	Tracer trace.Tracer = noopt.Tracer{}
	// Meter is the global meter for the relay.
	Meter metric.Meter = noopm.Meter{}
)

// Init binds the globals to the process-wide otel providers. Call it after
// the providers are installed.
func Init() {
	Tracer = otel.Tracer(scopeName)
	Meter = otel.Meter(scopeName)
}

// Span attribute keys used by the relay.
var (
	KeyCallSID   = attribute.Key("relay.call_sid")
	KeyAgentName = attribute.Key("relay.agent")
	KeyToolName  = attribute.Key("relay.tool")
	KeyModelName = attribute.Key("relay.model")
)

// StartTurn opens a span covering one conversational turn.
func StartTurn(ctx context.Context, callSID, agentName string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "relay.turn",
		trace.WithAttributes(KeyCallSID.String(callSID), KeyAgentName.String(agentName)))
}

// StartToolCall opens a span covering one tool execution.
func StartToolCall(ctx context.Context, callSID, toolName string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "relay.tool_call",
		trace.WithAttributes(KeyCallSID.String(callSID), KeyToolName.String(toolName)))
}
