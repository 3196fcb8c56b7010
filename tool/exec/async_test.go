package exec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicewire/relay/tool"
)

func asyncSpec(handler tool.Handler) *tool.Spec {
	return &tool.Spec{
		Name:        "send_report",
		Async:       true,
		InputSchema: &tool.Schema{Type: "object"},
		Handler:     handler,
	}
}

func TestDispatchAsyncPlaceholder(t *testing.T) {
	c := newTestCoordinator(t)
	release := make(chan struct{})
	defer close(release)
	spec := asyncSpec(func(context.Context, map[string]any) (any, error) {
		<-release
		return map[string]any{"sent": true}, nil
	})

	placeholder := c.DispatchAsync(spec, "CA1", map[string]any{}, nil)

	assert.Equal(t, true, placeholder["success"])
	assert.Equal(t, true, placeholder["asyncExecution"])
	assert.Equal(t, StatusPending, placeholder["status"])
	asyncID, _ := placeholder["asyncId"].(string)
	require.NotEmpty(t, asyncID)

	_, ok := c.Async().Lookup(asyncID)
	assert.False(t, ok, "lookup stays empty while the handler runs")
	assert.Equal(t, StatusPending, c.Async().Status(asyncID))
}

func TestDispatchAsyncSettlesAndNotifies(t *testing.T) {
	c := newTestCoordinator(t)
	spec := asyncSpec(func(context.Context, map[string]any) (any, error) {
		return map[string]any{"sent": true}, nil
	})

	var mu sync.Mutex
	var notified string
	var notifiedResult any
	placeholder := c.DispatchAsync(spec, "CA1", map[string]any{}, func(asyncID string, result any) {
		mu.Lock()
		defer mu.Unlock()
		notified = asyncID
		notifiedResult = result
	})
	asyncID := placeholder["asyncId"].(string)

	require.Eventually(t, func() bool {
		_, ok := c.Async().Lookup(asyncID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, StatusCompleted, c.Async().Status(asyncID))
	result, ok := c.Async().Lookup(asyncID)
	require.True(t, ok)
	assert.Equal(t, true, result.(map[string]any)["sent"])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, asyncID, notified)
	assert.Equal(t, result, notifiedResult)
}

func TestDispatchAsyncHandlerFailure(t *testing.T) {
	c := newTestCoordinator(t)
	spec := asyncSpec(func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("smtp down")
	})

	placeholder := c.DispatchAsync(spec, "CA1", map[string]any{}, nil)
	asyncID := placeholder["asyncId"].(string)

	require.Eventually(t, func() bool {
		return c.Async().Status(asyncID) == StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	result, ok := c.Async().Lookup(asyncID)
	require.True(t, ok)
	assert.Equal(t, "smtp down", result.(map[string]any)["error"])
}

func TestDispatchAsyncSubmitFailureLeavesNoEntry(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)
	c.Close()
	spec := asyncSpec(func(context.Context, map[string]any) (any, error) {
		t.Fatal("handler must not run when the pool rejects the job")
		return nil, nil
	})

	result := c.DispatchAsync(spec, "CA1", map[string]any{}, nil)

	assert.Equal(t, false, result["success"])
	assert.NotEmpty(t, result["error"])
	asyncID, _ := result["asyncId"].(string)
	require.NotEmpty(t, asyncID)
	assert.Empty(t, c.Async().Status(asyncID), "a rejected dispatch must not linger in the registry")
}

func TestDispatchAsyncRefusesInvalidArgs(t *testing.T) {
	c := newTestCoordinator(t)
	spec := &tool.Spec{
		Name:  "send_report",
		Async: true,
		InputSchema: &tool.Schema{
			Type:     "object",
			Required: []string{"to"},
			Properties: map[string]*tool.Schema{
				"to": {Type: "string"},
			},
		},
		Handler: func(context.Context, map[string]any) (any, error) {
			t.Fatal("handler must not run on refused arguments")
			return nil, nil
		},
	}

	result := c.DispatchAsync(spec, "CA1", map[string]any{}, nil)

	assert.Equal(t, false, result["success"])
	assert.Equal(t, true, result["refused"])
	assert.NotEmpty(t, result["reasons"])
	assert.NotContains(t, result, "asyncId", "no execution was started")
}

func TestAsyncRegistryForget(t *testing.T) {
	r := NewAsyncRegistry()
	r.create("abc")
	r.settle("abc", StatusCompleted, "data")

	_, ok := r.Lookup("abc")
	require.True(t, ok)

	r.Forget("abc")
	_, ok = r.Lookup("abc")
	assert.False(t, ok)
	assert.Empty(t, r.Status("abc"))
}
