package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestContext(t *testing.T) {
	reqCtx := NewRequestContext(nil, "search_memory", "alice")
	assert.NotEmpty(t, reqCtx.RequestID)
	assert.Equal(t, "alice", reqCtx.AgentID)
	assert.Equal(t, "search_memory", reqCtx.Operation)
	assert.NotNil(t, reqCtx.Logger)
	assert.GreaterOrEqual(t, reqCtx.DurationMs(), int64(0))

	// Request ids are unique per request.
	other := NewRequestContext(nil, "search_memory", "alice")
	assert.NotEqual(t, reqCtx.RequestID, other.RequestID)
}

func TestRequestContextRoundTrip(t *testing.T) {
	reqCtx := NewRequestContext(nil, "think", "alice")
	ctx := WithRequestContext(context.Background(), reqCtx)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, reqCtx, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
