package agent

import (
	"context"
	"errors"
	"testing"

	"garvis/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBase(handler HandlerFunc) *Base {
	return NewBase(Spec{
		Name:         "Test",
		Description:  "Test agent",
		Capabilities: []string{"testing"},
		Keywords:     []string{"test"},
	}, handler)
}

func echoHandler(_ context.Context, req domain.Request) (string, error) {
	return "Test response for: " + req.Content, nil
}

func TestBase_ExecuteBeforeInitialize(t *testing.T) {
	b := newTestBase(echoHandler)
	req := domain.NewRequest("U1", "C1", "test")

	_, err := b.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotInitialized))
	assert.Contains(t, err.Error(), "Agent not initialized")

	name, ok := domain.AgentNameOf(err)
	require.True(t, ok)
	assert.Equal(t, "Test", name)
	assert.EqualValues(t, 0, b.ExecutionCount())
}

func TestBase_Lifecycle(t *testing.T) {
	ctx := context.Background()
	b := newTestBase(echoHandler)
	require.False(t, b.IsInitialized())

	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, b.Initialize(ctx))
	assert.True(t, b.IsInitialized())

	resp, err := b.Execute(ctx, domain.NewRequest("U1", "C1", "This is a test message"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, "Test response for: This is a test message", resp.Content)
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, "Test", resp.Metadata.AgentUsed)
	assert.GreaterOrEqual(t, resp.Metadata.ExecutionTime, int64(0))
	assert.EqualValues(t, 1, b.ExecutionCount())

	require.NoError(t, b.Cleanup(ctx))
	assert.False(t, b.IsInitialized())
	assert.EqualValues(t, 0, b.ExecutionCount())

	_, err = b.Execute(ctx, domain.NewRequest("U1", "C1", "test"))
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestBase_HandlerErrorBecomesErrorResponse(t *testing.T) {
	b := newTestBase(func(context.Context, domain.Request) (string, error) {
		return "", errors.New("database unavailable")
	})
	require.NoError(t, b.Initialize(context.Background()))

	req := domain.NewRequest("U1", "C1", "test")
	resp, err := b.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, "Error in Test: database unavailable", resp.Content)
	assert.Equal(t, req.ID, resp.RequestID)
	assert.Equal(t, "Test", resp.AgentUsed())
}

func TestBase_HandlerPanicBecomesErrorResponse(t *testing.T) {
	b := newTestBase(func(context.Context, domain.Request) (string, error) {
		panic("nil map")
	})
	require.NoError(t, b.Initialize(context.Background()))

	resp, err := b.Execute(context.Background(), domain.NewRequest("U1", "C1", "test"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, "Error in Test: nil map", resp.Content)
}

func TestBase_CanHandleCaseInsensitive(t *testing.T) {
	b := NewBase(Spec{Name: "X", Keywords: []string{"What Is"}}, echoHandler)

	assert.True(t, b.CanHandle(domain.NewRequest("U", "C", "WHAT IS garvis?")))
	assert.False(t, b.CanHandle(domain.NewRequest("U", "C", "hello")))
}

func TestBase_CapabilitiesAreCopied(t *testing.T) {
	b := newTestBase(echoHandler)
	caps := b.Capabilities()
	caps[0] = "mutated"
	assert.Equal(t, []string{"testing"}, b.Capabilities())
}

func TestHasKeywords(t *testing.T) {
	tests := []struct {
		content  string
		keywords []string
		want     bool
	}{
		{"Please debug this", []string{"debug"}, true},
		{"PLEASE DEBUG THIS", []string{"debug"}, true},
		{"nothing here", []string{"debug", "code"}, false},
		{"anything", nil, false},
		{"anything", []string{""}, false},
		{"where is it", []string{"why", "where"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasKeywords(tt.content, tt.keywords), "content=%q", tt.content)
	}
}

