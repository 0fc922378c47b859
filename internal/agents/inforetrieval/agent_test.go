package inforetrieval

import (
	"context"
	"testing"
	"time"

	"garvis/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgent_CanHandle(t *testing.T) {
	a := New()
	for _, content := range []string{
		"What is Garvis?",
		"Explain goroutines",
		"where is the office",
		"Can you LOOKUP this",
	} {
		assert.True(t, a.CanHandle(domain.NewRequest("U", "C", content)), content)
	}
	assert.False(t, a.CanHandle(domain.NewRequest("U", "C", "hello")))
}

func TestAgent_Responses(t *testing.T) {
	fixed := time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC)
	a := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx))

	tests := []struct {
		content string
		want    string
	}{
		{"what is garvis", "Garvis is a Slack-based AI assistant"},
		{"Tell me about Garvis", "Garvis is a Slack-based AI assistant"},
		{"what time is it?", "Tuesday, March 5, 2024 14:30:00"},
		{"what is the date today", "Timezone: UTC"},
		{"what is the weather like", "real-time weather"},
		{"what are the commands", "Available agents"},
		{"explain quantum computing", `information about "explain quantum computing"`},
		{"tell me about the update", `information about "tell me about the update"`},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			resp, err := a.Execute(ctx, domain.NewRequest("U", "C", tt.content))
			require.NoError(t, err)
			assert.Equal(t, domain.StatusSuccess, resp.Status)
			assert.Contains(t, resp.Content, tt.want)
			assert.Equal(t, Name, resp.AgentUsed())
		})
	}
}

func TestAgent_NotInitialized(t *testing.T) {
	_, err := New().Execute(context.Background(), domain.NewRequest("U", "C", "what is x"))
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}
