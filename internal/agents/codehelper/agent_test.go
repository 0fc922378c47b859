package codehelper

import (
	"context"
	"testing"

	"garvis/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicFor(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"Can you review my code?", "review"},
		{"please check my code", "review"},
		{"I have a bug in my loop", "debug"},
		{"Here is the error message I get", "debug_error"},
		{"help me read this stack trace, it's an error", "debug_error"},
		{"How should I comment this function?", "docs"},
		{"write unit test for parser", "testing"},
		{"git rebase or merge?", "git"},
		{"good git commit message", "git_commit"},
		{"javascript closures", "javascript"},
		{"node js event loop", "javascript"},
		{"what is js hoisting", "javascript"},
		{"typescript generics", "typescript"},
		{"ts variable narrowing", "typescript"},
		{"react hooks", "react"},
		{"npm install fails", "node"},
		{"python class attributes", "python"},
		{"golang channels", "golang"},
		{"refactor this class", "general"},
		{"json function", "general"},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			assert.Equal(t, tt.want, topicFor(tt.content))
		})
	}
}

func TestEveryTopicHasGuide(t *testing.T) {
	for _, topic := range []string{
		"review", "debug", "debug_error", "docs", "testing", "git", "git_commit",
		"javascript", "typescript", "react", "node", "python", "golang", "general",
	} {
		text, err := guide(topic)
		require.NoError(t, err, topic)
		assert.NotEmpty(t, text, topic)
	}

	_, err := guide("missing")
	assert.Error(t, err)
}

func TestAgent_CanHandle(t *testing.T) {
	a := New()
	assert.True(t, a.CanHandle(domain.NewRequest("U", "C", "Debug this please")))
	assert.True(t, a.CanHandle(domain.NewRequest("U", "C", "write a unit test")))
	assert.True(t, a.CanHandle(domain.NewRequest("U", "C", "golang generics")))
	assert.False(t, a.CanHandle(domain.NewRequest("U", "C", "hello there")))
}

func TestAgent_Execute(t *testing.T) {
	ctx := context.Background()
	a := New()
	require.NoError(t, a.Initialize(ctx))

	resp, err := a.Execute(ctx, domain.NewRequest("U", "C", "review my code"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Contains(t, resp.Content, "Code Review Assistant")
	assert.Equal(t, Name, resp.AgentUsed())

	resp, err = a.Execute(ctx, domain.NewRequest("U", "C", "I have a good commit message?"))
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "Git Commit Help")
}
