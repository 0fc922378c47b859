// Package codehelper answers programming questions with canned guides for
// review, debugging, documentation, testing, Git and a few languages.
package codehelper

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"unicode"

	"garvis/internal/agent"
	"garvis/internal/domain"
)

const Name = "CodeHelper"

//go:embed guides/*.md
var guidesFS embed.FS

var keywords = []string{
	"code", "debug", "bug", "error", "function", "class", "variable",
	"javascript", "typescript", "python", "java", "golang", "react", "node", "npm", "git",
	"review", "refactor", "optimize", "algorithm", "documentation", "comment",
	"test", "testing", "unit test",
}

// Agent is the programming assistant.
type Agent struct {
	*agent.Base
}

func New() *Agent {
	a := &Agent{}
	a.Base = agent.NewBase(agent.Spec{
		Name:         Name,
		Description:  "Assists with code review, debugging, and programming questions",
		Capabilities: []string{"code-review", "debugging", "documentation", "programming-help"},
		Keywords:     keywords,
	}, a.handle)
	return a
}

func (a *Agent) handle(_ context.Context, req domain.Request) (string, error) {
	return guide(topicFor(req.Content))
}

// topicFor picks the guide for content. The first matching rule wins.
func topicFor(content string) string {
	lower := strings.ToLower(content)
	words := wordSet(lower)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}

	switch {
	case has("review", "check my code"):
		return "review"
	case has("debug", "error", "bug"):
		if has("error message", "stack trace") {
			return "debug_error"
		}
		return "debug"
	case has("document", "comment"):
		return "docs"
	case has("test"):
		return "testing"
	case has("git", "commit", "branch"):
		if has("commit") {
			return "git_commit"
		}
		return "git"
	case has("javascript") || words["js"]:
		return "javascript"
	case has("typescript") || words["ts"]:
		return "typescript"
	case has("react"):
		return "react"
	case has("node", "npm"):
		return "node"
	case has("python"):
		return "python"
	case has("golang") || words["go"]:
		return "golang"
	default:
		return "general"
	}
}

func guide(topic string) (string, error) {
	data, err := guidesFS.ReadFile("guides/" + topic + ".md")
	if err != nil {
		return "", fmt.Errorf("guide %q: %w", topic, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func wordSet(s string) map[string]bool {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
