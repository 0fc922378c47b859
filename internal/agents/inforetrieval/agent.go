// Package inforetrieval answers general questions. It knows about Garvis
// itself and the current time; everything else gets a demonstration reply.
package inforetrieval

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"garvis/internal/agent"
	"garvis/internal/domain"
)

const Name = "InfoRetrieval"

var keywords = []string{
	"what is", "what are", "explain", "define", "tell me about", "information about",
	"search for", "find", "lookup", "how does", "why", "when", "where",
}

// Agent is the question-answering agent.
type Agent struct {
	*agent.Base
	now func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithClock overrides the time source used for date and time answers.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

func New(opts ...Option) *Agent {
	a := &Agent{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	a.Base = agent.NewBase(agent.Spec{
		Name:         Name,
		Description:  "Provides information and answers questions about various topics",
		Capabilities: []string{"search", "question-answering", "definitions", "explanations"},
		Keywords:     keywords,
	}, a.handle)
	return a
}

func (a *Agent) handle(_ context.Context, req domain.Request) (string, error) {
	lower := strings.ToLower(req.Content)
	words := strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) })
	hasWord := func(targets ...string) bool {
		for _, w := range words {
			for _, t := range targets {
				if w == t {
					return true
				}
			}
		}
		return false
	}

	switch {
	case strings.Contains(lower, "what is garvis") || strings.Contains(lower, "about garvis"):
		return aboutGarvis, nil
	case hasWord("time", "date", "today"):
		return a.currentTime(), nil
	case strings.Contains(lower, "weather"):
		return weatherReply, nil
	case strings.Contains(lower, "help") || strings.Contains(lower, "commands"):
		return helpReply, nil
	default:
		return fmt.Sprintf(defaultReply, req.Content), nil
	}
}

func (a *Agent) currentTime() string {
	now := a.now()
	zone, _ := now.Zone()
	return fmt.Sprintf("The current date and time is: %s\n\nTimezone: %s (%s)",
		now.Format("Monday, January 2, 2006 15:04:05"), now.Location().String(), zone)
}

const aboutGarvis = `Garvis is a Slack-based AI assistant that routes each request to a specialized agent. It is modular and extensible, sending every request to the agent best suited to handle it.

Key features:
• Routing of requests to specialized agents
• Natural language requests
• Slack mentions, DMs and the /garvis slash command
• Modular architecture that is easy to extend

How can I help you today?`

const weatherReply = `I don't have access to real-time weather data, but I can help with other information requests.

For the weather you could:
• Check your local weather app
• Visit weather.com or weather.gov

Is there something else I can help you with?`

const helpReply = `Here are some ways to interact with me:

*Direct questions:*
• "What is [topic]?" to get information about a topic
• "Explain [concept]" for an explanation
• "Tell me about [subject]" to learn about a subject

*Available agents:*
• Info Retrieval (me) for questions and information
• Task Manager for todo lists and reminders
• Code Helper for programming assistance

*Commands:*
• "help" lists every agent's capabilities
• "status" shows system information

What would you like to know more about?`

const defaultReply = `I'd be happy to help you find information about "%s"!

I'm running in demonstration mode with limited knowledge access. A full implementation would:
• Search relevant databases and APIs
• Use real-time information sources
• Give detailed answers with related topics

For now I can help with:
• Questions about Garvis
• The current time and date
• System status and capabilities
• Routing to other specialized agents

Is there a specific aspect you'd like to explore?`
