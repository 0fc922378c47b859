package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ResponseStatus tags the outcome of a request.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusError   ResponseStatus = "error"
	StatusPartial ResponseStatus = "partial"
)

// AgentUsedNone is reported when no agent handled a request.
const AgentUsedNone = "none"

// RequestMetadata carries optional transport details for a request.
type RequestMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Mentions  []string  `json:"mentions,omitempty"`
}

// Request is a single user message routed to an agent.
// It is passed by value and never modified after construction.
type Request struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	ChannelID string           `json:"channel_id"`
	Content   string           `json:"content"`
	Context   map[string]any   `json:"context,omitempty"`
	Metadata  *RequestMetadata `json:"metadata,omitempty"`
}

// NewRequest builds a Request with a fresh id and the current timestamp.
func NewRequest(userID, channelID, content string) Request {
	return Request{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChannelID: channelID,
		Content:   content,
		Metadata:  &RequestMetadata{Timestamp: time.Now()},
	}
}

// ThreadID returns the thread identifier, or "" when the request is not threaded.
func (r Request) ThreadID() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.ThreadID
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	ExecutionTime int64  `json:"execution_time"` // milliseconds
	AgentUsed     string `json:"agent_used"`
	Attachments   []any  `json:"attachments,omitempty"`
}

// ActionType classifies a follow-up action.
type ActionType string

const (
	ActionSpawnAgent   ActionType = "spawn_agent"
	ActionScheduleTask ActionType = "schedule_task"
	ActionSendDM       ActionType = "send_dm"
	ActionUpdateStatus ActionType = "update_status"
)

// AgentAction is a typed follow-up an agent may suggest. The dispatcher does not act on it.
type AgentAction struct {
	Type    ActionType     `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Response is produced exactly once per request.
type Response struct {
	RequestID       string            `json:"request_id"`
	Status          ResponseStatus    `json:"status"`
	Content         string            `json:"content"`
	Metadata        *ResponseMetadata `json:"metadata,omitempty"`
	FollowUpActions []AgentAction     `json:"follow_up_actions,omitempty"`
}

// AgentUsed returns the name recorded in the metadata, or "" if absent.
func (r Response) AgentUsed() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.AgentUsed
}

// Agent is a registered handler. The dispatcher only ever calls these methods;
// any state an agent keeps (per-user data, connections) stays private to it.
type Agent interface {
	Name() string
	Description() string
	Capabilities() []string

	// CanHandle must be side-effect free and must not panic.
	CanHandle(req Request) bool
	// Execute returns an error only when the agent is not ready. Failures in
	// agent logic are reported as a Response with StatusError.
	Execute(ctx context.Context, req Request) (Response, error)
	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// AgentStats is a point-in-time view of one registered agent.
type AgentStats struct {
	Executions   int      `json:"executions"` // in-flight executions
	Capabilities []string `json:"capabilities"`
}
