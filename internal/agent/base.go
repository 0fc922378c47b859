package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"garvis/internal/domain"
)

// HandlerFunc produces the reply text for a request. Returning an error (or
// panicking) yields a Response with StatusError rather than a failed Execute.
type HandlerFunc func(ctx context.Context, req domain.Request) (string, error)

// Spec is the fixed identity of an agent.
type Spec struct {
	Name         string
	Description  string
	Capabilities []string
	Keywords     []string // matched case-insensitively as substrings
}

// Base implements the lifecycle shared by every agent: the ready gate,
// execution counting, timing and error wrapping. Concrete agents embed *Base
// and may override Initialize or Cleanup, calling through to Base when done.
type Base struct {
	spec       Spec
	keywords   []string
	handler    HandlerFunc
	ready      atomic.Bool
	executions atomic.Int64
}

var _ domain.Agent = (*Base)(nil)

// NewBase returns an uninitialized Base.
func NewBase(spec Spec, handler HandlerFunc) *Base {
	return &Base{
		spec:     spec,
		keywords: lowerAll(spec.Keywords),
		handler:  handler,
	}
}

func (b *Base) Name() string        { return b.spec.Name }
func (b *Base) Description() string { return b.spec.Description }

func (b *Base) Capabilities() []string {
	out := make([]string, len(b.spec.Capabilities))
	copy(out, b.spec.Capabilities)
	return out
}

// Keywords returns the lower-cased routing keywords.
func (b *Base) Keywords() []string {
	out := make([]string, len(b.keywords))
	copy(out, b.keywords)
	return out
}

// CanHandle matches the request content against the agent's keywords.
func (b *Base) CanHandle(req domain.Request) bool {
	return HasKeywords(req.Content, b.keywords)
}

// Execute runs the handler. It fails only when the agent is not initialized.
func (b *Base) Execute(ctx context.Context, req domain.Request) (domain.Response, error) {
	if !b.ready.Load() {
		return domain.Response{}, domain.NewAgentError(b.spec.Name, "Agent not initialized",
			map[string]any{"requestId": req.ID}, domain.ErrNotInitialized)
	}

	start := time.Now()
	b.executions.Add(1)

	content, err := b.run(ctx, req)
	meta := &domain.ResponseMetadata{
		ExecutionTime: time.Since(start).Milliseconds(),
		AgentUsed:     b.spec.Name,
	}
	if err != nil {
		return domain.Response{
			RequestID: req.ID,
			Status:    domain.StatusError,
			Content:   fmt.Sprintf("Error in %s: %s", b.spec.Name, err.Error()),
			Metadata:  meta,
		}, nil
	}
	return domain.Response{
		RequestID: req.ID,
		Status:    domain.StatusSuccess,
		Content:   content,
		Metadata:  meta,
	}, nil
}

func (b *Base) run(ctx context.Context, req domain.Request) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	if b.handler == nil {
		return "", fmt.Errorf("no handler configured")
	}
	return b.handler(ctx, req)
}

// Initialize marks the agent ready. Calling it again has no further effect.
func (b *Base) Initialize(ctx context.Context) error {
	b.ready.Store(true)
	return nil
}

// Cleanup clears the ready flag and resets the execution counter.
func (b *Base) Cleanup(ctx context.Context) error {
	b.ready.Store(false)
	b.executions.Store(0)
	return nil
}

func (b *Base) IsInitialized() bool { return b.ready.Load() }

// ExecutionCount is the number of Execute calls since the last Cleanup.
func (b *Base) ExecutionCount() int64 { return b.executions.Load() }
