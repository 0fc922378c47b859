package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"garvis/internal/bus"
	"garvis/internal/domain"
	"garvis/internal/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxConcurrent = 10

	noAgentMessage = "No agent found to handle this request. Please try rephrasing your request or use /garvis help to see available capabilities."
)

// ManagerConfig configures a Manager. Events and Metrics are optional.
type ManagerConfig struct {
	Logger        *slog.Logger
	MaxConcurrent int           // per-agent cap, DefaultMaxConcurrent when <= 0
	Timeout       time.Duration // 0 disables the execution deadline
	Events        *bus.EventBus
	Metrics       *metrics.Metrics
}

// Manager is the agent registry and dispatcher. It routes each request to the
// first registered agent that accepts it and caps concurrent executions per agent.
type Manager struct {
	mu       sync.RWMutex
	order    []string
	agents   map[string]domain.Agent
	inFlight map[string]int
	gen      map[string]uint64 // bumped whenever a count is reset

	maxConcurrent int
	timeout       time.Duration
	logger        *slog.Logger
	events        *bus.EventBus
	metrics       *metrics.Metrics
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		agents:        make(map[string]domain.Agent),
		inFlight:      make(map[string]int),
		gen:           make(map[string]uint64),
		maxConcurrent: cfg.MaxConcurrent,
		timeout:       cfg.Timeout,
		logger:        cfg.Logger,
		events:        cfg.Events,
		metrics:       cfg.Metrics,
	}
}

// RegisterAgent adds a to the registry. An agent with the same name is
// replaced in place and its in-flight count starts again from zero.
func (m *Manager) RegisterAgent(a domain.Agent) {
	name := a.Name()

	m.mu.Lock()
	_, replaced := m.agents[name]
	if !replaced {
		m.order = append(m.order, name)
	}
	m.agents[name] = a
	m.inFlight[name] = 0
	m.gen[name]++
	m.mu.Unlock()

	m.metrics.SetInFlight(name, 0)
	m.logger.Info("registering agent",
		"agent", name,
		"description", a.Description(),
		"capabilities", a.Capabilities(),
		"replaced", replaced,
	)
	m.emit(bus.Event{Type: bus.EventAgentRegistered, Agent: name,
		Payload: map[string]any{"replaced": replaced}})
}

func (m *Manager) GetAgent(name string) (domain.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[name]
	return a, ok
}

// GetAllAgents returns the registered agents in registration order.
func (m *Manager) GetAllAgents() []domain.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Agent, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.agents[name])
	}
	return out
}

// FindAgentForRequest returns the first agent, in registration order, whose
// CanHandle accepts req.
func (m *Manager) FindAgentForRequest(req domain.Request) (domain.Agent, bool) {
	for _, a := range m.GetAllAgents() {
		if a.CanHandle(req) {
			return a, true
		}
	}
	return nil, false
}

// ExecuteRequest routes req to an agent and runs it. Routing misses, capacity
// rejections and deadline overruns come back as error Responses with a nil
// error. A non-nil error means the agent itself failed to execute.
func (m *Manager) ExecuteRequest(ctx context.Context, req domain.Request) (domain.Response, error) {
	log := m.logger.With("request_id", req.ID, "user_id", req.UserID)

	a, ok := m.FindAgentForRequest(req)
	if !ok {
		log.Warn("no agent found for request", "content", truncate(req.Content, 80))
		m.metrics.IncUnmatched()
		m.emit(bus.Event{Type: bus.EventAgentUnmatched, RequestID: req.ID})
		return errorResponse(req.ID, noAgentMessage, domain.AgentUsedNone), nil
	}

	name := a.Name()
	slot, ok := m.acquire(name)
	if !ok {
		log.Warn("agent at maximum capacity", "agent", name, "max_concurrent", m.maxConcurrent)
		m.metrics.IncRejected(name, metrics.ReasonCapacity)
		m.emit(bus.Event{Type: bus.EventAgentRejected, Agent: name, RequestID: req.ID,
			Payload: map[string]any{"reason": metrics.ReasonCapacity}})
		return errorResponse(req.ID,
			fmt.Sprintf("Agent %s is currently at maximum capacity. Please try again later.", name), name), nil
	}

	log.Info("executing request", "agent", name)
	start := time.Now()

	resp, err := m.run(ctx, a, req, slot)
	elapsed := time.Since(start)

	if err != nil {
		log.Error("agent execution failed", "agent", name, "err", err)
		m.metrics.IncFailed(name)
		m.emit(bus.Event{Type: bus.EventAgentFailed, Agent: name, RequestID: req.ID,
			Payload: map[string]any{"error": err.Error()}})
		return domain.Response{}, domain.NewAgentError(name, "Agent execution failed",
			map[string]any{"requestId": req.ID}, err)
	}

	m.metrics.ObserveExecution(name, string(resp.Status), elapsed)
	m.emit(bus.Event{Type: bus.EventAgentExecuted, Agent: name, RequestID: req.ID,
		Payload: map[string]any{"status": string(resp.Status), "duration_ms": elapsed.Milliseconds()}})
	log.Info("request completed", "agent", name, "status", resp.Status, "duration_ms", elapsed.Milliseconds())
	return resp, nil
}

// run invokes the agent while holding its slot. Without a deadline the slot
// is released on return. With one, the slot belongs to the goroutine running
// the agent and is released only when the agent really returns. A parent
// cancellation is not a timeout: the agent sees the cancelled context and
// run waits for its result.
func (m *Manager) run(ctx context.Context, a domain.Agent, req domain.Request, slot uint64) (domain.Response, error) {
	name := a.Name()
	if m.timeout <= 0 {
		defer m.release(name, slot)
		return invoke(ctx, a, req)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		resp domain.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer m.release(name, slot)
		resp, err := invoke(ctx, a, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
	}
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r := <-done
		return r.resp, r.err
	}
	select {
	case r := <-done:
		return r.resp, r.err
	default:
	}
	m.logger.Warn("agent execution timed out", "agent", name, "request_id", req.ID, "timeout", m.timeout)
	m.metrics.IncRejected(name, metrics.ReasonTimeout)
	return errorResponse(req.ID,
		fmt.Sprintf("Agent %s timed out after %s. Please try again later.", name, m.timeout), name), nil
}

func invoke(ctx context.Context, a domain.Agent, req domain.Request) (resp domain.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Execute(ctx, req)
}

// acquire takes a slot for name and returns the generation it belongs to.
func (m *Manager) acquire(name string) (uint64, bool) {
	m.mu.Lock()
	n := m.inFlight[name]
	if n >= m.maxConcurrent {
		m.mu.Unlock()
		return 0, false
	}
	m.inFlight[name] = n + 1
	gen := m.gen[name]
	m.mu.Unlock()

	m.metrics.SetInFlight(name, n+1)
	return gen, true
}

// release gives back a slot. Slots from before the last reset of name's
// count are ignored so they cannot free a slot held by a newer execution.
func (m *Manager) release(name string, gen uint64) {
	m.mu.Lock()
	if m.gen[name] != gen {
		m.mu.Unlock()
		return
	}
	n := m.inFlight[name] - 1
	if n < 0 {
		n = 0
	}
	m.inFlight[name] = n
	m.mu.Unlock()

	m.metrics.SetInFlight(name, n)
}

// InitializeAllAgents initializes every agent concurrently and returns the
// first failure, wrapped with the failing agent's name.
func (m *Manager) InitializeAllAgents(ctx context.Context) error {
	agents := m.GetAllAgents()
	m.logger.Info("initializing agents", "count", len(agents))

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		g.Go(func() error {
			if err := a.Initialize(gctx); err != nil {
				m.logger.Error("failed to initialize agent", "agent", a.Name(), "err", err)
				return domain.NewAgentError(a.Name(), "Failed to initialize agent: "+err.Error(), nil, err)
			}
			m.emit(bus.Event{Type: bus.EventAgentInitialized, Agent: a.Name()})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	m.logger.Info("all agents initialized", "count", len(agents))
	return nil
}

// CleanupAllAgents cleans up every agent concurrently. Failures are logged
// and otherwise ignored. All in-flight counts are reset afterwards.
func (m *Manager) CleanupAllAgents(ctx context.Context) {
	agents := m.GetAllAgents()
	m.logger.Info("cleaning up agents", "count", len(agents))

	var g errgroup.Group
	for _, a := range agents {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("agent cleanup panic", "agent", a.Name(), "panic", r)
				}
			}()
			if err := a.Cleanup(ctx); err != nil {
				m.logger.Error("failed to clean up agent", "agent", a.Name(), "err", err)
				return nil
			}
			m.emit(bus.Event{Type: bus.EventAgentCleanedUp, Agent: a.Name()})
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	for name := range m.inFlight {
		m.inFlight[name] = 0
		m.gen[name]++
	}
	m.mu.Unlock()
	for _, a := range agents {
		m.metrics.SetInFlight(a.Name(), 0)
	}
	m.logger.Info("agents cleaned up")
}

// GetAgentStats returns a snapshot of in-flight counts and capabilities keyed
// by agent name.
func (m *Manager) GetAgentStats() map[string]domain.AgentStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]domain.AgentStats, len(m.order))
	for _, name := range m.order {
		stats[name] = domain.AgentStats{
			Executions:   m.inFlight[name],
			Capabilities: m.agents[name].Capabilities(),
		}
	}
	return stats
}

// Events returns the event bus the manager reports to, or nil.
func (m *Manager) Events() *bus.EventBus { return m.events }

func (m *Manager) emit(e bus.Event) {
	if m.events != nil {
		m.events.Emit(e)
	}
}

func errorResponse(requestID, content, agentUsed string) domain.Response {
	return domain.Response{
		RequestID: requestID,
		Status:    domain.StatusError,
		Content:   content,
		Metadata:  &domain.ResponseMetadata{ExecutionTime: 0, AgentUsed: agentUsed},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
