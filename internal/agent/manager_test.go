package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"garvis/internal/bus"
	"garvis/internal/domain"
	"garvis/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAgent is a configurable domain.Agent for dispatcher tests.
type fakeAgent struct {
	name     string
	match    func(string) bool
	exec     func(ctx context.Context, req domain.Request) (domain.Response, error)
	initErr  error
	cleanErr error

	calls       atomic.Int32
	initCalls   atomic.Int32
	cleanCalls  atomic.Int32
	cleanPanics bool
}

func (f *fakeAgent) Name() string           { return f.name }
func (f *fakeAgent) Description() string    { return f.name + " agent" }
func (f *fakeAgent) Capabilities() []string { return []string{strings.ToLower(f.name)} }

func (f *fakeAgent) CanHandle(req domain.Request) bool {
	if f.match == nil {
		return false
	}
	return f.match(req.Content)
}

func (f *fakeAgent) Execute(ctx context.Context, req domain.Request) (domain.Response, error) {
	f.calls.Add(1)
	if f.exec != nil {
		return f.exec(ctx, req)
	}
	return domain.Response{
		RequestID: req.ID,
		Status:    domain.StatusSuccess,
		Content:   f.name,
		Metadata:  &domain.ResponseMetadata{AgentUsed: f.name},
	}, nil
}

func (f *fakeAgent) Initialize(context.Context) error {
	f.initCalls.Add(1)
	return f.initErr
}

func (f *fakeAgent) Cleanup(context.Context) error {
	f.cleanCalls.Add(1)
	if f.cleanPanics {
		panic("cleanup exploded")
	}
	return f.cleanErr
}

func contains(sub string) func(string) bool {
	return func(s string) bool { return strings.Contains(strings.ToLower(s), sub) }
}

func newTestManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	return NewManager(cfg)
}

// blockingAgent parks every execution until release is closed.
func blockingAgent(name string, started chan<- struct{}, release <-chan struct{}) *fakeAgent {
	return &fakeAgent{
		name:  name,
		match: func(string) bool { return true },
		exec: func(ctx context.Context, req domain.Request) (domain.Response, error) {
			started <- struct{}{}
			<-release
			return domain.Response{RequestID: req.ID, Status: domain.StatusSuccess,
				Metadata: &domain.ResponseMetadata{AgentUsed: name}}, nil
		},
	}
}

// eventsOfType returns the recorded events of one type, oldest first.
func eventsOfType(eb *bus.EventBus, eventType string) []bus.Event {
	return eb.Replay(eventType, time.Time{})
}

func TestManager_TestAgentScenario(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(ManagerConfig{})

	test := newTestBase(echoHandler)
	m.RegisterAgent(test)
	require.NoError(t, m.InitializeAllAgents(ctx))

	resp, err := m.ExecuteRequest(ctx, domain.NewRequest("U123", "C123", "This is a test message"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, "Test response for: This is a test message", resp.Content)
	assert.Equal(t, "Test", resp.AgentUsed())
}

func TestManager_FirstMatchWins(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	first := &fakeAgent{name: "First", match: contains("code")}
	second := &fakeAgent{name: "Second", match: contains("code")}
	m.RegisterAgent(first)
	m.RegisterAgent(second)

	a, ok := m.FindAgentForRequest(domain.NewRequest("U", "C", "review my code"))
	require.True(t, ok)
	assert.Equal(t, "First", a.Name())

	resp, err := m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "review my code"))
	require.NoError(t, err)
	assert.Equal(t, "First", resp.Content)
	assert.EqualValues(t, 0, second.calls.Load())
}

func TestManager_RegisterReplacesInPlace(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.RegisterAgent(&fakeAgent{name: "A"})
	m.RegisterAgent(&fakeAgent{name: "B"})

	replacement := &fakeAgent{name: "A", match: contains("x")}
	m.RegisterAgent(replacement)

	all := m.GetAllAgents()
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].Name())
	assert.Equal(t, "B", all[1].Name())

	got, ok := m.GetAgent("A")
	require.True(t, ok)
	assert.Same(t, replacement, got)

	_, ok = m.GetAgent("missing")
	assert.False(t, ok)
}

func TestManager_ReRegisterResetsInFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	m := newTestManager(ManagerConfig{MaxConcurrent: 1})
	m.RegisterAgent(blockingAgent("A", started, release))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "go"))
	}()
	<-started
	assert.Equal(t, 1, m.GetAgentStats()["A"].Executions)

	m.RegisterAgent(&fakeAgent{name: "A", match: func(string) bool { return true }})
	assert.Equal(t, 0, m.GetAgentStats()["A"].Executions)

	close(release)
	<-done
	assert.Equal(t, 0, m.GetAgentStats()["A"].Executions, "a release from before re-registration is ignored")
}

func TestManager_NoAgentFound(t *testing.T) {
	eb := bus.NewEventBus(0, testLogger())
	met := metrics.New()
	m := newTestManager(ManagerConfig{Events: eb, Metrics: met})
	m.RegisterAgent(&fakeAgent{name: "Code", match: contains("code")})

	req := domain.NewRequest("U", "C", "hello there")
	resp, err := m.ExecuteRequest(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusError, resp.Status)
	assert.True(t, strings.HasPrefix(resp.Content, "No agent found to handle this request"))
	assert.Contains(t, resp.Content, "/garvis help")
	assert.Equal(t, req.ID, resp.RequestID)
	require.NotNil(t, resp.Metadata)
	assert.EqualValues(t, 0, resp.Metadata.ExecutionTime)
	assert.Equal(t, domain.AgentUsedNone, resp.Metadata.AgentUsed)

	assert.Len(t, eventsOfType(eb, bus.EventAgentUnmatched), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(met.UnmatchedTotal))
}

func TestManager_EmptyRegistry(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	resp, err := m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "anything"))
	require.NoError(t, err)
	assert.Equal(t, domain.AgentUsedNone, resp.AgentUsed())
	assert.Empty(t, m.GetAgentStats())
}

func TestManager_CapacityRejection(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	met := metrics.New()
	m := newTestManager(ManagerConfig{MaxConcurrent: 2, Metrics: met})
	a := blockingAgent("Busy", started, release)
	m.RegisterAgent(a)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "work"))
		}()
	}
	<-started
	<-started
	assert.Equal(t, 2, m.GetAgentStats()["Busy"].Executions)

	resp, err := m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "one more"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, "Agent Busy is currently at maximum capacity. Please try again later.", resp.Content)
	assert.Equal(t, "Busy", resp.AgentUsed())
	assert.EqualValues(t, 0, resp.Metadata.ExecutionTime)
	assert.EqualValues(t, 2, a.calls.Load(), "rejected request must not reach the agent")
	assert.Equal(t, float64(1), testutil.ToFloat64(met.RejectionsTotal.WithLabelValues("Busy", metrics.ReasonCapacity)))

	close(release)
	wg.Wait()
	assert.Equal(t, 0, m.GetAgentStats()["Busy"].Executions)
}

func TestManager_CapacityNeverExceeded(t *testing.T) {
	const limit = 3
	var current, peak atomic.Int32
	a := &fakeAgent{
		name:  "Bounded",
		match: func(string) bool { return true },
		exec: func(ctx context.Context, req domain.Request) (domain.Response, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			return domain.Response{RequestID: req.ID, Status: domain.StatusSuccess}, nil
		},
	}
	m := newTestManager(ManagerConfig{MaxConcurrent: limit})
	m.RegisterAgent(a)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "x"))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Equal(t, 0, m.GetAgentStats()["Bounded"].Executions)
}

func TestManager_ExecuteErrorIsWrapped(t *testing.T) {
	eb := bus.NewEventBus(0, testLogger())
	m := newTestManager(ManagerConfig{Events: eb})
	boom := errors.New("boom")
	m.RegisterAgent(&fakeAgent{
		name:  "Broken",
		match: func(string) bool { return true },
		exec: func(context.Context, domain.Request) (domain.Response, error) {
			return domain.Response{}, boom
		},
	})

	req := domain.NewRequest("U", "C", "x")
	_, err := m.ExecuteRequest(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "AGENT_ERROR: Agent execution failed: boom")

	var gerr *domain.GarvisError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, domain.CodeAgent, gerr.Code)
	assert.Equal(t, "Broken", gerr.Context["agentName"])
	assert.Equal(t, req.ID, gerr.Context["requestId"])

	assert.Equal(t, 0, m.GetAgentStats()["Broken"].Executions)
	assert.Len(t, eventsOfType(eb, bus.EventAgentFailed), 1)
}

func TestManager_ExecutePanicIsWrapped(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.RegisterAgent(&fakeAgent{
		name:  "Panicky",
		match: func(string) bool { return true },
		exec: func(context.Context, domain.Request) (domain.Response, error) {
			panic("kaboom")
		},
	})

	_, err := m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 0, m.GetAgentStats()["Panicky"].Executions)
}

func TestManager_UninitializedAgentSurfacesError(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.RegisterAgent(newTestBase(echoHandler))

	_, err := m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "test"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	assert.Equal(t, 0, m.GetAgentStats()["Test"].Executions)
}

func TestManager_Timeout(t *testing.T) {
	release := make(chan struct{})
	met := metrics.New()
	m := newTestManager(ManagerConfig{Timeout: 20 * time.Millisecond, Metrics: met})
	m.RegisterAgent(&fakeAgent{
		name:  "Slow",
		match: func(string) bool { return true },
		exec: func(ctx context.Context, req domain.Request) (domain.Response, error) {
			<-release
			return domain.Response{RequestID: req.ID, Status: domain.StatusSuccess}, nil
		},
	})

	resp, err := m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "x"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, resp.Status)
	assert.Contains(t, resp.Content, "Agent Slow timed out")
	assert.Equal(t, "Slow", resp.AgentUsed())

	// The slot is held until the agent really returns.
	assert.Equal(t, 1, m.GetAgentStats()["Slow"].Executions)
	close(release)
	require.Eventually(t, func() bool {
		return m.GetAgentStats()["Slow"].Executions == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(met.RejectionsTotal.WithLabelValues("Slow", metrics.ReasonTimeout)))
}

func TestManager_CancelledParentIsNotATimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, 30 * time.Second} {
		m := newTestManager(ManagerConfig{Timeout: timeout})
		test := newTestBase(echoHandler)
		m.RegisterAgent(test)
		require.NoError(t, m.InitializeAllAgents(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		for i := 0; i < 200; i++ {
			resp, err := m.ExecuteRequest(ctx, domain.NewRequest("U", "C", "a test"))
			require.NoError(t, err, "timeout=%s iteration=%d", timeout, i)
			require.Equal(t, domain.StatusSuccess, resp.Status, "timeout=%s iteration=%d", timeout, i)
		}
		assert.Equal(t, 0, m.GetAgentStats()["Test"].Executions)
	}
}

func TestManager_StaleSlotAfterCleanupIsIgnored(t *testing.T) {
	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})
	secondStarted := make(chan struct{}, 1)
	m := newTestManager(ManagerConfig{MaxConcurrent: 1, Timeout: 20 * time.Millisecond})
	m.RegisterAgent(&fakeAgent{
		name:  "Slow",
		match: func(string) bool { return true },
		exec: func(ctx context.Context, req domain.Request) (domain.Response, error) {
			if req.Content == "first" {
				<-releaseFirst
			} else {
				secondStarted <- struct{}{}
				<-releaseSecond
			}
			return domain.Response{RequestID: req.ID, Status: domain.StatusSuccess}, nil
		},
	})

	resp, err := m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "first"))
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "timed out")
	assert.Equal(t, 1, m.GetAgentStats()["Slow"].Executions)

	m.CleanupAllAgents(context.Background())
	assert.Equal(t, 0, m.GetAgentStats()["Slow"].Executions)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "second"))
	}()
	<-secondStarted
	assert.Equal(t, 1, m.GetAgentStats()["Slow"].Executions)

	// The first execution returning must not free the second one's slot.
	close(releaseFirst)
	assert.Never(t, func() bool {
		return m.GetAgentStats()["Slow"].Executions != 1
	}, 100*time.Millisecond, 5*time.Millisecond)

	resp, err = m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "third"))
	require.NoError(t, err)
	assert.Equal(t, "Agent Slow is currently at maximum capacity. Please try again later.", resp.Content)

	close(releaseSecond)
	<-done
	require.Eventually(t, func() bool {
		return m.GetAgentStats()["Slow"].Executions == 0
	}, time.Second, 5*time.Millisecond)
}

func TestManager_TimeoutNotHitForFastAgent(t *testing.T) {
	m := newTestManager(ManagerConfig{Timeout: time.Second})
	m.RegisterAgent(&fakeAgent{name: "Fast", match: func(string) bool { return true }})

	resp, err := m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "x"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, "Fast", resp.Content)
	assert.Equal(t, 0, m.GetAgentStats()["Fast"].Executions)
}

func TestManager_InitializeAll(t *testing.T) {
	eb := bus.NewEventBus(0, testLogger())
	m := newTestManager(ManagerConfig{Events: eb})
	a := &fakeAgent{name: "A"}
	b := &fakeAgent{name: "B"}
	m.RegisterAgent(a)
	m.RegisterAgent(b)

	require.NoError(t, m.InitializeAllAgents(context.Background()))
	assert.EqualValues(t, 1, a.initCalls.Load())
	assert.EqualValues(t, 1, b.initCalls.Load())
	assert.Len(t, eventsOfType(eb, bus.EventAgentInitialized), 2)
}

func TestManager_InitializeAllFailure(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	cause := errors.New("store unreachable")
	m.RegisterAgent(&fakeAgent{name: "Good"})
	m.RegisterAgent(&fakeAgent{name: "Bad", initErr: cause})

	err := m.InitializeAllAgents(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Failed to initialize agent: store unreachable")

	name, ok := domain.AgentNameOf(err)
	require.True(t, ok)
	assert.Equal(t, "Bad", name)
}

func TestManager_CleanupAllSwallowsFailures(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	m := newTestManager(ManagerConfig{})

	ok := &fakeAgent{name: "Ok"}
	failing := &fakeAgent{name: "Failing", cleanErr: errors.New("close failed")}
	panicking := &fakeAgent{name: "Panicking", cleanPanics: true}
	m.RegisterAgent(blockingAgent("Busy", started, release))
	m.RegisterAgent(ok)
	m.RegisterAgent(failing)
	m.RegisterAgent(panicking)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "x"))
	}()
	<-started
	assert.Equal(t, 1, m.GetAgentStats()["Busy"].Executions)

	assert.NotPanics(t, func() { m.CleanupAllAgents(context.Background()) })
	assert.EqualValues(t, 1, ok.cleanCalls.Load())
	assert.EqualValues(t, 1, failing.cleanCalls.Load())
	assert.EqualValues(t, 1, panicking.cleanCalls.Load())

	for name, s := range m.GetAgentStats() {
		assert.Equal(t, 0, s.Executions, name)
	}

	close(release)
	<-done
	assert.Equal(t, 0, m.GetAgentStats()["Busy"].Executions)
}

func TestManager_CleanupThenExecuteBaseAgent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(ManagerConfig{})
	test := newTestBase(echoHandler)
	m.RegisterAgent(test)
	require.NoError(t, m.InitializeAllAgents(ctx))

	_, err := m.ExecuteRequest(ctx, domain.NewRequest("U", "C", "test"))
	require.NoError(t, err)

	m.CleanupAllAgents(ctx)
	assert.False(t, test.IsInitialized())

	_, err = m.ExecuteRequest(ctx, domain.NewRequest("U", "C", "test"))
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestManager_StatsSnapshot(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	m.RegisterAgent(&fakeAgent{name: "A"})

	stats := m.GetAgentStats()
	require.Contains(t, stats, "A")
	assert.Equal(t, []string{"a"}, stats["A"].Capabilities)

	stats["A"] = domain.AgentStats{Executions: 99}
	assert.Equal(t, 0, m.GetAgentStats()["A"].Executions)
}

func TestManager_RegisteredEventAndMetrics(t *testing.T) {
	eb := bus.NewEventBus(0, testLogger())
	met := metrics.New()
	m := newTestManager(ManagerConfig{Events: eb, Metrics: met})
	m.RegisterAgent(&fakeAgent{name: "A", match: func(string) bool { return true }})

	_, err := m.ExecuteRequest(context.Background(), domain.NewRequest("U", "C", "x"))
	require.NoError(t, err)

	assert.Len(t, eventsOfType(eb, bus.EventAgentRegistered), 1)
	executed := eventsOfType(eb, bus.EventAgentExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, "A", executed[0].Agent)
	assert.Equal(t, float64(1), testutil.ToFloat64(met.ExecutionsTotal.WithLabelValues("A", "success")))
	assert.Same(t, eb, m.Events())
}
