// Package taskmanager keeps a per-user todo list. Tasks live in a
// domain.TaskStore that is opened on Initialize and closed on Cleanup.
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"garvis/internal/agent"
	"garvis/internal/domain"
	"garvis/internal/memory"

	"github.com/google/uuid"
)

const Name = "TaskManager"

var keywords = []string{
	"task", "todo", "remind", "reminder", "schedule",
	"add task", "create task", "list tasks", "my tasks",
	"complete task", "done", "finish", "delete task", "remove task",
}

var (
	addPattern      = regexp.MustCompile(`(?i)(?:add|create|new) task[:\s]+(.+)`)
	completePattern = regexp.MustCompile(`(?i)(?:complete|done|finish)\s+([a-f0-9]{8})`)
	deletePattern   = regexp.MustCompile(`(?i)(?:delete|remove)\s+([a-f0-9]{8})`)
	idCommand       = regexp.MustCompile(`(?i)^\s*(?:complete|delete|remove)\s+[a-f0-9]{8}\b`)
)

const dateLayout = "Jan 2, 2006 15:04"

// Config configures the agent. OpenStore defaults to a SQLite store on DSN.
type Config struct {
	DSN       string
	Logger    *slog.Logger
	OpenStore func(ctx context.Context) (domain.TaskStore, error)
	Now       func() time.Time
}

// Agent manages tasks.
type Agent struct {
	*agent.Base

	mu        sync.RWMutex
	store     domain.TaskStore
	openStore func(ctx context.Context) (domain.TaskStore, error)
	now       func() time.Time
	logger    *slog.Logger
}

func New(cfg Config) *Agent {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OpenStore == nil {
		dsn, logger := cfg.DSN, cfg.Logger
		cfg.OpenStore = func(context.Context) (domain.TaskStore, error) {
			return memory.NewSQLiteTaskStore(dsn, logger)
		}
	}
	a := &Agent{
		openStore: cfg.OpenStore,
		now:       cfg.Now,
		logger:    cfg.Logger.With("agent", Name),
	}
	a.Base = agent.NewBase(agent.Spec{
		Name:         Name,
		Description:  "Manages tasks, reminders, and todo lists",
		Capabilities: []string{"task-creation", "task-management", "reminders", "todo-lists"},
		Keywords:     keywords,
	}, a.handle)
	return a
}

// CanHandle also accepts bare id commands such as "complete 1a2b3c4d".
func (a *Agent) CanHandle(req domain.Request) bool {
	return a.Base.CanHandle(req) || idCommand.MatchString(req.Content)
}

// Initialize opens the task store, then marks the agent ready.
func (a *Agent) Initialize(ctx context.Context) error {
	a.mu.Lock()
	if a.store == nil {
		store, err := a.openStore(ctx)
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("open task store: %w", err)
		}
		a.store = store
	}
	a.mu.Unlock()
	return a.Base.Initialize(ctx)
}

// Cleanup marks the agent not ready and closes the store. Tasks held in an
// in-memory store are discarded.
func (a *Agent) Cleanup(ctx context.Context) error {
	if err := a.Base.Cleanup(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	if err != nil {
		return fmt.Errorf("close task store: %w", err)
	}
	return nil
}

func (a *Agent) taskStore() (domain.TaskStore, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.store == nil {
		return nil, errors.New("task store is not open")
	}
	return a.store, nil
}

func (a *Agent) handle(ctx context.Context, req domain.Request) (string, error) {
	store, err := a.taskStore()
	if err != nil {
		return "", err
	}
	lower := strings.ToLower(req.Content)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}

	switch {
	case has("add task", "create task", "new task"):
		return a.addTask(ctx, store, req)
	case has("list tasks", "my tasks", "show tasks"):
		return a.listTasks(ctx, store, req.UserID)
	case has("complete", "done", "finish"):
		return a.completeTask(ctx, store, req)
	case has("delete", "remove"):
		return a.deleteTask(ctx, store, req)
	case has("help", "how to"):
		return helpReply, nil
	default:
		return a.summary(ctx, store, req.UserID)
	}
}

func (a *Agent) addTask(ctx context.Context, store domain.TaskStore, req domain.Request) (string, error) {
	m := addPattern.FindStringSubmatch(req.Content)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return addUsage, nil
	}

	task := domain.Task{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Title:     strings.TrimSpace(m[1]),
		CreatedAt: a.now(),
	}
	if err := store.Add(ctx, task); err != nil {
		return "", err
	}
	tasks, err := store.List(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	a.logger.Info("task added", "user_id", req.UserID, "task_id", task.ShortID())

	return fmt.Sprintf("✅ Task added successfully!\n\n*%s*\nCreated: %s\nID: %s\n\nYou now have %d task(s). Type \"list tasks\" to see all your tasks.",
		task.Title, task.CreatedAt.Format(dateLayout), task.ShortID(), len(tasks)), nil
}

func (a *Agent) listTasks(ctx context.Context, store domain.TaskStore, userID string) (string, error) {
	tasks, err := store.List(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return emptyList, nil
	}

	var pending, completed []domain.Task
	for _, t := range tasks {
		if t.Completed {
			completed = append(completed, t)
		} else {
			pending = append(pending, t)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 *Your Tasks* (%d total)\n\n", len(tasks))
	if len(pending) > 0 {
		fmt.Fprintf(&sb, "*📝 Pending (%d):*\n", len(pending))
		for i, t := range pending {
			fmt.Fprintf(&sb, "%d. *%s*\n   ID: %s | Created: %s\n\n", i+1, t.Title, t.ShortID(), t.CreatedAt.Format("Jan 2, 2006"))
		}
	}
	if len(completed) > 0 {
		fmt.Fprintf(&sb, "*✅ Completed (%d):*\n", len(completed))
		for i, t := range completed {
			fmt.Fprintf(&sb, "%d. ~%s~\n   ID: %s\n\n", i+1, t.Title, t.ShortID())
		}
	}
	sb.WriteString(`💡 _Tip: Use "complete [task ID]" or "delete [task ID]" to manage tasks_`)
	return sb.String(), nil
}

func (a *Agent) completeTask(ctx context.Context, store domain.TaskStore, req domain.Request) (string, error) {
	m := completePattern.FindStringSubmatch(req.Content)
	if m == nil {
		return completeUsage, nil
	}
	prefix := strings.ToLower(m[1])

	task, err := store.FindByPrefix(ctx, req.UserID, prefix)
	if err != nil {
		return "", err
	}
	if task == nil {
		return notFound(prefix), nil
	}
	if task.Completed {
		return fmt.Sprintf("✅ Task \"%s\" is already completed!", task.Title), nil
	}

	at := a.now()
	if err := store.Complete(ctx, req.UserID, task.ID, at); err != nil {
		return "", err
	}
	a.logger.Info("task completed", "user_id", req.UserID, "task_id", task.ShortID())

	return fmt.Sprintf("🎉 Task completed!\n\n*%s*\nCompleted: %s\n\nGreat job! Type \"list tasks\" to see your remaining tasks.",
		task.Title, at.Format(dateLayout)), nil
}

func (a *Agent) deleteTask(ctx context.Context, store domain.TaskStore, req domain.Request) (string, error) {
	m := deletePattern.FindStringSubmatch(req.Content)
	if m == nil {
		return deleteUsage, nil
	}
	prefix := strings.ToLower(m[1])

	task, err := store.FindByPrefix(ctx, req.UserID, prefix)
	if err != nil {
		return "", err
	}
	if task == nil {
		return notFound(prefix), nil
	}
	if err := store.Delete(ctx, req.UserID, task.ID); err != nil {
		return "", err
	}
	remaining, err := store.List(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	a.logger.Info("task deleted", "user_id", req.UserID, "task_id", task.ShortID())

	return fmt.Sprintf("🗑️ Task deleted successfully!\n\n*%s*\n\nYou now have %d task(s) remaining.",
		task.Title, len(remaining)), nil
}

func (a *Agent) summary(ctx context.Context, store domain.TaskStore, userID string) (string, error) {
	tasks, err := store.List(ctx, userID)
	if err != nil {
		return "", err
	}
	pending := 0
	for _, t := range tasks {
		if !t.Completed {
			pending++
		}
	}
	return fmt.Sprintf(summaryReply, len(tasks), pending, len(tasks)-pending), nil
}

func notFound(prefix string) string {
	return fmt.Sprintf("❌ Task not found with ID starting with \"%s\".\n\nUse \"list tasks\" to see all your tasks and their IDs.", prefix)
}

const addUsage = `I'd be happy to add a task for you! Please use the format:
"add task: [task description]"

For example:
• "add task: Review project proposal"
• "create task: Call client about meeting"
• "new task: Update documentation"`

const completeUsage = `To complete a task, please provide the task ID:
"complete [task ID]"

For example: "complete 1a2b3c4d"

Use "list tasks" to see all your task IDs.`

const deleteUsage = `To delete a task, please provide the task ID:
"delete [task ID]"

For example: "delete 1a2b3c4d"

Use "list tasks" to see all your task IDs.`

const emptyList = `📋 You don't have any tasks yet!

To get started, try:
• "add task: [description]" to create a new task
• "create task: [description]" does the same

Need help? Just ask "task help" for more options.`

const helpReply = `📋 *Task Manager Help*

*📝 Creating tasks:*
• "add task: [description]"
• "create task: [description]"
• "new task: [description]"

*📋 Managing tasks:*
• "list tasks" or "my tasks" shows all your tasks
• "complete [task ID]" marks a task as done
• "delete [task ID]" removes a task

*💡 Examples:*
• "add task: Review budget proposal"
• "complete 1a2b3c4d"
• "delete a1b2c3d4"

*📌 Tips:*
• Every task gets an 8-character ID
• Your tasks are private to you
• Completed tasks stay in your list until deleted
• Tasks are kept only while Garvis is running`

const summaryReply = `📋 *Task Manager*

*Your current status:*
• Total tasks: %d
• Pending: %d
• Completed: %d

*Quick actions:*
• "add task: [description]" creates a task
• "list tasks" shows all tasks
• "task help" gives detailed help

What would you like to do with your tasks?`
