// Package bot turns chat messages from any channel into dispatcher requests
// and sends the replies back through the message bus.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"garvis/internal/agent"
	"garvis/internal/domain"
)

const (
	defaultConcurrency = 10

	MsgEmpty       = "Please provide a message for me to help with."
	MsgGreeting    = "Hi! How can I help you today?"
	MsgApology     = "I encountered an error processing your request. Please try again later."
	MsgRateLimited = "You're sending messages too quickly. Please wait a moment and try again."
)

var mentionPattern = regexp.MustCompile(`<@[UW][A-Z0-9]+(?:\|[^>]*)?>`)

// StripMentions removes Slack user mentions and surrounding whitespace.
func StripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// Config holds the bot's dependencies.
type Config struct {
	Manager     *agent.Manager
	Bus         domain.MessageBus
	Logger      *slog.Logger
	Environment string
	Version     string
	Concurrency int // messages handled in parallel (default 10)

	// RatePerMinute enables per-user rate limiting when > 0.
	RatePerMinute float64
	RateBurst     int
}

// Bot is the caller-facing layer between chat channels and the agent manager.
type Bot struct {
	manager     *agent.Manager
	bus         domain.MessageBus
	logger      *slog.Logger
	environment string
	version     string
	concurrency int
	limiter     *RateLimiter
	startTime   time.Time

	mu      sync.Mutex
	started bool
}

func New(cfg Config) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	b := &Bot{
		manager:     cfg.Manager,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		environment: cfg.Environment,
		version:     cfg.Version,
		concurrency: cfg.Concurrency,
		startTime:   time.Now(),
	}
	if cfg.RatePerMinute > 0 {
		b.limiter = NewRateLimiter(cfg.RateBurst, cfg.RatePerMinute)
	}
	return b
}

// Start initializes every agent. It fails if any agent fails to initialize.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		b.logger.Warn("bot is already started")
		return nil
	}

	if err := b.manager.InitializeAllAgents(ctx); err != nil {
		b.logger.Error("failed to start bot", "err", err)
		return fmt.Errorf("failed to start bot: %w", err)
	}
	b.started = true
	b.startTime = time.Now()
	b.logger.Info("garvis bot started", "environment", b.environment, "agents", len(b.manager.GetAllAgents()))
	return nil
}

// Stop cleans up every agent.
func (b *Bot) Stop(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		b.logger.Warn("bot is not started")
		return
	}
	b.manager.CleanupAllAgents(ctx)
	b.started = false
	b.logger.Info("garvis bot stopped")
}

func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Run consumes inbound messages and processes them with bounded concurrency
// until ctx is done or the bus is closed. In-flight messages finish first.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("bot loop started", "concurrency", b.concurrency)

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	inbound := b.bus.Subscribe()
	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bot loop stopping")
			return
		case <-prune.C:
			if b.limiter != nil {
				b.limiter.Prune()
			}
		case msg, ok := <-inbound:
			if !ok {
				b.logger.Info("inbound channel closed, bot loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(m domain.InboundMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				b.processMessage(context.WithoutCancel(ctx), m)
			}(msg)
		}
	}
}

func (b *Bot) processMessage(ctx context.Context, msg domain.InboundMessage) {
	reply := b.HandleMessage(ctx, msg)
	b.bus.SendOutbound(domain.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		ThreadID: msg.ThreadID,
		ReplyTo:  msg.ReplyTo,
		Content:  reply,
		Format:   "markdown",
	})
}

// HandleMessage produces the reply text for one inbound message.
func (b *Bot) HandleMessage(ctx context.Context, msg domain.InboundMessage) string {
	if strings.TrimSpace(msg.Content) == "" {
		return MsgEmpty
	}
	text := StripMentions(msg.Content)
	if text == "" {
		return MsgGreeting
	}

	if cmd := ParseCommand(text); cmd != nil {
		if res := b.HandleCommand(cmd); res.Handled {
			return res.Response
		}
	}

	if b.limiter != nil && !b.limiter.Allow(msg.Channel+":"+msg.SenderID) {
		b.logger.Warn("rate limited", "channel", msg.Channel, "user_id", msg.SenderID)
		return MsgRateLimited
	}

	req := domain.NewRequest(msg.SenderID, msg.ChatID, text)
	req.Metadata.ThreadID = msg.ThreadID
	req.Metadata.Mentions = msg.Mentions
	if !msg.Timestamp.IsZero() {
		req.Metadata.Timestamp = msg.Timestamp
	}
	req.Context = map[string]any{"channel": msg.Channel, "isCommand": msg.IsCommand}

	log := b.logger.With("request_id", req.ID, "user_id", req.UserID, "channel_id", req.ChannelID)
	log.Info("processing user request", "channel", msg.Channel, "content_len", len(text), "is_command", msg.IsCommand)

	resp, err := b.manager.ExecuteRequest(ctx, req)
	if err != nil {
		log.Error("error processing request", "err", err)
		return MsgApology
	}

	out := resp.Content
	if resp.Status == domain.StatusSuccess && resp.Metadata != nil && resp.Metadata.AgentUsed != "" {
		out += fmt.Sprintf("\n\n_Processed by %s in %dms_", resp.Metadata.AgentUsed, resp.Metadata.ExecutionTime)
	}
	log.Info("response ready", "status", resp.Status, "agent", resp.AgentUsed())
	return out
}
