package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"garvis/internal/agent"
	"garvis/internal/agents/codehelper"
	"garvis/internal/agents/inforetrieval"
	"garvis/internal/agents/taskmanager"
	"garvis/internal/bot"
	"garvis/internal/bus"
	"garvis/internal/channel"
	"garvis/internal/config"
	"garvis/internal/domain"
	"garvis/internal/metrics"
)

const (
	messageBufferSize = 100
	eventHistorySize  = 200
)

// app holds the wired components shared by serve, chat and ask.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	events   *bus.EventBus
	metrics  *metrics.Metrics
	manager  *agent.Manager
	messages *bus.InMemoryBus
	bot      *bot.Bot
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		events:   bus.NewEventBus(eventHistorySize, logger),
		messages: bus.New(messageBufferSize, logger),
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}
	a.events.On("*", func(e bus.Event) {
		logger.Debug("dispatcher event",
			"type", e.Type,
			"agent", e.Agent,
			"request_id", e.RequestID,
		)
	})

	a.manager = agent.NewManager(agent.ManagerConfig{
		Logger:        logger,
		MaxConcurrent: cfg.Agents.MaxConcurrentAgents,
		Timeout:       cfg.Agents.Timeout(),
		Events:        a.events,
		Metrics:       a.metrics,
	})
	registerAgents(a.manager, cfg, logger)

	a.bot = bot.New(bot.Config{
		Manager:       a.manager,
		Bus:           a.messages,
		Logger:        logger,
		Environment:   cfg.App.Env,
		Version:       version,
		Concurrency:   cfg.Agents.MaxConcurrentMsgs,
		RatePerMinute: cfg.Agents.RatePerMinute,
		RateBurst:     cfg.Agents.RateBurst,
	})
	return a
}

// registerAgents registers the built-in agents. Order decides routing:
// the first agent whose keywords match wins.
func registerAgents(m *agent.Manager, cfg *config.Config, logger *slog.Logger) {
	m.RegisterAgent(inforetrieval.New())
	m.RegisterAgent(taskmanager.New(taskmanager.Config{
		DSN:    cfg.Agents.TaskStoreDSN,
		Logger: logger.With("agent", taskmanager.Name),
	}))
	m.RegisterAgent(codehelper.New())
}

// chatChannels returns the enabled remote channels.
func (a *app) chatChannels() []domain.Channel {
	var chs []domain.Channel
	if a.cfg.Slack.Enabled {
		chs = append(chs, channel.NewSlack(channel.SlackConfig{
			BotToken:        a.cfg.Slack.BotToken,
			AppToken:        a.cfg.Slack.AppToken,
			SlashCommand:    a.cfg.Slack.SlashCommand,
			ChannelKeywords: a.cfg.Slack.ChannelKeywords,
			Logger:          a.logger.With("channel", "slack"),
		}))
	}
	if a.cfg.Telegram.Enabled {
		chs = append(chs, channel.NewTelegram(channel.TelegramConfig{
			Token:     a.cfg.Telegram.Token,
			AllowFrom: a.cfg.Telegram.AllowFrom,
			ParseMode: a.cfg.Telegram.ParseMode,
			Logger:    a.logger.With("channel", "telegram"),
		}))
	}
	return chs
}

// httpHandler serves health and, when enabled, Prometheus metrics.
func (a *app) httpHandler() http.Handler {
	mux := http.NewServeMux()
	started := time.Now()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		running := a.bot.IsRunning()
		status, code := "ok", http.StatusOK
		if !running {
			status, code = "starting", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"version": version,
			"uptime":  time.Since(started).Round(time.Second).String(),
			"agents":  a.manager.GetAgentStats(),
		})
	})

	if a.metrics != nil {
		mux.Handle("GET "+a.cfg.Metrics.Path, a.metrics.Handler())
	}
	return mux
}
