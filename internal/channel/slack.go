package channel

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"garvis/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	slackMaxMsgLen       = 4000
	slackChannelCacheTTL = 10 * time.Minute
)

var slackMentionPattern = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`)

// slackAPI is the subset of *slack.Client the channel uses.
type slackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack implements domain.Channel for Slack using Socket Mode. It listens to
// app mentions, direct messages, the slash command, and plain messages in
// channels whose name contains one of the configured keywords.
type Slack struct {
	botToken        string
	appToken        string
	slashCommand    string
	channelKeywords []string

	client  slackAPI
	bus     domain.MessageBus
	logger  *slog.Logger
	botUID  string
	webhook func(ctx context.Context, url string, msg *slack.WebhookMessage) error

	cacheMu      sync.Mutex
	channelCache map[string]cachedChannel

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

type cachedChannel struct {
	listen  bool
	expires time.Time
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken        string
	AppToken        string
	SlashCommand    string   // default "/garvis"
	ChannelKeywords []string // default "garvis", "ai"
	Logger          *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.SlashCommand == "" {
		cfg.SlashCommand = "/garvis"
	}
	if len(cfg.ChannelKeywords) == 0 {
		cfg.ChannelKeywords = []string{"garvis", "ai"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	kws := make([]string, len(cfg.ChannelKeywords))
	for i, kw := range cfg.ChannelKeywords {
		kws[i] = strings.ToLower(kw)
	}
	return &Slack{
		botToken:        cfg.BotToken,
		appToken:        cfg.AppToken,
		slashCommand:    cfg.SlashCommand,
		channelKeywords: kws,
		logger:          cfg.Logger,
		webhook:         slack.PostWebhookContext,
		channelCache:    make(map[string]cachedChannel),
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects through Socket Mode and blocks until ctx is done or Stop is called.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	defer cancel()

	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return domain.NewSlackError("slack auth failed", "", nil, err)
	}
	s.botUID = auth.UserID
	s.logger.Info("slack bot connected", "user", auth.User, "user_id", auth.UserID, "team", auth.Team)

	s.attach(bus)

	socketClient := socketmode.New(api)
	go s.consume(ctx, socketClient)

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return domain.NewSlackError("slack socket mode stopped", "", nil, err)
	}
}

// attach registers the outbound handler on bus.
func (s *Slack) attach(bus domain.MessageBus) {
	s.bus = bus
	bus.OnOutbound("slack", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.deliver(ctx, msg); err != nil {
			s.logger.Error("slack send failed", "channel", msg.ChatID, "err", err)
		}
	})
}

func (s *Slack) consume(ctx context.Context, client *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-client.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				event, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				client.Ack(*evt.Request)
				s.handleEventsAPI(ctx, event)

			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				client.Ack(*evt.Request)
				s.handleSlashCommand(cmd)

			case socketmode.EventTypeConnecting, socketmode.EventTypeConnected, socketmode.EventTypeHello:
				s.logger.Debug("slack socket mode", "event", evt.Type)

			case socketmode.EventTypeConnectionError:
				s.logger.Warn("slack connection error, retrying")

			default:
				// Unacknowledged requests make Slack retry and eventually disconnect.
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
			}
		}
	}
}

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.User == "" || ev.User == s.botUID || ev.BotID != "" {
			return
		}
		s.logger.Info("slack mention received", "user", ev.User, "channel", ev.Channel)
		s.publish(domain.InboundMessage{
			ChatID:   ev.Channel,
			SenderID: ev.User,
			Content:  ev.Text,
			ThreadID: ev.ThreadTimeStamp,
			Mentions: mentionedUsers(ev.Text),
		})

	case *slackevents.MessageEvent:
		s.handleMessageEvent(ctx, ev)
	}
}

func (s *Slack) handleMessageEvent(ctx context.Context, ev *slackevents.MessageEvent) {
	// Bot posts, edits and joins all arrive as messages; only plain user text counts.
	if ev.User == "" || ev.User == s.botUID || ev.BotID != "" || ev.SubType != "" {
		return
	}

	switch ev.ChannelType {
	case "im":
		s.logger.Info("slack direct message received", "user", ev.User, "channel", ev.Channel)
		s.publish(domain.InboundMessage{
			ChatID:   ev.Channel,
			SenderID: ev.User,
			Content:  ev.Text,
			Mentions: mentionedUsers(ev.Text),
		})

	case "channel", "group":
		// Mentions of the bot arrive again as app_mention events.
		if s.botUID != "" && strings.Contains(ev.Text, "<@"+s.botUID) {
			return
		}
		if !s.listensIn(ctx, ev.Channel) {
			s.logger.Debug("ignoring message outside garvis channels", "channel", ev.Channel)
			return
		}
		content := slackMentionPattern.ReplaceAllString(ev.Text, "")
		if strings.TrimSpace(content) == "" {
			return
		}
		s.logger.Info("slack channel message received", "user", ev.User, "channel", ev.Channel)
		s.publish(domain.InboundMessage{
			ChatID:   ev.Channel,
			SenderID: ev.User,
			Content:  strings.TrimSpace(content),
			ThreadID: ev.ThreadTimeStamp,
			Mentions: mentionedUsers(ev.Text),
		})
	}
}

// listensIn reports whether the channel's name contains a configured keyword.
// Lookups are cached; a failed lookup means the message is ignored.
func (s *Slack) listensIn(ctx context.Context, channelID string) bool {
	now := time.Now()
	s.cacheMu.Lock()
	if c, ok := s.channelCache[channelID]; ok && now.Before(c.expires) {
		s.cacheMu.Unlock()
		return c.listen
	}
	s.cacheMu.Unlock()

	info, err := s.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		s.logger.Debug("could not get channel info", "channel", channelID, "err", err)
		return false
	}

	name := strings.ToLower(info.Name)
	listen := false
	for _, kw := range s.channelKeywords {
		if strings.Contains(name, kw) {
			listen = true
			break
		}
	}

	s.cacheMu.Lock()
	s.channelCache[channelID] = cachedChannel{listen: listen, expires: now.Add(slackChannelCacheTTL)}
	s.cacheMu.Unlock()
	return listen
}

func (s *Slack) handleSlashCommand(cmd slack.SlashCommand) {
	if !strings.EqualFold(cmd.Command, s.slashCommand) {
		s.logger.Warn("ignoring unknown slash command", "command", cmd.Command)
		return
	}
	s.logger.Info("slack slash command", "command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)
	s.publish(domain.InboundMessage{
		ChatID:    cmd.ChannelID,
		SenderID:  cmd.UserID,
		Content:   cmd.Text,
		IsCommand: true,
		ReplyTo:   cmd.ResponseURL,
	})
}

func (s *Slack) publish(msg domain.InboundMessage) {
	msg.Channel = "slack"
	msg.Timestamp = time.Now()
	s.bus.Publish(msg)
}

// deliver posts a reply. Slash command replies go to their response_url,
// everything else is posted to the channel, threaded when ThreadID is set.
func (s *Slack) deliver(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.ReplyTo != "" {
		if err := s.webhook(ctx, msg.ReplyTo, &slack.WebhookMessage{Text: msg.Content}); err != nil {
			return domain.NewSlackError("failed to respond to slash command", "", map[string]any{"channel": msg.ChatID}, err)
		}
		return nil
	}

	for _, chunk := range splitMessage(msg.Content, slackMaxMsgLen) {
		opts := []slack.MsgOption{
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionDisableLinkUnfurl(),
			slack.MsgOptionDisableMediaUnfurl(),
		}
		if msg.ThreadID != "" {
			opts = append(opts, slack.MsgOptionTS(msg.ThreadID))
		}
		if _, _, err := s.client.PostMessageContext(ctx, msg.ChatID, opts...); err != nil {
			code := ""
			var serr slack.SlackErrorResponse
			if errors.As(err, &serr) {
				code = serr.Err
			}
			return domain.NewSlackError("failed to post message", code, map[string]any{"channel": msg.ChatID}, err)
		}
	}
	return nil
}

// Stop cancels the Socket Mode connection started by Start.
func (s *Slack) Stop() error {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Slack) Send(ctx context.Context, chatID string, content string) error {
	if s.client == nil {
		return domain.NewSlackError("slack channel not started", "", nil, nil)
	}
	return s.deliver(ctx, domain.OutboundMessage{Channel: "slack", ChatID: chatID, Content: content})
}

func mentionedUsers(text string) []string {
	matches := slackMentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	users := make([]string, 0, len(matches))
	for _, m := range matches {
		users = append(users, m[1])
	}
	return users
}
