package domain

import "time"

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	ThreadID  string   // thread to reply in; empty for top-level messages
	Mentions  []string // user IDs mentioned in the message
	IsCommand bool     // arrived through a slash command
	ReplyTo   string   // channel-specific reply handle, e.g. a Slack response_url
	Timestamp time.Time
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	ThreadID string
	ReplyTo  string
	Content  string
	Format   string // text | markdown
}
