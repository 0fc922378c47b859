package bot

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"garvis/internal/bus"
)

const (
	recentEventCount = 5
	failureWindow    = time.Hour
)

// ChatCommand is a parsed help or status request.
type ChatCommand struct {
	Name string
	Args []string
	Raw  string
}

// CommandResult holds the reply for a handled command.
type CommandResult struct {
	Response string
	Handled  bool // false means the text goes to the agents
}

// ParseCommand recognizes "help" and "status", with or without a leading
// slash or a "/garvis" prefix. Anything else returns nil.
func ParseCommand(text string) *ChatCommand {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) == 0 {
		return nil
	}
	if strings.EqualFold(parts[0], "/garvis") {
		parts = parts[1:]
		if len(parts) == 0 {
			return nil
		}
	}
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i] // telegram's /help@botname
	}
	if name != "help" && name != "status" {
		return nil
	}
	if len(parts) > 1 {
		return nil
	}
	return &ChatCommand{Name: name, Raw: text}
}

// HandleCommand answers help and status.
func (b *Bot) HandleCommand(cmd *ChatCommand) CommandResult {
	switch cmd.Name {
	case "help":
		return CommandResult{Response: b.helpText(), Handled: true}
	case "status":
		return CommandResult{Response: b.statusText(), Handled: true}
	default:
		return CommandResult{Handled: false}
	}
}

func (b *Bot) helpText() string {
	var sb strings.Builder
	sb.WriteString("*Garvis AI Assistant* 🤖\n\n")
	sb.WriteString("I can help you with various tasks using specialized agents:\n\n")
	for _, a := range b.manager.GetAllAgents() {
		fmt.Fprintf(&sb, "*%s*\n%s\nCapabilities: %s\n\n", a.Name(), a.Description(), strings.Join(a.Capabilities(), ", "))
	}
	sb.WriteString("*How to use:*\n")
	sb.WriteString("• Mention me: @garvis <your request>\n")
	sb.WriteString("• Direct message: Just send me a message\n")
	sb.WriteString("• Slash command: /garvis <your request>\n\n")
	sb.WriteString("*Special commands:*\n")
	sb.WriteString("• help - Show this help message\n")
	sb.WriteString("• status - Show system status\n")
	return sb.String()
}

func (b *Bot) statusText() string {
	stats := b.manager.GetAgentStats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("*Garvis System Status* 📊\n\n")
	fmt.Fprintf(&sb, "Version: %s\n", b.version)
	fmt.Fprintf(&sb, "Environment: %s\n", b.environment)
	fmt.Fprintf(&sb, "Uptime: %s\n", time.Since(b.startTime).Round(time.Second))
	fmt.Fprintf(&sb, "Runtime: %s/%s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	fmt.Fprintf(&sb, "Active Agents: %d\n\n", len(stats))

	sb.WriteString("*Agent Status:*\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "• %s: %d executions in progress\n", name, stats[name].Executions)
	}

	if events := b.manager.Events(); events != nil {
		since := time.Now().Add(-failureWindow)
		fmt.Fprintf(&sb, "\nFailures (last hour): %d\n", len(events.Replay(bus.EventAgentFailed, since)))
		if recent := events.Recent(recentEventCount); len(recent) > 0 {
			sb.WriteString("\n*Recent activity:*\n")
			for _, e := range recent {
				line := e.Type
				if e.Agent != "" {
					line += " " + e.Agent
				}
				fmt.Fprintf(&sb, "• %s %s\n", e.Timestamp.Format("15:04:05"), line)
			}
		}
	}

	sb.WriteString("\nAll systems operational! 🟢")
	return sb.String()
}
