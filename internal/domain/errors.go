package domain

import (
	"errors"
	"fmt"
)

// Error codes carried by GarvisError.
const (
	CodeAgent  = "AGENT_ERROR"
	CodeSlack  = "SLACK_ERROR"
	CodeConfig = "CONFIG_ERROR"
)

// Sentinels for errors.Is checks.
var (
	ErrNotInitialized = fmt.Errorf("agent not initialized")
	ErrMissingSetting = fmt.Errorf("missing required setting")
	ErrInvalidSetting = fmt.Errorf("invalid setting")
)

// GarvisError is a structured error with a code and key/value context.
type GarvisError struct {
	Code    string
	Message string
	Context map[string]any
	Err     error // optional cause or sentinel
}

func (e *GarvisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GarvisError) Unwrap() error { return e.Err }

func withContext(ctx map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(ctx)+1)
	for k, v := range ctx {
		out[k] = v
	}
	out[key] = value
	return out
}

// NewAgentError builds an AGENT_ERROR naming the agent involved.
func NewAgentError(agentName, message string, ctx map[string]any, cause error) *GarvisError {
	return &GarvisError{
		Code:    CodeAgent,
		Message: message,
		Context: withContext(ctx, "agentName", agentName),
		Err:     cause,
	}
}

// NewSlackError builds a SLACK_ERROR. slackCode may be empty.
func NewSlackError(message, slackCode string, ctx map[string]any, cause error) *GarvisError {
	return &GarvisError{
		Code:    CodeSlack,
		Message: message,
		Context: withContext(ctx, "slackErrorCode", slackCode),
		Err:     cause,
	}
}

// NewConfigError builds a CONFIG_ERROR.
func NewConfigError(message string, ctx map[string]any, cause error) *GarvisError {
	return &GarvisError{Code: CodeConfig, Message: message, Context: ctx, Err: cause}
}

// AgentNameOf returns the agent named by an AGENT_ERROR anywhere in err's chain.
func AgentNameOf(err error) (string, bool) {
	var ge *GarvisError
	if !errors.As(err, &ge) || ge.Code != CodeAgent {
		return "", false
	}
	name, ok := ge.Context["agentName"].(string)
	return name, ok
}

// IsConfigError reports whether err is a CONFIG_ERROR.
func IsConfigError(err error) bool {
	var ge *GarvisError
	return errors.As(err, &ge) && ge.Code == CodeConfig
}
