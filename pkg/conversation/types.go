package conversation

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionPhase is the discrete stage of agent work, derived from the
// event stream and local commands. UI code never sets it directly.
type ExecutionPhase string

const (
	PhaseIdle           ExecutionPhase = "idle"
	PhaseConnecting     ExecutionPhase = "connecting"
	PhaseLoadingContext ExecutionPhase = "loading_context"
	PhasePlanning       ExecutionPhase = "planning"
	PhaseExecuting      ExecutionPhase = "executing"
	PhaseCompleted      ExecutionPhase = "completed"
	PhaseFailed         ExecutionPhase = "failed"
	PhaseCancelled      ExecutionPhase = "cancelled"
)

// Processing reports whether the phase counts as in-flight work. This is
// the only definition of "is processing" in the module; it is never stored
// as an independent flag.
func (p ExecutionPhase) Processing() bool {
	switch p {
	case PhaseConnecting, PhaseLoadingContext, PhasePlanning, PhaseExecuting:
		return true
	default:
		return false
	}
}

// ParseExecutionPhase maps a server-asserted state string onto a phase.
// The second return is false for strings the protocol does not know.
func ParseExecutionPhase(s string) (ExecutionPhase, bool) {
	switch ExecutionPhase(s) {
	case PhaseIdle, PhaseConnecting, PhaseLoadingContext, PhasePlanning,
		PhaseExecuting, PhaseCompleted, PhaseFailed, PhaseCancelled:
		return ExecutionPhase(s), true
	}
	return "", false
}

// ConnectionPhase is the lifecycle stage of the underlying transport
// connection. At most one connection may be Connecting or Open per session.
type ConnectionPhase string

const (
	ConnDisconnected ConnectionPhase = "disconnected"
	ConnConnecting   ConnectionPhase = "connecting"
	ConnOpen         ConnectionPhase = "open"
	ConnClosing      ConnectionPhase = "closing"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TokenUsage carries optional token accounting attached to a message.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is one entry of the append-only conversation history.
type Message struct {
	ID          uuid.UUID      `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	ContextType string         `json:"context_type,omitempty"`
	ContextData map[string]any `json:"context_data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	TokenUsage  *TokenUsage    `json:"token_usage,omitempty"`
}

// ToolCallStatus tracks a tool call from request to result.
type ToolCallStatus string

const (
	ToolPending ToolCallStatus = "pending"
	ToolRunning ToolCallStatus = "running"
	ToolSuccess ToolCallStatus = "success"
	ToolFailed  ToolCallStatus = "failed"
)

// ToolCall is the single in-flight tool invocation. A new action replaces
// it; the observation that follows completes it.
type ToolCall struct {
	ToolName             string         `json:"tool_name"`
	Input                map[string]any `json:"input,omitempty"`
	Status               ToolCallStatus `json:"status"`
	Output               string         `json:"output,omitempty"`
	Error                string         `json:"error,omitempty"`
	ExecutionTimeSeconds float64        `json:"execution_time_seconds,omitempty"`
}

// AgentError is a server-reported application error surfaced on the store.
type AgentError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e *AgentError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// NewUserMessage builds a history entry for a locally submitted query.
func NewUserMessage(content, contextType string, contextData map[string]any) Message {
	return Message{
		ID:          uuid.New(),
		Role:        RoleUser,
		Content:     content,
		ContextType: contextType,
		ContextData: contextData,
		Timestamp:   time.Now(),
	}
}

// NewAssistantMessage builds a history entry for a server answer.
func NewAssistantMessage(content string, usage *TokenUsage) Message {
	return Message{
		ID:         uuid.New(),
		Role:       RoleAssistant,
		Content:    content,
		Timestamp:  time.Now(),
		TokenUsage: usage,
	}
}
