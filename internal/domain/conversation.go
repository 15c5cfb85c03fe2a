package domain

import "time"

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	StatusActive    ConversationStatus = "ACTIVE"
	StatusPaused    ConversationStatus = "PAUSED"
	StatusCompleted ConversationStatus = "COMPLETED"
	StatusError     ConversationStatus = "ERROR"
)

// Phase is the position of a conversation inside the ReAct loop.
type Phase string

const (
	PhaseThinking  Phase = "THINKING"
	PhaseActing    Phase = "ACTING"
	PhaseObserving Phase = "OBSERVING"
)

// DefaultMaxIterations caps reasoning steps per turn when the agent sets none.
const DefaultMaxIterations = 10

// Metadata keys written by the state manager.
const (
	MetaErrorCount     = "error_count"
	MetaLastError      = "last_error"
	MetaLastErrorCause = "last_error_cause"
	MetaLastErrorAt    = "last_error_at"
	MetaRecoveredAt    = "recovered_at"
	MetaTerminatedAt   = "terminated_at"
)

// ToolInvocation is a parsed request from the model to run a tool.
type ToolInvocation struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Params map[string]Value `json:"params"`
}

// ReActState is the reasoning scratchpad of the current turn. Iteration
// counts model calls over the whole conversation; TurnStart is its value when
// the current turn began, so the per-turn cap applies to the difference.
type ReActState struct {
	Phase         Phase           `json:"phase"`
	Thought       string          `json:"thought,omitempty"`
	PendingAction *ToolInvocation `json:"pending_action,omitempty"`
	Observations  []ToolResult    `json:"observations,omitempty"`
	Iteration     int             `json:"iteration"`
	TurnStart     int             `json:"turn_start"`
	MaxIterations int             `json:"max_iterations"`
	FinalAnswer   string          `json:"final_answer,omitempty"`
}

// TurnIterations is the number of model calls made in the current turn.
func (r ReActState) TurnIterations() int {
	return r.Iteration - r.TurnStart
}

// ConversationContext binds a conversation to its agent and user.
type ConversationContext struct {
	ConversationID string           `json:"conversation_id"`
	AgentID        string           `json:"agent_id"`
	UserID         string           `json:"user_id"`
	Agent          AgentContext     `json:"agent"`
	Metadata       map[string]Value `json:"metadata,omitempty"`
	ReAct          ReActState       `json:"react"`
}

// ConversationState is the persisted record of one conversation.
type ConversationState struct {
	ID           string              `json:"id"`
	Status       ConversationStatus  `json:"status"`
	Phase        Phase               `json:"phase"`
	Messages     []Message           `json:"messages"`
	Context      ConversationContext `json:"context"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
}

// Clone returns a copy that shares no mutable slices or maps with s.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	c.Context.Metadata = make(map[string]Value, len(s.Context.Metadata))
	for k, v := range s.Context.Metadata {
		c.Context.Metadata[k] = v
	}
	c.Context.ReAct.Observations = append([]ToolResult(nil), s.Context.ReAct.Observations...)
	if s.Context.ReAct.PendingAction != nil {
		pa := *s.Context.ReAct.PendingAction
		c.Context.ReAct.PendingAction = &pa
	}
	return &c
}

// TokenLimits are the per-agent caps checked before each model call.
// Zero means unlimited.
type TokenLimits struct {
	MaxTokensPerConversation int64 `json:"max_tokens_per_conversation,omitempty" yaml:"max_tokens_per_conversation"`
	MaxTokensPerRequest      int64 `json:"max_tokens_per_request,omitempty"      yaml:"max_tokens_per_request"`
}

// AgentContext configures how an agent reasons for a conversation.
type AgentContext struct {
	AgentID       string      `json:"agent_id"`
	UserID        string      `json:"user_id"`
	Provider      string      `json:"provider,omitempty"`
	Model         string      `json:"model,omitempty"`
	SystemPrompt  string      `json:"system_prompt,omitempty"`
	MaxIterations int         `json:"max_iterations,omitempty"`
	Temperature   float64     `json:"temperature,omitempty"`
	MaxTokens     int         `json:"max_tokens,omitempty"`
	Tools         []string    `json:"tools,omitempty"`
	Limits        TokenLimits `json:"limits"`
}

// ResponseType classifies an AgentResponse.
type ResponseType string

const (
	ResponseText    ResponseType = "TEXT"
	ResponseError   ResponseType = "ERROR"
	ResponseLimit   ResponseType = "LIMIT"
	ResponsePending ResponseType = "PENDING"
)

// AgentResponse is the user-facing outcome of a turn.
type AgentResponse struct {
	ConversationID string       `json:"conversation_id"`
	Type           ResponseType `json:"type"`
	Content        string       `json:"content"`
	Iterations     int          `json:"iterations"`
	Usage          Usage        `json:"usage"`
	ToolResults    []ToolResult `json:"tool_results,omitempty"`
	ErrorCode      ErrorCode    `json:"error_code,omitempty"`
	Limit          *LimitError  `json:"-"`
}
