package usecase

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"reagent/internal/domain"
)

// DefaultSystemPrompt is used when an agent declares none.
const DefaultSystemPrompt = "You are a helpful assistant. Answer the user's question, using tools when they help."

// observationPrefix starts the user message that carries a text-protocol observation.
const observationPrefix = "Observation: "

// reactInstructions explains the text protocol for models without native tool calling.
const reactInstructions = `To use a tool, reply in exactly this format:
Thought: your reasoning about what to do next
Action: the tool name
Action Input: the parameters as a JSON object

You will then receive an Observation with the tool result. Repeat as needed.
When you know the answer, reply:
Thought: your final reasoning
Final Answer: the answer for the user`

// PromptBuilder assembles the chat request for one reasoning step.
type PromptBuilder struct {
	maxMessages int
}

// NewPromptBuilder creates a builder that keeps at most maxMessages history
// messages (0 keeps everything).
func NewPromptBuilder(maxMessages int) *PromptBuilder {
	return &PromptBuilder{maxMessages: maxMessages}
}

// Build assembles: system prompt + tool catalogue + repaired, truncated history.
func (pb *PromptBuilder) Build(state *domain.ConversationState, tools []domain.ToolDefinition, schemas []domain.ToolSchema) domain.ChatRequest {
	agent := state.Context.Agent

	messages := make([]domain.Message, 0, 1+len(state.Messages))
	messages = append(messages, domain.Message{
		Role:      domain.RoleSystem,
		Content:   SystemPrompt(agent.SystemPrompt, tools),
		Timestamp: time.Now(),
	})
	hist := RepairTranscript(state.Messages)
	hist = truncateHistory(hist, pb.maxMessages)
	messages = append(messages, hist...)

	return domain.ChatRequest{
		Model:       agent.Model,
		Messages:    messages,
		Tools:       schemas,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
		Stop:        []string{"\nObservation:"},
	}
}

// SystemPrompt renders the agent prompt followed by the tool catalogue and
// the ReAct reply format.
func SystemPrompt(base string, tools []domain.ToolDefinition) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}
	if len(tools) == 0 {
		return base + "\n\nReply with:\nFinal Answer: the answer for the user"
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n## Tools\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		names := make([]string, 0, len(t.Parameters))
		for name := range t.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := t.Parameters[name]
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&sb, "    - %s (%s, %s)", name, p.Type, req)
			if p.Description != "" {
				fmt.Fprintf(&sb, ": %s", p.Description)
			}
			if len(p.Enum) > 0 {
				fmt.Fprintf(&sb, " [one of: %s]", strings.Join(p.Enum, ", "))
			}
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("\n")
	sb.WriteString(reactInstructions)
	return sb.String()
}

// requestText concatenates everything in req that counts towards prompt tokens.
func requestText(req domain.ChatRequest) string {
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(m.Content)
		for _, tc := range m.ToolCalls {
			sb.WriteString(tc.Name)
			sb.Write(tc.Arguments)
		}
	}
	for _, t := range req.Tools {
		sb.WriteString(t.Name)
		sb.WriteString(t.Description)
		sb.Write(t.Parameters)
	}
	return sb.String()
}
