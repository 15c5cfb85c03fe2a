package usecase

import (
	"reagent/internal/domain"
)

// missingResultContent is the observation injected for a tool call that never
// produced a result, e.g. an async call abandoned by recovery.
const missingResultContent = "Error (EXECUTION_ERROR): tool call did not produce a result"

// RepairTranscript fixes broken native tool chains before a history is sent
// to a provider:
//  1. an assistant tool call without a matching tool message gets an injected
//     error result right after its chain;
//  2. a tool message without a preceding matching call is dropped.
//
// Returns a new slice (does not modify the input).
func RepairTranscript(messages []domain.Message) []domain.Message {
	if len(messages) == 0 {
		return messages
	}

	result := make([]domain.Message, 0, len(messages))
	var pending []domain.ToolCall

	resolve := func(id string) bool {
		for i, tc := range pending {
			if tc.ID == id {
				pending = append(pending[:i], pending[i+1:]...)
				return true
			}
		}
		return false
	}
	flush := func(at domain.Message) {
		for _, tc := range pending {
			result = append(result, domain.Message{
				Role:      domain.RoleTool,
				Name:      tc.Name,
				Content:   missingResultContent,
				ToolCalls: []domain.ToolCall{{ID: tc.ID, Name: tc.Name}},
				Timestamp: at.Timestamp,
			})
		}
		pending = pending[:0]
	}

	var last domain.Message
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleTool:
			if len(msg.ToolCalls) == 0 || !resolve(msg.ToolCalls[0].ID) {
				continue
			}
			result = append(result, msg)

		case domain.RoleAssistant:
			flush(last)
			for _, tc := range msg.ToolCalls {
				if tc.ID != "" {
					pending = append(pending, tc)
				}
			}
			result = append(result, msg)

		default:
			flush(last)
			result = append(result, msg)
		}
		last = msg
	}
	flush(last)
	return result
}

// groupMessages partitions messages into atomic groups: an assistant message
// with tool calls and the tool messages right after it form one group.
func groupMessages(msgs []domain.Message) [][]domain.Message {
	var groups [][]domain.Message
	i := 0
	for i < len(msgs) {
		msg := msgs[i]
		if msg.Role == domain.RoleAssistant && len(msg.ToolCalls) > 0 {
			group := []domain.Message{msg}
			j := i + 1
			for j < len(msgs) && msgs[j].Role == domain.RoleTool {
				group = append(group, msgs[j])
				j++
			}
			groups = append(groups, group)
			i = j
		} else {
			groups = append(groups, []domain.Message{msg})
			i++
		}
	}
	return groups
}

// truncateHistory keeps the newest whole groups that fit in maxMessages.
func truncateHistory(history []domain.Message, maxMessages int) []domain.Message {
	if maxMessages <= 0 || len(history) <= maxMessages {
		return history
	}

	groups := groupMessages(history)
	var kept [][]domain.Message
	total := 0
	for i := len(groups) - 1; i >= 0; i-- {
		n := len(groups[i])
		if total+n > maxMessages && total > 0 {
			break
		}
		kept = append(kept, groups[i])
		total += n
	}

	// Reverse to restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	result := make([]domain.Message, 0, total)
	for _, g := range kept {
		result = append(result, g...)
	}
	return result
}
