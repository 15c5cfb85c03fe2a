package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"reagent/internal/domain"
)

// Step is one model reply decoded into ReAct parts.
type Step struct {
	Thought     string
	Action      *domain.ToolInvocation
	FinalAnswer string
	HasFinal    bool
	// RawInput is the unparsed action input, kept for single-parameter fallback.
	RawInput string
	// ParseErr is set when an action was named but its input could not be read.
	ParseErr error
}

// Terminal reports whether the step ends the turn.
func (s Step) Terminal() bool { return s.Action == nil && s.ParseErr == nil }

// Answer returns the user-facing text of a terminal step.
func (s Step) Answer() string {
	if s.HasFinal {
		return s.FinalAnswer
	}
	return s.Thought
}

type marker int

const (
	markerNone marker = iota
	markerThought
	markerAction
	markerActionInput
	markerFinal
	markerObservation
)

// markerPrefixes is ordered so that "action input:" is tried before "action:".
var markerPrefixes = []struct {
	prefix string
	kind   marker
}{
	{"thought:", markerThought},
	{"action input:", markerActionInput},
	{"action:", markerAction},
	{"final answer:", markerFinal},
	{"observation:", markerObservation},
}

// ParseStep extracts thought, action and final answer from a model reply.
// Native tool calls win over text markers. Text without any marker is a
// final answer. An action takes precedence over a final answer.
func ParseStep(msg domain.Message) Step {
	if len(msg.ToolCalls) > 0 {
		return parseNativeCall(msg)
	}

	sections := splitSections(msg.Content)
	var step Step
	var actionName string
	var hasInput, sawMarker bool
	for _, sec := range sections {
		switch sec.kind {
		case markerNone:
			if step.Thought == "" {
				step.Thought = sec.text
			}
		case markerThought:
			sawMarker = true
			step.Thought = sec.text
		case markerAction:
			sawMarker = true
			if actionName == "" {
				actionName = sec.text
			}
		case markerActionInput:
			sawMarker = true
			if !hasInput {
				step.RawInput = sec.text
				hasInput = true
			}
		case markerFinal:
			sawMarker = true
			if !step.HasFinal {
				step.FinalAnswer = sec.text
				step.HasFinal = true
			}
		case markerObservation:
			// Anything the model writes as its own observation is discarded.
		}
	}

	if !sawMarker {
		return Step{Thought: strings.TrimSpace(msg.Content)}
	}

	actionName = cleanActionName(actionName)
	if actionName == "" {
		return step
	}
	step.Action = &domain.ToolInvocation{Name: actionName}
	params, err := ParseActionInput(step.RawInput)
	if err != nil {
		step.ParseErr = err
		return step
	}
	step.Action.Params = params
	return step
}

func parseNativeCall(msg domain.Message) Step {
	call := msg.ToolCalls[0]
	step := Step{
		Thought:  stripThought(msg.Content),
		RawInput: string(call.Arguments),
		Action:   &domain.ToolInvocation{ID: call.ID, Name: call.Name},
	}
	params, err := ParseActionInput(string(call.Arguments))
	if err != nil {
		step.ParseErr = err
		return step
	}
	step.Action.Params = params
	return step
}

type section struct {
	kind marker
	text string
}

// splitSections cuts text at lines starting with a ReAct marker. Text after
// an observation marker is dropped.
func splitSections(text string) []section {
	var (
		out     []section
		current = section{kind: markerNone}
		buf     []string
	)
	flush := func() {
		current.text = strings.TrimSpace(strings.Join(buf, "\n"))
		if current.kind != markerNone || current.text != "" {
			out = append(out, current)
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		kind, rest, ok := matchMarker(line)
		if !ok {
			buf = append(buf, line)
			continue
		}
		flush()
		current = section{kind: kind}
		if kind == markerObservation {
			return out
		}
		buf = append(buf, rest)
	}
	flush()
	return out
}

func matchMarker(line string) (marker, string, bool) {
	trimmed := strings.TrimLeft(line, " \t*#>-")
	lower := strings.ToLower(trimmed)
	for _, m := range markerPrefixes {
		if strings.HasPrefix(lower, m.prefix) {
			return m.kind, strings.TrimSpace(strings.TrimLeft(trimmed[len(m.prefix):], "*")), true
		}
		// "**Action**:" style emphasis.
		if p := strings.TrimSuffix(m.prefix, ":"); strings.HasPrefix(lower, p+"**:") {
			return m.kind, strings.TrimSpace(trimmed[len(p)+3:]), true
		}
	}
	return markerNone, "", false
}

func cleanActionName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexAny(name, "\n("); i >= 0 {
		name = name[:i]
	}
	return strings.Trim(strings.TrimSpace(name), "`\"'*[]")
}

func stripThought(content string) string {
	content = strings.TrimSpace(content)
	if kind, rest, ok := matchMarker(content); ok && kind == markerThought {
		return rest
	}
	return content
}

// ParseActionInput reads a parameter block given as a JSON object or as
// "key: value" lines. An empty block yields no parameters.
func ParseActionInput(raw string) (map[string]domain.Value, error) {
	raw = stripFence(strings.TrimSpace(raw))
	if raw == "" || raw == "{}" || strings.EqualFold(raw, "none") {
		return map[string]domain.Value{}, nil
	}
	if strings.HasPrefix(raw, "{") {
		// Models often keep talking after the object; only the first value counts.
		var obj json.RawMessage
		if err := json.NewDecoder(strings.NewReader(raw)).Decode(&obj); err != nil {
			return nil, fmt.Errorf("action input is not a valid JSON object: %w", err)
		}
		params, err := domain.ParseParams(obj)
		if err != nil {
			return nil, fmt.Errorf("action input is not a valid JSON object: %w", err)
		}
		return params, nil
	}

	params := make(map[string]domain.Value)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		key = strings.Trim(strings.TrimSpace(key), "`\"'")
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("action input is neither a JSON object nor key: value lines: %q", line)
		}
		params[key] = literalValue(strings.TrimSpace(val))
	}
	return params, nil
}

// literalValue decodes JSON scalars, arrays and objects, and keeps anything
// else as a plain string.
func literalValue(s string) domain.Value {
	if s == "" {
		return domain.StringValue("")
	}
	var x any
	if err := json.Unmarshal([]byte(s), &x); err == nil {
		if v, err := domain.ValueOf(x); err == nil {
			return v
		}
	}
	return domain.StringValue(s)
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		// Drop an info string such as "json".
		if !strings.ContainsAny(s[:i], "{:") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
