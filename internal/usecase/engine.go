package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"reagent/internal/domain"
	"reagent/internal/infra/tracer"
)

// DefaultMaxConcurrentTurns bounds turns running in parallel across conversations.
const DefaultMaxConcurrentTurns = 16

// ModelGateway produces model replies, failing over between providers.
type ModelGateway interface {
	GenerateResponse(ctx context.Context, req domain.ChatRequest, providerID string) (*domain.ChatResponse, error)
}

// ToolRunner executes registered tools.
type ToolRunner interface {
	AvailableTools() []domain.ToolDefinition
	Schemas() []domain.ToolSchema
	ExecuteTool(ctx context.Context, name string, params map[string]domain.Value) domain.ToolResult
	ExecuteToolAsync(ctx context.Context, name string, params map[string]domain.Value) <-chan domain.ToolResult
}

// EngineDeps holds all dependencies for the Engine.
type EngineDeps struct {
	Gateway ModelGateway
	Tools   ToolRunner
	Ledger  *Ledger
	States  *StateManager
	Mailbox *Mailbox       // optional, created when nil
	Prompts *PromptBuilder // optional, keeps full history when nil
	Logger  *slog.Logger

	MaxConcurrentTurns int
	TurnTimeout        time.Duration // 0 disables the per-turn deadline
	// NativeTools sends tool schemas for provider function calling in
	// addition to the text protocol.
	NativeTools bool
	// OnAsyncResponse receives the response of a turn resumed by an async
	// tool completion.
	OnAsyncResponse func(*domain.AgentResponse)
}

// Engine runs the ReAct loop: think with the model, act through a tool,
// observe the result, until a final answer or the iteration cap.
type Engine struct {
	gateway     ModelGateway
	tools       ToolRunner
	ledger      *Ledger
	states      *StateManager
	mailbox     *Mailbox
	prompts     *PromptBuilder
	logger      *slog.Logger
	turns       *semaphore.Weighted
	turnTimeout time.Duration
	nativeTools bool
	onAsync     func(*domain.AgentResponse)

	async     sync.WaitGroup
	closeOnce sync.Once
}

// NewEngine creates an engine from deps.
func NewEngine(deps EngineDeps) *Engine {
	if deps.MaxConcurrentTurns <= 0 {
		deps.MaxConcurrentTurns = DefaultMaxConcurrentTurns
	}
	if deps.Mailbox == nil {
		deps.Mailbox = NewMailbox(DefaultMailboxIdle, deps.Logger)
	}
	if deps.Prompts == nil {
		deps.Prompts = NewPromptBuilder(0)
	}
	return &Engine{
		gateway:     deps.Gateway,
		tools:       deps.Tools,
		ledger:      deps.Ledger,
		states:      deps.States,
		mailbox:     deps.Mailbox,
		prompts:     deps.Prompts,
		logger:      deps.Logger,
		turns:       semaphore.NewWeighted(int64(deps.MaxConcurrentTurns)),
		turnTimeout: deps.TurnTimeout,
		nativeTools: deps.NativeTools,
		onAsync:     deps.OnAsyncResponse,
	}
}

// turn accumulates what one turn reports back to the caller.
type turn struct {
	usage   domain.Usage
	results []domain.ToolResult
}

// ProcessMessage runs one user turn on conversationID, creating the
// conversation when it does not exist. An empty conversationID starts a new
// conversation. Failures inside the turn are reported as ERROR or LIMIT
// responses; the returned error is reserved for rejected calls.
func (e *Engine) ProcessMessage(ctx context.Context, conversationID, userMessage string, agent domain.AgentContext) (*domain.AgentResponse, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, domain.NewDomainError("Engine.ProcessMessage", domain.ErrInvalidInput, "message is empty")
	}
	if conversationID == "" {
		conversationID = NewConversationID()
	}
	return e.submit(ctx, "engine.process_message", conversationID, func(ctx context.Context) (*domain.AgentResponse, error) {
		return e.processTurn(ctx, conversationID, userMessage, agent)
	})
}

// ContinueReasoning feeds the result of the pending async tool call back into
// conversationID and resumes the loop. A result that does not match the
// pending call is stale and rejected with ErrInvalidTransition.
func (e *Engine) ContinueReasoning(ctx context.Context, conversationID string, result domain.ToolResult) (*domain.AgentResponse, error) {
	return e.submit(ctx, "engine.continue_reasoning", conversationID, func(ctx context.Context) (*domain.AgentResponse, error) {
		return e.continueTurn(ctx, conversationID, result)
	})
}

// GetConversationState returns a copy of the state of conversationID.
func (e *Engine) GetConversationState(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	return e.states.GetConversationState(ctx, conversationID)
}

// EndConversation completes conversationID and releases its ledger binding.
func (e *Engine) EndConversation(ctx context.Context, conversationID string) error {
	return e.mailbox.Do(ctx, conversationID, func(ctx context.Context) error {
		if err := e.states.TerminateConversation(ctx, conversationID); err != nil {
			return err
		}
		e.ledger.ForgetConversation(conversationID)
		return nil
	})
}

// Close waits for outstanding async tool completions and stops the mailbox.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.async.Wait()
		e.mailbox.Close()
	})
}

// submit runs fn on the conversation's mailbox actor and waits for it.
func (e *Engine) submit(ctx context.Context, spanName, id string, fn func(context.Context) (*domain.AgentResponse, error)) (*domain.AgentResponse, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("conversation.id", id)),
	)
	defer span.End()

	out := make(chan *domain.AgentResponse, 1)
	err := e.mailbox.Do(ctx, id, func(jobCtx context.Context) error {
		resp, err := e.runTurn(jobCtx, fn)
		out <- resp
		return err
	})

	var resp *domain.AgentResponse
	select {
	case resp = <-out:
	default:
	}
	if err == nil && resp == nil {
		err = domain.NewDomainError("Engine.submit", domain.ErrUnavailable, "turn produced no response")
	}
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		tracer.StringAttr("response.type", string(resp.Type)),
		tracer.IntAttr("react.iterations", resp.Iterations),
	)
	tracer.SetOK(span)
	return resp, nil
}

// runTurn applies the turn slot and deadline around fn.
func (e *Engine) runTurn(ctx context.Context, fn func(context.Context) (*domain.AgentResponse, error)) (*domain.AgentResponse, error) {
	if err := e.turns.Acquire(ctx, 1); err != nil {
		return nil, domain.WrapOp("Engine.runTurn", err)
	}
	defer e.turns.Release(1)

	if e.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.turnTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func (e *Engine) processTurn(ctx context.Context, id, userMessage string, agent domain.AgentContext) (*domain.AgentResponse, error) {
	if agent.MaxIterations <= 0 {
		agent.MaxIterations = domain.DefaultMaxIterations
	}

	state, err := e.states.InitializeConversationState(ctx, id, agent)
	if err != nil {
		return e.fail(ctx, id, &turn{}, 0, "could not load the conversation", err), nil
	}

	if state.Status == domain.StatusError {
		ok, err := e.states.AttemptConversationRecovery(ctx, id)
		if err != nil || !ok {
			if err == nil {
				err = domain.NewDomainError("Engine.ProcessMessage", domain.ErrConversationNotFound, id)
			}
			return e.fail(ctx, id, &turn{}, 0, "could not recover the conversation", err), nil
		}
		if state, err = e.states.GetConversationState(ctx, id); err != nil {
			return e.fail(ctx, id, &turn{}, 0, "could not load the conversation", err), nil
		}
	}

	react := &state.Context.ReAct
	if react.PendingAction != nil {
		e.logger.Info("abandoning pending tool call for new message",
			"conversation_id", id, "tool", react.PendingAction.Name, "call_id", react.PendingAction.ID)
	}

	if agent.UserID == "" {
		agent.UserID = state.Context.UserID
	}
	if agent.AgentID == "" {
		agent.AgentID = state.Context.AgentID
	}
	state.Context.Agent = agent
	state.Context.AgentID = agent.AgentID
	state.Context.UserID = agent.UserID

	if err := e.ledger.BindConversation(ctx, id, agent); err != nil {
		return e.fail(ctx, id, &turn{}, 0, "could not load the token budget", err), nil
	}

	state.Status = domain.StatusActive
	state.Phase = domain.PhaseThinking
	state.Messages = append(state.Messages, domain.Message{
		Role:      domain.RoleUser,
		Content:   userMessage,
		Timestamp: time.Now(),
	})
	done := react.Iteration
	state.Context.ReAct = domain.ReActState{
		Phase:         domain.PhaseThinking,
		Iteration:     done,
		TurnStart:     done,
		MaxIterations: agent.MaxIterations,
	}
	if err := e.states.UpdateConversationState(ctx, id, state); err != nil {
		return e.fail(ctx, id, &turn{}, 0, "could not save the conversation", err), nil
	}

	return e.reason(ctx, state, &turn{}), nil
}

func (e *Engine) continueTurn(ctx context.Context, id string, result domain.ToolResult) (*domain.AgentResponse, error) {
	const op = "Engine.ContinueReasoning"
	state, err := e.states.GetConversationState(ctx, id)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	pending := state.Context.ReAct.PendingAction
	if state.Status != domain.StatusActive || state.Phase != domain.PhaseActing || pending == nil ||
		(result.CallID != "" && result.CallID != pending.ID) {
		e.logger.Info("discarding stale tool completion",
			"conversation_id", id, "call_id", result.CallID, "tool", result.ToolName,
			"status", state.Status, "phase", state.Phase)
		return nil, domain.NewDomainError(op, domain.ErrInvalidTransition, "stale tool completion")
	}

	if err := e.ledger.BindConversation(ctx, id, state.Context.Agent); err != nil {
		return e.fail(ctx, id, &turn{}, state.Context.ReAct.TurnIterations(), "could not load the token budget", err), nil
	}

	result.CallID = pending.ID
	if result.ToolName == "" {
		result.ToolName = pending.Name
	}
	tr := &turn{}
	e.observe(state, *pending, result, tr)
	if err := e.states.UpdateConversationState(ctx, id, state); err != nil {
		return e.fail(ctx, id, tr, state.Context.ReAct.TurnIterations(), "could not save the conversation", err), nil
	}
	return e.reason(ctx, state, tr), nil
}

// reason iterates until the turn ends.
func (e *Engine) reason(ctx context.Context, state *domain.ConversationState, tr *turn) *domain.AgentResponse {
	for {
		react := &state.Context.ReAct
		if react.TurnIterations() >= react.MaxIterations {
			return e.stopAtCap(ctx, state, tr)
		}
		if resp := e.iterate(ctx, state, tr); resp != nil {
			return resp
		}
	}
}

// iterate runs one think/act/observe step. It returns nil when the loop
// should continue.
func (e *Engine) iterate(ctx context.Context, state *domain.ConversationState, tr *turn) *domain.AgentResponse {
	react := &state.Context.ReAct
	agent := state.Context.Agent
	id := state.ID

	ctx, span := tracer.StartSpan(ctx, "engine.iteration",
		trace.WithAttributes(
			tracer.StringAttr("conversation.id", id),
			tracer.IntAttr("react.iteration", react.TurnIterations()+1),
		),
	)
	defer span.End()

	state.Phase = domain.PhaseThinking
	react.Phase = domain.PhaseThinking

	defs := e.agentTools(agent)
	var schemas []domain.ToolSchema
	if e.nativeTools && len(defs) > 0 {
		schemas = e.agentSchemas(defs)
	}
	req := e.prompts.Build(state, defs, schemas)

	estimate := e.ledger.Pricing().EstimateTokens(requestText(req), agent.Provider)
	if err := e.ledger.ValidateTokenLimits(ctx, agent.UserID, id, estimate, agent.Limits); err != nil {
		var le *domain.LimitError
		if errors.As(err, &le) {
			span.SetAttributes(tracer.StringAttr("limit.kind", string(le.Kind)))
			return e.limited(ctx, state, tr, le)
		}
		tracer.RecordError(span, err)
		return e.fail(ctx, id, tr, react.TurnIterations(), "could not check the token budget", err)
	}

	react.Iteration++
	chat, err := e.gateway.GenerateResponse(ctx, req, agent.Provider)
	if err != nil {
		tracer.RecordError(span, err)
		return e.fail(ctx, id, tr, react.TurnIterations(), "the model could not be reached", err)
	}
	e.recordUsage(ctx, state, chat, estimate, tr)

	step := ParseStep(chat.Message)
	reply := chat.Message
	reply.Role = domain.RoleAssistant
	if len(reply.ToolCalls) > 1 {
		reply.ToolCalls = reply.ToolCalls[:1]
	}
	if reply.Timestamp.IsZero() {
		reply.Timestamp = time.Now()
	}
	react.Thought = step.Thought

	if step.Terminal() {
		answer := step.Answer()
		reply.Content = answer
		state.Messages = append(state.Messages, reply)
		react.FinalAnswer = answer
		if err := e.states.UpdateConversationState(ctx, id, state); err != nil {
			tracer.RecordError(span, err)
			return e.fail(ctx, id, tr, react.TurnIterations(), "could not save the conversation", err)
		}
		tracer.SetOK(span)
		return e.respond(state, tr, domain.ResponseText, answer)
	}

	inv := *step.Action
	if inv.ID == "" {
		inv.ID = newCallID()
	}
	state.Messages = append(state.Messages, reply)
	react.PendingAction = &inv
	state.Phase = domain.PhaseActing
	react.Phase = domain.PhaseActing
	span.SetAttributes(tracer.StringAttr("tool.name", inv.Name))
	if err := e.states.UpdateConversationState(ctx, id, state); err != nil {
		tracer.RecordError(span, err)
		return e.fail(ctx, id, tr, react.TurnIterations(), "could not save the conversation", err)
	}

	result, async := e.act(ctx, state, &inv, step)
	if async != nil {
		// Params may have been filled in by act.
		if err := e.states.UpdateConversationState(ctx, id, state); err != nil {
			tracer.RecordError(span, err)
			return e.fail(ctx, id, tr, react.TurnIterations(), "could not save the conversation", err)
		}
		e.watch(id, inv, async)
		tracer.SetOK(span)
		return e.respond(state, tr, domain.ResponsePending,
			fmt.Sprintf("Running %s in the background; the answer will follow.", inv.Name))
	}

	e.observe(state, inv, result, tr)
	if err := e.states.UpdateConversationState(ctx, id, state); err != nil {
		tracer.RecordError(span, err)
		return e.fail(ctx, id, tr, react.TurnIterations(), "could not save the conversation", err)
	}
	tracer.SetOK(span)
	return nil
}

// act runs the tool named by inv. Async tools return a channel instead of a
// result. Unreadable input and unknown tools become failed results.
func (e *Engine) act(ctx context.Context, state *domain.ConversationState, inv *domain.ToolInvocation, step Step) (domain.ToolResult, <-chan domain.ToolResult) {
	agent := state.Context.Agent
	defs := e.agentTools(agent)

	def, known := findTool(defs, inv.Name)
	if !known {
		return syntheticFailure(*inv, domain.CodeToolNotFound,
			fmt.Sprintf("tool %q is unavailable; available tools: %s", inv.Name, toolNames(defs))), nil
	}

	if step.ParseErr != nil {
		params, ok := singleParamFallback(def, step.RawInput)
		if !ok {
			return syntheticFailure(*inv, domain.CodeInvalidParameter,
				fmt.Sprintf("could not read the action input: %v", step.ParseErr)), nil
		}
		inv.Params = params
	}
	if inv.Params == nil {
		inv.Params = map[string]domain.Value{}
	}

	if def.Async {
		e.logger.Debug("starting async tool", "conversation_id", state.ID, "tool", inv.Name, "call_id", inv.ID)
		return domain.ToolResult{}, e.tools.ExecuteToolAsync(ctx, inv.Name, inv.Params)
	}

	res := e.tools.ExecuteTool(ctx, inv.Name, inv.Params)
	res.CallID = inv.ID
	if res.ToolName == "" {
		res.ToolName = inv.Name
	}
	if res.ErrorCode() == domain.CodeToolNotFound {
		res.Error = fmt.Sprintf("tool %q is unavailable; available tools: %s", inv.Name, toolNames(defs))
	}
	e.logger.Debug("tool executed",
		"conversation_id", state.ID, "tool", inv.Name, "success", res.Success, "duration", res.Duration)
	return res, nil
}

// observe appends result to the transcript and moves to OBSERVING. Native
// calls get a tool message, text-protocol calls an Observation message.
func (e *Engine) observe(state *domain.ConversationState, inv domain.ToolInvocation, result domain.ToolResult, tr *turn) {
	react := &state.Context.ReAct
	react.Observations = append(react.Observations, result)
	react.PendingAction = nil
	tr.results = append(tr.results, result)

	msg := domain.Message{
		Role:      domain.RoleUser,
		Content:   observationPrefix + result.Observation(),
		Timestamp: time.Now(),
	}
	if isNativeCall(state.Messages, inv.ID) {
		msg = domain.Message{
			Role:      domain.RoleTool,
			Name:      inv.Name,
			Content:   result.Observation(),
			ToolCalls: []domain.ToolCall{{ID: inv.ID, Name: inv.Name}},
			Timestamp: msg.Timestamp,
		}
	}
	state.Messages = append(state.Messages, msg)
	state.Phase = domain.PhaseObserving
	react.Phase = domain.PhaseObserving
}

// watch resumes the conversation through its mailbox once the async tool
// delivers.
func (e *Engine) watch(id string, inv domain.ToolInvocation, ch <-chan domain.ToolResult) {
	e.async.Add(1)
	go func() {
		defer e.async.Done()
		res, ok := <-ch
		if !ok {
			return
		}
		res.CallID = inv.ID
		if res.ToolName == "" {
			res.ToolName = inv.Name
		}
		err := e.mailbox.Post(context.Background(), id, func(ctx context.Context) error {
			resp, err := e.runTurn(ctx, func(ctx context.Context) (*domain.AgentResponse, error) {
				return e.continueTurn(ctx, id, res)
			})
			if err != nil {
				return err
			}
			if e.onAsync != nil {
				e.onAsync(resp)
			}
			return nil
		})
		if err != nil {
			e.logger.Warn("async tool result dropped", "conversation_id", id, "call_id", inv.ID, "error", err)
		}
	}()
}

func (e *Engine) recordUsage(ctx context.Context, state *domain.ConversationState, chat *domain.ChatResponse, estimate int64, tr *turn) {
	agent := state.Context.Agent
	in, out := int64(chat.Usage.PromptTokens), int64(chat.Usage.CompletionTokens)
	if in == 0 && out == 0 {
		in = estimate
		out = e.ledger.Pricing().EstimateTokens(chat.Message.Content, agent.Provider)
	}
	tr.usage.Add(domain.Usage{PromptTokens: int(in), CompletionTokens: int(out), TotalTokens: int(in + out)})

	provider, model := chat.Provider, chat.Model
	if provider == "" {
		provider = agent.Provider
	}
	if model == "" {
		model = agent.Model
	}
	if _, err := e.ledger.RecordUsage(ctx, state.ID, provider, model, in, out); err != nil {
		e.logger.Warn("token usage not recorded",
			"conversation_id", state.ID, "provider", provider, "model", model, "error", err)
	}
}

// stopAtCap ends a turn that used every reasoning step.
func (e *Engine) stopAtCap(ctx context.Context, state *domain.ConversationState, tr *turn) *domain.AgentResponse {
	react := &state.Context.ReAct
	content := fmt.Sprintf("I reached the maximum number of reasoning steps (%d) without a final answer. "+
		"Try a more specific question.", react.MaxIterations)
	e.logger.Info("iteration cap reached", "conversation_id", state.ID, "iterations", react.TurnIterations())

	state.Messages = append(state.Messages, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	})
	state.Phase = domain.PhaseThinking
	react.Phase = domain.PhaseThinking
	react.FinalAnswer = content
	if err := e.states.UpdateConversationState(ctx, state.ID, state); err != nil {
		return e.fail(ctx, state.ID, tr, react.TurnIterations(), "could not save the conversation", err)
	}
	resp := e.respond(state, tr, domain.ResponseText, content)
	resp.ErrorCode = domain.CodeMaxIterations
	return resp
}

// limited ends a turn whose next model call would exceed a token budget.
func (e *Engine) limited(ctx context.Context, state *domain.ConversationState, tr *turn, le *domain.LimitError) *domain.AgentResponse {
	e.logger.Info("token limit reached",
		"conversation_id", state.ID, "user_id", le.UserID, "kind", le.Kind, "current", le.Current, "limit", le.Limit)

	if err := e.states.UpdateConversationState(ctx, state.ID, state); err != nil {
		e.logger.Warn("conversation not saved after token limit", "conversation_id", state.ID, "error", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The %s token limit would be exceeded (%d of %d used).",
		strings.ToLower(string(le.Kind)), le.Current, le.Limit)
	for _, s := range le.Suggestions {
		sb.WriteString("\n- ")
		sb.WriteString(s)
	}
	resp := e.respond(state, tr, domain.ResponseLimit, sb.String())
	resp.ErrorCode = domain.CodeTokenLimit
	resp.Limit = le
	return resp
}

// fail marks the conversation ERROR and builds the ERROR response. The state
// update is attempted even when ctx has ended.
func (e *Engine) fail(ctx context.Context, id string, tr *turn, iterations int, message string, cause error) *domain.AgentResponse {
	code := domain.ErrorCodeOf(cause)
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		code = domain.CodeTimeout
	case code == domain.CodeUnknown:
		code = domain.CodeProviderError
	}
	e.logger.Error("turn failed", "conversation_id", id, "code", code, "error", cause)

	if err := e.states.HandleConversationError(context.WithoutCancel(ctx), id, message, cause); err != nil {
		e.logger.Error("conversation error not recorded", "conversation_id", id, "error", err)
	}
	return &domain.AgentResponse{
		ConversationID: id,
		Type:           domain.ResponseError,
		Content:        fmt.Sprintf("Sorry, %s (%s).", message, code),
		Iterations:     iterations,
		Usage:          tr.usage,
		ToolResults:    tr.results,
		ErrorCode:      code,
	}
}

func (e *Engine) respond(state *domain.ConversationState, tr *turn, typ domain.ResponseType, content string) *domain.AgentResponse {
	return &domain.AgentResponse{
		ConversationID: state.ID,
		Type:           typ,
		Content:        content,
		Iterations:     state.Context.ReAct.TurnIterations(),
		Usage:          tr.usage,
		ToolResults:    tr.results,
	}
}

// agentTools returns the registered tools the agent may use. An agent that
// lists no tools may use all of them.
func (e *Engine) agentTools(agent domain.AgentContext) []domain.ToolDefinition {
	all := e.tools.AvailableTools()
	if len(agent.Tools) == 0 {
		return all
	}
	out := make([]domain.ToolDefinition, 0, len(agent.Tools))
	for _, d := range all {
		if allowedTool(agent, d.Name) {
			out = append(out, d)
		}
	}
	return out
}

func (e *Engine) agentSchemas(defs []domain.ToolDefinition) []domain.ToolSchema {
	names := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		names[d.Name] = struct{}{}
	}
	var out []domain.ToolSchema
	for _, s := range e.tools.Schemas() {
		if _, ok := names[s.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

func allowedTool(agent domain.AgentContext, name string) bool {
	if len(agent.Tools) == 0 {
		return true
	}
	for _, t := range agent.Tools {
		if t == name {
			return true
		}
	}
	return false
}

func findTool(defs []domain.ToolDefinition, name string) (domain.ToolDefinition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return domain.ToolDefinition{}, false
}

func toolNames(defs []domain.ToolDefinition) string {
	if len(defs) == 0 {
		return "none"
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// singleParamFallback passes unreadable input verbatim to a tool that takes
// exactly one string parameter. Broken JSON objects are never passed on.
func singleParamFallback(def domain.ToolDefinition, raw string) (map[string]domain.Value, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "{") || len(def.Parameters) != 1 {
		return nil, false
	}
	for name, p := range def.Parameters {
		if p.Type != domain.ParamString {
			return nil, false
		}
		return map[string]domain.Value{name: domain.StringValue(raw)}, true
	}
	return nil, false
}

func syntheticFailure(inv domain.ToolInvocation, code domain.ErrorCode, msg string) domain.ToolResult {
	return domain.ToolResult{
		CallID:   inv.ID,
		ToolName: inv.Name,
		Success:  false,
		Error:    msg,
		Metadata: map[string]domain.Value{
			"error_code": domain.StringValue(string(code)),
			"retryable":  domain.BoolValue(false),
		},
	}
}

// isNativeCall reports whether id was issued by the provider in the latest
// assistant message.
func isNativeCall(messages []domain.Message, id string) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != domain.RoleAssistant {
			continue
		}
		for _, tc := range messages[i].ToolCalls {
			if tc.ID == id {
				return true
			}
		}
		return false
	}
	return false
}
