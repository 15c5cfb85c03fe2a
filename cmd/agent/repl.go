package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"reagent/internal/domain"
)

const defaultReportDays = 30

const helpText = `Commands:

/new                Start a new conversation
/state              Show the current conversation state
/budget             Show your token budget
/report [DAYS]      Usage report for the last DAYS days
/health             Check every LLM provider
/end                Complete the current conversation
/quit, /exit        Exit
/help               Show this help message`

// conversationEngine is the part of the engine the REPL drives.
type conversationEngine interface {
	ProcessMessage(ctx context.Context, conversationID, userMessage string, agent domain.AgentContext) (*domain.AgentResponse, error)
	GetConversationState(ctx context.Context, conversationID string) (*domain.ConversationState, error)
	EndConversation(ctx context.Context, conversationID string) error
}

type budgetReporter interface {
	GetTokenBudget(ctx context.Context, userID string) (*domain.TokenBudget, error)
	GenerateUsageReport(ctx context.Context, userID string, r domain.DateRange) (*domain.UsageReport, error)
}

type healthChecker interface {
	CheckAll(ctx context.Context) []domain.ProviderHealth
}

// console serializes writes from the REPL and async tool completions.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsole(w io.Writer) *console { return &console{w: w} }

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// async prints a response produced after a background tool finished.
func (c *console) async(resp *domain.AgentResponse) {
	c.printf("\n[%s] ", shortID(resp.ConversationID))
	c.print(resp)
}

func (c *console) print(resp *domain.AgentResponse) {
	switch resp.Type {
	case domain.ResponsePending:
		c.printf("… %s\n", resp.Content)
	case domain.ResponseLimit:
		c.printf("! %s\n", resp.Content)
	case domain.ResponseError:
		c.printf("error (%s): %s\n", resp.ErrorCode, resp.Content)
	default:
		c.printf("%s\n", resp.Content)
		if resp.ErrorCode != "" {
			c.printf("(stopped: %s)\n", resp.ErrorCode)
		}
	}
	if resp.Usage.TotalTokens > 0 {
		c.printf("  [%d iterations, %d tokens]\n", resp.Iterations, resp.Usage.TotalTokens)
	}
}

type repl struct {
	engine  conversationEngine
	ledger  budgetReporter
	health  healthChecker
	agent   domain.AgentContext
	console *console
	now     func() time.Time

	conversationID string
}

// Run reads lines from in until EOF, /quit or ctx is done.
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	if r.now == nil {
		r.now = time.Now
	}
	r.console.printf("reagent ready. Type /help for commands.\n> ")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			if quit := r.handle(ctx, line); quit {
				return nil
			}
		}
		r.console.printf("> ")
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// handle processes one input line and reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	if strings.HasPrefix(line, "/") {
		return r.command(ctx, strings.Fields(line))
	}

	resp, err := r.engine.ProcessMessage(ctx, r.conversationID, line, r.agent)
	if err != nil {
		r.console.printf("error: %v\n", err)
		return false
	}
	r.conversationID = resp.ConversationID
	r.console.print(resp)
	return false
}

func (r *repl) command(ctx context.Context, fields []string) bool {
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		r.console.printf("%s\n", helpText)
	case "/new":
		r.conversationID = ""
		r.console.printf("started a new conversation\n")
	case "/state":
		r.showState(ctx)
	case "/budget":
		r.showBudget(ctx)
	case "/report":
		days := defaultReportDays
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n <= 0 {
				r.console.printf("usage: /report [DAYS]\n")
				return false
			}
			days = n
		}
		r.showReport(ctx, days)
	case "/health":
		for _, h := range r.health.CheckAll(ctx) {
			r.console.printf("%-12s %-10s %6s %s\n", h.Provider, h.Status, h.Latency.Round(time.Millisecond), h.Message)
		}
	case "/end":
		if r.conversationID == "" {
			r.console.printf("no active conversation\n")
			return false
		}
		if err := r.engine.EndConversation(ctx, r.conversationID); err != nil {
			r.console.printf("error: %v\n", err)
			return false
		}
		r.console.printf("conversation %s completed\n", shortID(r.conversationID))
		r.conversationID = ""
	default:
		r.console.printf("unknown command %s, type /help\n", fields[0])
	}
	return false
}

func (r *repl) showState(ctx context.Context) {
	if r.conversationID == "" {
		r.console.printf("no active conversation\n")
		return
	}
	s, err := r.engine.GetConversationState(ctx, r.conversationID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		r.console.printf("conversation %s has expired\n", shortID(r.conversationID))
		return
	}
	if err != nil {
		r.console.printf("error: %v\n", err)
		return
	}
	r.console.printf("conversation %s\n  status:     %s\n  phase:      %s\n  messages:   %d\n  iterations: %d/%d\n  last seen:  %s\n",
		s.ID, s.Status, s.Phase, len(s.Messages),
		s.Context.ReAct.Iteration, s.Context.ReAct.MaxIterations,
		s.LastActivity.Format(time.RFC3339))
	if p := s.Context.ReAct.PendingAction; p != nil {
		r.console.printf("  pending:    %s (%s)\n", p.Name, p.ID)
	}
}

func (r *repl) showBudget(ctx context.Context) {
	b, err := r.ledger.GetTokenBudget(ctx, r.agent.UserID)
	if err != nil {
		r.console.printf("error: %v\n", err)
		return
	}
	if b.Unlimited {
		r.console.printf("%s: unlimited\n", b.UserID)
		return
	}
	r.console.printf("%s\n  daily:   %d / %d  %s\n  monthly: %d / %d  %s\n",
		b.UserID,
		b.DailyUsed, b.DailyLimit, warning(domain.LevelFor(b.DailyUsed, b.DailyLimit)),
		b.MonthlyUsed, b.MonthlyLimit, warning(domain.LevelFor(b.MonthlyUsed, b.MonthlyLimit)))
}

func (r *repl) showReport(ctx context.Context, days int) {
	end := r.now().UTC()
	rng := domain.DateRange{Start: end.AddDate(0, 0, -days), End: end.Add(time.Second)}
	rep, err := r.ledger.GenerateUsageReport(ctx, r.agent.UserID, rng)
	if err != nil {
		r.console.printf("error: %v\n", err)
		return
	}
	r.console.printf("usage for %s, last %d days\n  requests: %d\n  tokens:   %d (in %d, out %d)\n  cost:     $%.4f\n",
		rep.UserID, days, rep.Requests, rep.TotalTokens, rep.InputTokens, rep.OutputTokens, rep.TotalCost)
	for _, m := range rep.ByModel {
		r.console.printf("  %s/%s: %d requests, %d tokens, $%.4f\n", m.Provider, m.Model, m.Requests, m.TotalTokens, m.Cost)
	}
}

func warning(level domain.WarningLevel) string {
	if level == domain.WarningNone {
		return ""
	}
	return "(" + strings.ToLower(string(level)) + ")"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
