package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"reagent/internal/domain"
)

// Default allowances for users seen for the first time.
const (
	DefaultDailyLimit   int64 = 100_000
	DefaultMonthlyLimit int64 = 2_000_000
)

// conversationLookback bounds the usage history scanned when a conversation
// is bound after a restart.
const conversationLookback = 31 * 24 * time.Hour

// Ledger tracks per-user token budgets and per-conversation consumption.
// All counters are safe for concurrent access.
type Ledger struct {
	usage   domain.UsageRepository
	budgets domain.BudgetRepository
	pricing *Pricing
	logger  *slog.Logger
	now     func() time.Time

	dailyLimit   int64
	monthlyLimit int64
	limits       domain.TokenLimits

	users    sync.Map // user id -> *userBudget
	bindings sync.Map // conversation id -> conversationBinding
	convUsed sync.Map // conversation id -> *atomic.Int64
}

type conversationBinding struct {
	userID   string
	provider string
	model    string
	limits   domain.TokenLimits
}

// userBudget holds the live counters of one user. Adds share the read lock
// and use atomic adds; resets and limit changes take the write lock.
type userBudget struct {
	userID string

	mu           sync.RWMutex
	loaded       bool
	dailyLimit   int64
	monthlyLimit int64
	unlimited    bool
	resetDate    time.Time
	daily        atomic.Int64
	monthly      atomic.Int64

	persistMu sync.Mutex
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the time source.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithDefaultBudget sets the allowances given to users without a stored budget.
func WithDefaultBudget(daily, monthly int64) LedgerOption {
	return func(l *Ledger) {
		if daily > 0 {
			l.dailyLimit = daily
		}
		if monthly > 0 {
			l.monthlyLimit = monthly
		}
	}
}

// WithConversationLimits sets the caps applied when an agent declares none.
func WithConversationLimits(limits domain.TokenLimits) LedgerOption {
	return func(l *Ledger) { l.limits = limits }
}

// NewLedger creates a ledger over the given repositories.
func NewLedger(usage domain.UsageRepository, budgets domain.BudgetRepository, pricing *Pricing, logger *slog.Logger, opts ...LedgerOption) *Ledger {
	if pricing == nil {
		pricing = NewPricing()
	}
	l := &Ledger{
		usage:        usage,
		budgets:      budgets,
		pricing:      pricing,
		logger:       logger,
		now:          time.Now,
		dailyLimit:   DefaultDailyLimit,
		monthlyLimit: DefaultMonthlyLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Pricing returns the cost table used for estimates.
func (l *Ledger) Pricing() *Pricing { return l.pricing }

// BindConversation associates a conversation with its user, provider, model and
// limits. The first bind of a conversation seeds its counter from the usage log.
func (l *Ledger) BindConversation(ctx context.Context, conversationID string, agent domain.AgentContext) error {
	if conversationID == "" || agent.UserID == "" {
		return domain.NewDomainError("Ledger.BindConversation", domain.ErrInvalidInput, "conversation and user id are required")
	}
	l.bindings.Store(conversationID, conversationBinding{
		userID:   agent.UserID,
		provider: agent.Provider,
		model:    agent.Model,
		limits:   agent.Limits,
	})

	if _, ok := l.convUsed.Load(conversationID); ok {
		return nil
	}
	now := l.now()
	records, err := l.usage.QueryByUser(ctx, agent.UserID, now.Add(-conversationLookback), now.Add(time.Nanosecond))
	if err != nil {
		return domain.WrapOp("Ledger.BindConversation", err)
	}
	var used int64
	for _, r := range records {
		if r.ConversationID == conversationID {
			used += r.TotalTokens
		}
	}
	c := &atomic.Int64{}
	c.Store(used)
	l.convUsed.LoadOrStore(conversationID, c)
	return nil
}

// ForgetConversation drops the in-memory binding and counter of a conversation.
func (l *Ledger) ForgetConversation(conversationID string) {
	l.bindings.Delete(conversationID)
	l.convUsed.Delete(conversationID)
}

// ConversationUsage returns the tokens consumed by a conversation so far.
func (l *Ledger) ConversationUsage(conversationID string) int64 {
	if c, ok := l.convUsed.Load(conversationID); ok {
		return c.(*atomic.Int64).Load()
	}
	return 0
}

func (l *Ledger) binding(conversationID string) (conversationBinding, bool) {
	v, ok := l.bindings.Load(conversationID)
	if !ok {
		return conversationBinding{}, false
	}
	return v.(conversationBinding), true
}

func (l *Ledger) conversationCounter(conversationID string) *atomic.Int64 {
	v, _ := l.convUsed.LoadOrStore(conversationID, &atomic.Int64{})
	return v.(*atomic.Int64)
}

// TrackTokenUsage records usage against the conversation's bound provider and model.
func (l *Ledger) TrackTokenUsage(ctx context.Context, conversationID string, inputTokens, outputTokens int64) (*domain.TokenUsage, error) {
	b, ok := l.binding(conversationID)
	if !ok {
		return nil, domain.NewDomainError("Ledger.TrackTokenUsage", domain.ErrConversationNotFound, conversationID)
	}
	return l.RecordUsage(ctx, conversationID, b.provider, b.model, inputTokens, outputTokens)
}

// RecordUsage records usage served by a specific provider and model, which may
// differ from the bound ones after a gateway failover.
func (l *Ledger) RecordUsage(ctx context.Context, conversationID, provider, model string, inputTokens, outputTokens int64) (*domain.TokenUsage, error) {
	b, ok := l.binding(conversationID)
	if !ok {
		return nil, domain.NewDomainError("Ledger.RecordUsage", domain.ErrConversationNotFound, conversationID)
	}
	if inputTokens < 0 || outputTokens < 0 {
		return nil, domain.NewDomainError("Ledger.RecordUsage", domain.ErrInvalidInput, "negative token count")
	}
	if provider == "" {
		provider = b.provider
	}
	if model == "" {
		model = b.model
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate usage id: %w", err)
	}
	now := l.now()
	total := inputTokens + outputTokens
	record := domain.TokenUsage{
		ID:             id.String(),
		UserID:         b.userID,
		ConversationID: conversationID,
		Provider:       provider,
		Model:          model,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		TotalTokens:    total,
		EstimatedCost:  l.pricing.EstimateCost(provider, model, inputTokens, outputTokens),
		Timestamp:      now,
	}

	ub, err := l.user(ctx, b.userID)
	if err != nil {
		return nil, domain.WrapOp("Ledger.RecordUsage", err)
	}
	// Counters only move once the record is in the log.
	if err := l.usage.Append(ctx, record); err != nil {
		l.logger.Error("usage record not persisted",
			"conversation_id", conversationID, "user_id", b.userID, "tokens", total, "error", err)
		return nil, domain.WrapOp("Ledger.RecordUsage", err)
	}
	ub.add(now, total)
	l.conversationCounter(conversationID).Add(total)

	if err := l.persist(ctx, ub); err != nil {
		return nil, domain.WrapOp("Ledger.RecordUsage", err)
	}
	return &record, nil
}

// GetTokenBudget returns the user's budget, applying any due reset first.
func (l *Ledger) GetTokenBudget(ctx context.Context, userID string) (*domain.TokenBudget, error) {
	ub, err := l.user(ctx, userID)
	if err != nil {
		return nil, domain.WrapOp("Ledger.GetTokenBudget", err)
	}
	if ub.resetIfDue(l.now()) {
		if err := l.persist(ctx, ub); err != nil {
			return nil, domain.WrapOp("Ledger.GetTokenBudget", err)
		}
	}
	b := ub.snapshot()
	return &b, nil
}

// SetBudget replaces a user's budget, including its used counters.
func (l *Ledger) SetBudget(ctx context.Context, budget domain.TokenBudget) error {
	if budget.UserID == "" {
		return domain.NewDomainError("Ledger.SetBudget", domain.ErrInvalidInput, "user id is required")
	}
	if budget.ResetDate.IsZero() {
		budget.ResetDate = startOfDay(l.now())
	}
	ub, err := l.user(ctx, budget.UserID)
	if err != nil {
		return domain.WrapOp("Ledger.SetBudget", err)
	}
	ub.mu.Lock()
	ub.apply(budget)
	ub.mu.Unlock()
	return domain.WrapOp("Ledger.SetBudget", l.persist(ctx, ub))
}

// CheckTokenLimit reports whether estimatedTokens fit every limit of the
// conversation. It is advisory; an unbound conversation never fits.
func (l *Ledger) CheckTokenLimit(ctx context.Context, conversationID string, estimatedTokens int64) bool {
	b, ok := l.binding(conversationID)
	if !ok {
		return false
	}
	err := l.ValidateTokenLimits(ctx, b.userID, conversationID, estimatedTokens, b.limits)
	if err != nil {
		var le *domain.LimitError
		if !errors.As(err, &le) {
			l.logger.Warn("token limit check failed", "conversation_id", conversationID, "error", err)
		}
		return false
	}
	return true
}

// ValidateTokenLimits returns a *domain.LimitError for the first limit that
// estimatedTokens would exceed, checking daily, monthly, conversation and
// request caps in that order. Zero limits fall back to the ledger defaults.
func (l *Ledger) ValidateTokenLimits(ctx context.Context, userID, conversationID string, estimatedTokens int64, limits domain.TokenLimits) error {
	budget, err := l.GetTokenBudget(ctx, userID)
	if err != nil {
		return err
	}
	if limits.MaxTokensPerConversation <= 0 {
		limits.MaxTokensPerConversation = l.limits.MaxTokensPerConversation
	}
	if limits.MaxTokensPerRequest <= 0 {
		limits.MaxTokensPerRequest = l.limits.MaxTokensPerRequest
	}

	limitErr := func(kind domain.LimitKind, current, limit int64) error {
		return &domain.LimitError{
			Kind:           kind,
			Current:        current,
			Limit:          limit,
			UserID:         userID,
			ConversationID: conversationID,
			Suggestions:    suggestionsFor(kind),
		}
	}

	if !budget.Unlimited {
		if budget.DailyLimit > 0 && budget.DailyUsed+estimatedTokens > budget.DailyLimit {
			return limitErr(domain.LimitDaily, budget.DailyUsed, budget.DailyLimit)
		}
		if budget.MonthlyLimit > 0 && budget.MonthlyUsed+estimatedTokens > budget.MonthlyLimit {
			return limitErr(domain.LimitMonthly, budget.MonthlyUsed, budget.MonthlyLimit)
		}
	}
	if limit := limits.MaxTokensPerConversation; limit > 0 {
		if used := l.ConversationUsage(conversationID); used+estimatedTokens > limit {
			return limitErr(domain.LimitConversation, used, limit)
		}
	}
	if limit := limits.MaxTokensPerRequest; limit > 0 && estimatedTokens > limit {
		return limitErr(domain.LimitRequest, estimatedTokens, limit)
	}
	return nil
}

func suggestionsFor(kind domain.LimitKind) []string {
	switch kind {
	case domain.LimitDaily:
		return []string{
			"Wait until the daily budget resets at midnight UTC.",
			"Ask an administrator to raise your daily limit.",
		}
	case domain.LimitMonthly:
		return []string{
			"Wait until the monthly budget resets on the first of the month.",
			"Ask an administrator to raise your monthly limit.",
		}
	case domain.LimitConversation:
		return []string{
			"Start a new conversation.",
			"Summarize the discussion so far and continue in a fresh conversation.",
		}
	case domain.LimitRequest:
		return []string{
			"Shorten your message.",
			"Split the request into smaller parts.",
		}
	default:
		return nil
	}
}

// GenerateUsageReport aggregates a user's usage over a half-open date range.
func (l *Ledger) GenerateUsageReport(ctx context.Context, userID string, r domain.DateRange) (*domain.UsageReport, error) {
	if !r.End.After(r.Start) {
		return nil, domain.NewDomainError("Ledger.GenerateUsageReport", domain.ErrInvalidInput, "range end must be after start")
	}
	records, err := l.usage.QueryByUser(ctx, userID, r.Start, r.End)
	if err != nil {
		return nil, domain.WrapOp("Ledger.GenerateUsageReport", err)
	}
	budget, err := l.GetTokenBudget(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &domain.UsageReport{
		UserID:         userID,
		Range:          r,
		Budget:         *budget,
		DailyWarning:   domain.LevelFor(budget.DailyUsed, budget.DailyLimit),
		MonthlyWarning: domain.LevelFor(budget.MonthlyUsed, budget.MonthlyLimit),
	}
	if budget.Unlimited {
		report.DailyWarning, report.MonthlyWarning = domain.WarningNone, domain.WarningNone
	}

	byModel := make(map[string]*domain.ModelUsage)
	byDay := make(map[string]*domain.DailyUsage)
	for _, rec := range records {
		report.Requests++
		report.InputTokens += rec.InputTokens
		report.OutputTokens += rec.OutputTokens
		report.TotalTokens += rec.TotalTokens
		report.TotalCost += rec.EstimatedCost

		key := rec.Provider + "/" + rec.Model
		m, ok := byModel[key]
		if !ok {
			m = &domain.ModelUsage{Provider: rec.Provider, Model: rec.Model}
			byModel[key] = m
		}
		m.Requests++
		m.InputTokens += rec.InputTokens
		m.OutputTokens += rec.OutputTokens
		m.TotalTokens += rec.TotalTokens
		m.Cost += rec.EstimatedCost

		date := rec.Timestamp.UTC().Format(time.DateOnly)
		d, ok := byDay[date]
		if !ok {
			d = &domain.DailyUsage{Date: date}
			byDay[date] = d
		}
		d.TotalTokens += rec.TotalTokens
		d.Cost += rec.EstimatedCost
	}

	report.ByModel = make([]domain.ModelUsage, 0, len(byModel))
	for _, m := range byModel {
		report.ByModel = append(report.ByModel, *m)
	}
	sort.Slice(report.ByModel, func(i, j int) bool {
		a, b := report.ByModel[i], report.ByModel[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Model < b.Model
	})
	report.ByDay = make([]domain.DailyUsage, 0, len(byDay))
	for _, d := range byDay {
		report.ByDay = append(report.ByDay, *d)
	}
	sort.Slice(report.ByDay, func(i, j int) bool { return report.ByDay[i].Date < report.ByDay[j].Date })
	return report, nil
}

// user returns the live counters of userID, loading or creating the stored
// budget on first use.
func (l *Ledger) user(ctx context.Context, userID string) (*userBudget, error) {
	if userID == "" {
		return nil, domain.NewDomainError("Ledger.user", domain.ErrInvalidInput, "user id is required")
	}

	v, ok := l.users.Load(userID)
	if !ok {
		v, _ = l.users.LoadOrStore(userID, &userBudget{userID: userID})
	}
	ub := v.(*userBudget)

	ub.mu.RLock()
	loaded := ub.loaded
	ub.mu.RUnlock()
	if loaded {
		return ub, nil
	}

	ub.mu.Lock()
	defer ub.mu.Unlock()
	if ub.loaded {
		return ub, nil
	}
	stored, err := l.budgets.FindBudget(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrBudgetNotFound):
		fresh := domain.TokenBudget{
			UserID:       userID,
			DailyLimit:   l.dailyLimit,
			MonthlyLimit: l.monthlyLimit,
			ResetDate:    startOfDay(l.now()),
		}
		if err := l.budgets.SaveBudget(ctx, fresh); err != nil {
			return nil, fmt.Errorf("create default budget: %w", err)
		}
		l.logger.Info("token budget created", "user_id", userID,
			"daily_limit", fresh.DailyLimit, "monthly_limit", fresh.MonthlyLimit)
		ub.apply(fresh)
	case err != nil:
		return nil, err
	default:
		ub.apply(*stored)
	}
	ub.loaded = true
	return ub, nil
}

func (l *Ledger) persist(ctx context.Context, ub *userBudget) error {
	ub.persistMu.Lock()
	defer ub.persistMu.Unlock()
	if err := l.budgets.SaveBudget(ctx, ub.snapshot()); err != nil {
		return fmt.Errorf("save budget: %w", err)
	}
	return nil
}

// apply overwrites the counters. Callers hold ub.mu for writing.
func (ub *userBudget) apply(b domain.TokenBudget) {
	ub.dailyLimit = b.DailyLimit
	ub.monthlyLimit = b.MonthlyLimit
	ub.unlimited = b.Unlimited
	ub.resetDate = b.ResetDate
	ub.daily.Store(b.DailyUsed)
	ub.monthly.Store(b.MonthlyUsed)
}

func (ub *userBudget) snapshot() domain.TokenBudget {
	ub.mu.RLock()
	defer ub.mu.RUnlock()
	return domain.TokenBudget{
		UserID:       ub.userID,
		DailyLimit:   ub.dailyLimit,
		DailyUsed:    ub.daily.Load(),
		MonthlyLimit: ub.monthlyLimit,
		MonthlyUsed:  ub.monthly.Load(),
		ResetDate:    ub.resetDate,
		Unlimited:    ub.unlimited,
	}
}

// add resets the counters if a boundary was crossed, then accrues tokens.
func (ub *userBudget) add(now time.Time, tokens int64) {
	ub.resetIfDue(now)
	ub.mu.RLock()
	ub.daily.Add(tokens)
	ub.monthly.Add(tokens)
	ub.mu.RUnlock()
}

// resetIfDue zeroes the daily counter when now falls on a later UTC calendar
// day than the reset date, and the monthly counter when the month changed.
// It reports whether a reset happened.
func (ub *userBudget) resetIfDue(now time.Time) bool {
	ub.mu.RLock()
	due := dayPassed(ub.resetDate, now)
	ub.mu.RUnlock()
	if !due {
		return false
	}

	ub.mu.Lock()
	defer ub.mu.Unlock()
	// Double-check after acquiring write lock.
	if !dayPassed(ub.resetDate, now) {
		return false
	}
	ub.daily.Store(0)
	if monthChanged(ub.resetDate, now) {
		ub.monthly.Store(0)
	}
	ub.resetDate = startOfDay(now)
	return true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayPassed(resetDate, now time.Time) bool {
	return startOfDay(now).After(startOfDay(resetDate))
}

func monthChanged(resetDate, now time.Time) bool {
	ry, rm, _ := resetDate.UTC().Date()
	ny, nm, _ := now.UTC().Date()
	return ry != ny || rm != nm
}
