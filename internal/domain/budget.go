package domain

import "time"

// TokenBudget is a user's daily and monthly token allowance.
type TokenBudget struct {
	UserID       string    `json:"user_id"`
	DailyLimit   int64     `json:"daily_limit"`
	DailyUsed    int64     `json:"daily_used"`
	MonthlyLimit int64     `json:"monthly_limit"`
	MonthlyUsed  int64     `json:"monthly_used"`
	ResetDate    time.Time `json:"reset_date"`
	Unlimited    bool      `json:"unlimited,omitempty"`
}

// TokenUsage is one append-only usage record.
type TokenUsage struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	TotalTokens    int64     `json:"total_tokens"`
	EstimatedCost  float64   `json:"estimated_cost"`
	Timestamp      time.Time `json:"timestamp"`
}

// WarningLevel grades how close a budget is to its limit.
type WarningLevel string

const (
	WarningNone     WarningLevel = "NONE"
	WarningHigh     WarningLevel = "HIGH"
	WarningCritical WarningLevel = "CRITICAL"
)

// LevelFor returns the warning level of used against limit.
// A non-positive limit never warns.
func LevelFor(used, limit int64) WarningLevel {
	if limit <= 0 {
		return WarningNone
	}
	pct := float64(used) / float64(limit)
	switch {
	case pct >= 0.9:
		return WarningCritical
	case pct >= 0.8:
		return WarningHigh
	default:
		return WarningNone
	}
}

// DateRange is a half-open interval [Start, End).
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls in the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// ModelUsage aggregates usage for one provider/model pair.
type ModelUsage struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Requests     int     `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	Cost         float64 `json:"cost"`
}

// DailyUsage aggregates usage for one calendar day.
type DailyUsage struct {
	Date        string  `json:"date"`
	TotalTokens int64   `json:"total_tokens"`
	Cost        float64 `json:"cost"`
}

// UsageReport summarizes a user's consumption over a date range.
type UsageReport struct {
	UserID         string       `json:"user_id"`
	Range          DateRange    `json:"range"`
	Requests       int          `json:"requests"`
	InputTokens    int64        `json:"input_tokens"`
	OutputTokens   int64        `json:"output_tokens"`
	TotalTokens    int64        `json:"total_tokens"`
	TotalCost      float64      `json:"total_cost"`
	ByModel        []ModelUsage `json:"by_model"`
	ByDay          []DailyUsage `json:"by_day"`
	Budget         TokenBudget  `json:"budget"`
	DailyWarning   WarningLevel `json:"daily_warning"`
	MonthlyWarning WarningLevel `json:"monthly_warning"`
}
