package tool

import (
	"context"
	"sort"
	"strings"
	"time"

	"reagent/internal/domain"
)

// MemorySearchTool looks up long-term records by tag.
type MemorySearchTool struct {
	store domain.LongTermStore
}

// NewMemorySearchTool creates the memory_search tool over store.
func NewMemorySearchTool(store domain.LongTermStore) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Definition() domain.ToolDefinition {
	limit := domain.IntValue(5)
	minLimit, maxLimit := 1.0, 50.0
	return domain.ToolDefinition{
		Name:        "memory_search",
		Description: "Search long-term memory for records carrying all of the given tags.",
		Parameters: map[string]domain.ParameterDefinition{
			"tags": {
				Type:        domain.ParamString,
				Description: "Comma-separated tags, e.g. conversation,user:42",
				Required:    true,
			},
			"query": {
				Type:        domain.ParamString,
				Description: "Optional case-insensitive text the record must contain",
			},
			"limit": {
				Type:        domain.ParamInteger,
				Description: "Maximum number of records",
				Default:     &limit,
				Min:         &minLimit,
				Max:         &maxLimit,
			},
		},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, params map[string]domain.Value) (domain.Value, error) {
	var tags []string
	for _, tag := range strings.Split(StringArg(params, "tags"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return domain.Value{}, Failf("at least one tag is required")
	}

	entries, err := t.store.SearchByTags(ctx, tags...)
	if err != nil {
		return domain.Value{}, domain.WrapOp("memory_search", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })

	query := strings.ToLower(StringArg(params, "query"))
	limit := IntArg(params, "limit", 5)

	items := make([]domain.Value, 0, limit)
	for _, e := range entries {
		if len(items) >= limit {
			break
		}
		if query != "" && !strings.Contains(strings.ToLower(string(e.Value)), query) {
			continue
		}
		tagValues := make([]domain.Value, len(e.Tags))
		for i, tag := range e.Tags {
			tagValues[i] = domain.StringValue(tag)
		}
		items = append(items, domain.MapValue(map[string]domain.Value{
			"key":        domain.StringValue(e.Key),
			"value":      domain.StringValue(string(e.Value)),
			"tags":       domain.ListValue(tagValues...),
			"created_at": domain.StringValue(e.CreatedAt.Format(time.RFC3339)),
		}))
	}
	return domain.ListValue(items...), nil
}
