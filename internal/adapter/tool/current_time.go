package tool

import (
	"context"
	"time"

	"reagent/internal/domain"
)

// CurrentTimeTool reports the current time in a requested timezone.
type CurrentTimeTool struct {
	now func() time.Time
}

// NewCurrentTimeTool creates the current_time tool. A nil clock uses time.Now.
func NewCurrentTimeTool(now func() time.Time) *CurrentTimeTool {
	if now == nil {
		now = time.Now
	}
	return &CurrentTimeTool{now: now}
}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) Definition() domain.ToolDefinition {
	utc := domain.StringValue("UTC")
	rfc := domain.StringValue("rfc3339")
	return domain.ToolDefinition{
		Name:        "current_time",
		Description: "Get the current date and time.",
		Parameters: map[string]domain.ParameterDefinition{
			"timezone": {
				Type:        domain.ParamString,
				Description: "IANA timezone name, e.g. Europe/Paris",
				Default:     &utc,
			},
			"format": {
				Type:        domain.ParamString,
				Description: "Output format",
				Default:     &rfc,
				Enum:        []string{"rfc3339", "date", "time", "unix"},
			},
		},
	}
}

func (t *CurrentTimeTool) Execute(_ context.Context, params map[string]domain.Value) (domain.Value, error) {
	tz := StringArg(params, "timezone")
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return domain.Value{}, Failf("unknown timezone %q", tz)
	}
	now := t.now().In(loc)

	var formatted string
	switch StringArg(params, "format") {
	case "date":
		formatted = now.Format(time.DateOnly)
	case "time":
		formatted = now.Format(time.TimeOnly)
	case "unix":
		return domain.IntValue(now.Unix()), nil
	default:
		formatted = now.Format(time.RFC3339)
	}

	return domain.MapValue(map[string]domain.Value{
		"time":     domain.StringValue(formatted),
		"timezone": domain.StringValue(loc.String()),
		"weekday":  domain.StringValue(now.Weekday().String()),
	}), nil
}
