package tools

import (
	"context"
	"encoding/json"
	"time"
)

// ClockParams defines the parameters for the clock tool
type ClockParams struct {
	Timezone string `json:"timezone" description:"IANA timezone name, defaults to UTC"`
}

// ClockTool reports the current time.
type ClockTool struct {
	now func() time.Time
}

// NewClockTool creates a new clock tool
func NewClockTool() Tool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string {
	return "clock"
}

func (t *ClockTool) Description() string {
	return "Get the current date and time, optionally in a specific timezone"
}

// Parameters returns the parameters struct
func (t *ClockTool) Parameters() interface{} {
	return &ClockParams{}
}

// Execute returns the current time as JSON
func (t *ClockTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var args ClockParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return "", NewToolError("INVALID_PARAMS", "Failed to parse parameters").
				WithDetail("error", err.Error())
		}
	}

	loc := time.UTC
	if args.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(args.Timezone)
		if err != nil {
			return "", NewToolError("UNKNOWN_TIMEZONE", "Unknown timezone").
				WithDetail("timezone", args.Timezone)
		}
	}

	now := t.now().In(loc)
	out, err := json.Marshal(map[string]string{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
