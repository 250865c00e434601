// ABOUTME: Built-in diagnostic tools registered by the gateway binary.
// ABOUTME: Business tool sets plug into the same registry from their own packages.

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// BuiltinTools returns the diagnostic tool set every deployment carries.
func BuiltinTools() []Tool {
	return []Tool{
		{
			ToolInfo: ToolInfo{
				Name:        "echo",
				Description: "Echo the provided message back to the caller",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
			},
			Handler: echoHandler,
		},
		{
			ToolInfo: ToolInfo{
				Name:        "server_time",
				Description: "Report the gateway's current time in UTC",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			},
			Handler: serverTimeHandler,
		},
	}
}

func echoHandler(_ context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if params.Message == "" {
		return "", fmt.Errorf("message is required")
	}
	return params.Message, nil
}

func serverTimeHandler(_ context.Context, _ json.RawMessage) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}
