// Package agent runs the telemetry agent from a config file.
package agent

import (
	"context"

	"edge-telemetry-agent/internal/tasks"
)

// Options re-exposes tasks.Options for external callers.
type Options = tasks.Options

// Run loads the config named in opts and runs the agent until ctx is done.
func Run(ctx context.Context, opts Options) error {
	return tasks.InitAndRunAgent(ctx, opts)
}
