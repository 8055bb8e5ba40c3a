// Package cli provides the cortexquant command line: forecasts, backtests,
// run history and the HTTP server.
package cli

import "context"

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context) int {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
