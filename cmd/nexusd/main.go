// Package main provides the minimal CLI entry point for the agent turn
// runtime: rule/tool discovery and topic inference over a piece of input
// text, the only surface the runtime's core exposes directly to a shell.
//
// Usage:
//
//	nexusd discover --config nexusd.yaml
//	nexusd topics --config nexusd.yaml --input prompt.txt
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/haasonsaas/nexus/internal/errs"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the runtime's error taxonomy to the documented exit
// codes: 0 success (never reached here, Execute only returns non-nil on
// failure), 1 validation/config error, 2 everything else.
func exitCodeFor(err error) int {
	kind, ok := errs.KindOf(err)
	if !ok {
		return 2
	}
	switch kind {
	case errs.KindConfig, errs.KindValidation:
		return 1
	default:
		return 2
	}
}
