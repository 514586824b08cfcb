package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/errs"
	"github.com/haasonsaas/nexus/internal/hooks"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	configPath string
	sessionID  string
)

// buildRootCmd creates the root command with the discover/topics
// subcommands and the top-level --config/--session-id flags.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "nexusd",
		Short:        "Agent turn runtime CLI: rule discovery and topic inference",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "nexusd.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session-id", "", "Session UUID to scope the command to")

	rootCmd.AddCommand(buildDiscoverCmd(), buildTopicsCmd())
	return rootCmd
}

func validateSessionID() error {
	if sessionID == "" {
		return nil
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return errs.Wrap(errs.KindValidation, err, "--session-id must be a valid UUID")
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, fmt.Sprintf("loading config from %s", configPath))
	}
	return cfg, nil
}

// buildDiscoverCmd lists every hook/tool rule the runtime finds on its
// configured discovery paths: bundled, local (~/.nexus/hooks by default),
// and the workspace's own directory when workspace scanning is enabled.
func buildDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List rules and tools found on the configured discovery paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateSessionID(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDiscover(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func runDiscover(ctx context.Context, out io.Writer, cfg *config.Config) error {
	localPath := hooks.DefaultLocalPath()
	workspacePath := ""
	if cfg.Workspace.Enabled {
		workspacePath = cfg.Workspace.Path
	}

	sources := hooks.BuildDefaultSources(workspacePath, localPath, "", nil)
	entries, err := hooks.DiscoverAll(ctx, sources)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "discovering rules")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Config.Name < entries[j].Config.Name })

	if len(entries) == 0 {
		fmt.Fprintln(out, "no rules or tools found")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\t%s\n", e.Config.Name, e.Source, e.Path)
	}
	return nil
}

// buildTopicsCmd infers topics from a piece of input text (a file via
// --input, or stdin), reusing the context builder's task-keyword
// extraction and profile detection rather than a bespoke topic model.
func buildTopicsCmd() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Print inferred topics and optimization profile for a piece of input",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateSessionID(); err != nil {
				return err
			}
			if _, err := loadConfig(); err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if inputPath != "" {
				f, err := os.Open(inputPath)
				if err != nil {
					return errs.Wrap(errs.KindIO, err, fmt.Sprintf("opening %s", inputPath))
				}
				defer f.Close()
				r = f
			}

			data, err := io.ReadAll(r)
			if err != nil {
				return errs.Wrap(errs.KindIO, err, "reading input")
			}

			return runTopics(cmd.OutOrStdout(), string(data))
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "Path to a file to infer topics from (default: stdin)")
	return cmd
}

func runTopics(out io.Writer, text string) error {
	if text == "" {
		return errs.New(errs.KindValidation, "no input text to infer topics from")
	}

	profile := agentctx.DetectProfile(text)
	keywords := agentctx.ExtractTaskKeywords(text)

	fmt.Fprintf(out, "profile: %s\n", profile)
	if len(keywords) == 0 {
		fmt.Fprintln(out, "topics: (none detected)")
		return nil
	}
	fmt.Fprintf(out, "topics: %v\n", keywords)
	return nil
}
