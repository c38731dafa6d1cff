package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"goflare.io/cinder"
)

type globalFlags struct {
	dir     string
	config  string
	output  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "cachectl",
		Short: "Inspect and maintain a cinder cache",
		Long: `cachectl opens a cinder cache directory (or the backend named in a
config file) and reports statistics, health and recent operations, or
runs invalidation and maintenance against it.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch flags.output {
			case "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported output format %q", flags.output)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.dir, "dir", "d", ".cache/cinder", "Cache directory")
	pf.StringVarP(&flags.config, "config", "c", "", "TOML config file")
	pf.StringVarP(&flags.output, "output", "o", "json", "Output format: json or yaml")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newStatsCmd(flags),
		newHealthCmd(flags),
		newOpsCmd(flags),
		newEntriesCmd(flags),
		newGetCmd(flags),
		newInvalidateCmd(flags),
		newOptimizeCmd(flags),
		newMaintainCmd(flags),
		newDomainsCmd(flags),
	)
	return root
}

// withCache opens the cache, runs fn and closes the cache again.
func withCache(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, c *cinder.Cinder) error) error {
	ctx := cmd.Context()

	logger := zap.NewNop()
	if flags.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()

	opts := []cinder.Option{
		cinder.WithLogger(logger),
		cinder.WithCleanupInterval(0),
		cinder.WithHotCacheSize(0),
	}
	if flags.config != "" {
		opts = append(opts, cinder.WithConfigFile(flags.config))
	}
	if flags.config == "" || cmd.Flags().Changed("dir") {
		opts = append(opts, cinder.WithCacheDir(flags.dir))
	}

	c, err := cinder.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	runErr := fn(ctx, c)
	if err := c.Close(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close cache: %w", err)
	}
	return runErr
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	}
}
