package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"goflare.io/cinder"
)

func newStatsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, flags, func(_ context.Context, c *cinder.Cinder) error {
				return render(cmd.OutOrStdout(), flags.output, c.GetStats())
			})
		},
	}
}

func newHealthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Score cache health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, flags, func(_ context.Context, c *cinder.Cinder) error {
				return render(cmd.OutOrStdout(), flags.output, c.GetHealthStatus())
			})
		},
	}
}

func newOpsCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List recent operations of this invocation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, flags, func(_ context.Context, c *cinder.Cinder) error {
				return render(cmd.OutOrStdout(), flags.output, c.GetRecentOperations(limit))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of operations")
	return cmd
}

func newEntriesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "entries",
		Short: "List stored entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, flags, func(_ context.Context, c *cinder.Cinder) error {
				return render(cmd.OutOrStdout(), flags.output, c.Entries())
			})
		},
	}
}

type entryView struct {
	Key       string    `json:"key" yaml:"key"`
	Source    string    `json:"source" yaml:"source"`
	Version   string    `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt" yaml:"expiresAt"`
	Expired   bool      `json:"expired" yaml:"expired"`
	HitCount  int64     `json:"hitCount" yaml:"hitCount"`
	Value     any       `json:"value" yaml:"value"`
}

func newGetCmd(flags *globalFlags) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Show a stored entry without counting a read",
		Long: `Show a stored entry without counting a read.

With --as the value is decoded into the typed view of a domain
(repositories, blog or status). --as auto picks the domain registered
under the key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, flags, func(ctx context.Context, c *cinder.Cinder) error {
				e, ok := c.GetEntry(ctx, args[0])
				if !ok {
					return fmt.Errorf("%w: %s", cinder.ErrNotFound, args[0])
				}

				var v any = e.Value.Interface()
				if as != "" {
					domain := as
					if as == "auto" {
						domain = ""
					}
					typed, err := c.View(ctx, args[0], domain)
					if err != nil {
						return err
					}
					v = typed
				}

				return render(cmd.OutOrStdout(), flags.output, entryView{
					Key:       e.Key,
					Source:    e.Source,
					Version:   e.Version,
					CreatedAt: e.CreatedAt,
					ExpiresAt: e.ExpiresAt,
					Expired:   e.IsExpired(time.Now()),
					HitCount:  e.HitCount,
					Value:     v,
				})
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Decode the value as a domain view: repositories, blog, status or auto")
	return cmd
}

func newInvalidateCmd(flags *globalFlags) *cobra.Command {
	var source bool
	cmd := &cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Remove entries by key pattern or source",
		Long: `Remove every entry whose key matches the pattern:

  re:<expr>     regular expression
  prefix:<p>    key prefix
  <p>*          key prefix, a lone * removes everything
  <key>         exact key

With --source the argument names a data source instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, flags, func(ctx context.Context, c *cinder.Cinder) error {
				var n int
				var err error
				if source {
					n, err = c.InvalidateRelated(ctx, args[0])
				} else {
					n, err = c.InvalidateCache(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, map[string]int{"removed": n})
			})
		},
	}
	cmd.Flags().BoolVar(&source, "source", false, "Treat the argument as a data source")
	return cmd
}

func newOptimizeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Evict expired entries and report performance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, flags, func(ctx context.Context, c *cinder.Cinder) error {
				pm, err := c.OptimizeCache(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, pm)
			})
		},
	}
}

func newMaintainCmd(flags *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run maintenance when it is due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, flags, func(ctx context.Context, c *cinder.Cinder) error {
				if !force && !c.NeedsMaintenance() {
					return render(cmd.OutOrStdout(), flags.output, map[string]bool{"needed": false})
				}
				report, err := c.PerformMaintenance(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, report)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Run even when not due")
	return cmd
}

func newDomainsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List registered data domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, flags, func(_ context.Context, c *cinder.Cinder) error {
				return render(cmd.OutOrStdout(), flags.output, c.Registry().Domains())
			})
		},
	}
}
