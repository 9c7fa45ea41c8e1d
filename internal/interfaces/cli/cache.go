package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/database/redis"
)

// PurgeResult reports a prediction cache purge.
type PurgeResult struct {
	Addr    string `json:"addr"`
	Prefix  string `json:"prefix"`
	Deleted int64  `json:"deleted"`
}

func (r *PurgeResult) String() string {
	return fmt.Sprintf("deleted %d cached predictions under %q on %s\n", r.Deleted, r.Prefix, r.Addr)
}

// NewCacheCmd groups prediction cache maintenance.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the redis prediction cache",
	}
	cmd.AddCommand(newCachePurgeCmd())
	return cmd
}

func newCachePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every cached prediction",
		Long: "Cached predictions are keyed by structure pair only, so they survive a\n" +
			"model change. Run this after deploying new artifacts.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg := cliCtx.Config.Redis
			client, err := redis.NewClient(&cfg, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer client.Close()

			cache := redis.NewPredictionCache(client, cliCtx.Logger, redis.WithPrefix(cfg.KeyPrefix))
			n, err := cache.Purge(cmd.Context())
			if err != nil {
				return err
			}
			return PrintResult(cmd, &PurgeResult{Addr: cfg.Addr, Prefix: cfg.KeyPrefix, Deleted: n})
		},
	}
}
