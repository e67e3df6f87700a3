package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NicolasHaas/simpleadmin/pkg/host"
	"github.com/NicolasHaas/simpleadmin/pkg/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the moderation engine",
		Long:  "Seed groups, publish snapshots, expire mutes on a timer and serve /metrics until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	def := server.DefaultConfig()
	cmd.Flags().String("metrics", def.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	cmd.Flags().String("groups-file", "", "YAML file defining groups to create on startup")
	cmd.Flags().Duration("expire-interval", def.ExpireInterval, "how often expired mutes are swept")
	cmd.Flags().Bool("match-ip", false, "also enforce bans by IP address")

	_ = viper.BindPFlag("metrics_addr", cmd.Flags().Lookup("metrics"))
	_ = viper.BindPFlag("groups_file", cmd.Flags().Lookup("groups-file"))
	_ = viper.BindPFlag("expire_interval", cmd.Flags().Lookup("expire-interval"))
	_ = viper.BindPFlag("match_ip", cmd.Flags().Lookup("match-ip"))

	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	srv, q, err := openEngine(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go drainLoop(ctx, q, time.Second)

	slog.Info("simpleadmin starting", "config", viper.ConfigFileUsed())
	return srv.Run(ctx)
}

// drainLoop executes queued host effects until ctx is done.
func drainLoop(ctx context.Context, q *host.Queue, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	exec := host.LogExecutor{}
	for {
		select {
		case <-ctx.Done():
			q.Drain(exec)
			return
		case <-ticker.C:
			q.Drain(exec)
		}
	}
}
