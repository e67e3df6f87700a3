// Package cli implements the simpleadmin command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NicolasHaas/simpleadmin/pkg/datastore"
	"github.com/NicolasHaas/simpleadmin/pkg/host"
	"github.com/NicolasHaas/simpleadmin/pkg/logging"
	"github.com/NicolasHaas/simpleadmin/pkg/model"
	"github.com/NicolasHaas/simpleadmin/pkg/server"
)

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)
}

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simpleadmin",
		Short: "Ban, mute and admin management for game servers",
		Long: `simpleadmin keeps bans, mutes and admin groups in a sourcebans database
and exports the capability snapshots the game server loads.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	def := server.DefaultConfig()
	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./simpleadmin.yaml)")
	pf.String("db-driver", def.Database.Driver, "database driver: sqlite or mysql")
	pf.String("db-dsn", def.Database.DSN, "database DSN or SQLite file path")
	pf.String("data-dir", def.DataDir, "directory for groups.json and admins.json")
	pf.String("log-level", def.LogLevel, "log level: "+logging.LevelNames())
	pf.String("log-format", def.LogFormat, "log format: text or json")
	pf.String("as", "", "identity of the admin issuing commands")

	_ = viper.BindPFlag("database.driver", pf.Lookup("db-driver"))
	_ = viper.BindPFlag("database.dsn", pf.Lookup("db-dsn"))
	_ = viper.BindPFlag("data_dir", pf.Lookup("data-dir"))
	_ = viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("log_format", pf.Lookup("log-format"))
	_ = viper.BindPFlag("issuer", pf.Lookup("as"))

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newBanCmd())
	cmd.AddCommand(newUnbanCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newMuteCmd())
	cmd.AddCommand(newUnmuteCmd())
	cmd.AddCommand(newImportMutesCmd())
	cmd.AddCommand(newExpireCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newGroupCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("simpleadmin")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	setDefaults(server.DefaultConfig())
	viper.SetEnvPrefix("SIMPLEADMIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "read config %s: %v\n", cfgFile, err)
		}
	}
}

// setDefaults registers every key so environment variables can override
// values absent from the config file.
func setDefaults(cfg server.Config) {
	viper.SetDefault("database.driver", cfg.Database.Driver)
	viper.SetDefault("database.dsn", cfg.Database.DSN)
	viper.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	viper.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	viper.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	viper.SetDefault("database.query_timeout", cfg.Database.QueryTimeout)
	viper.SetDefault("database.migrate", cfg.Database.Migrate)
	viper.SetDefault("match_ip", cfg.MatchIP)
	viper.SetDefault("server_id", cfg.ServerID)
	viper.SetDefault("data_dir", cfg.DataDir)
	viper.SetDefault("groups_file", cfg.GroupsFile)
	viper.SetDefault("metrics_addr", cfg.MetricsAddr)
	viper.SetDefault("expire_interval", cfg.ExpireInterval)
	viper.SetDefault("worker_pool_size", cfg.WorkerPoolSize)
	viper.SetDefault("mute_batch_size", cfg.MuteBatchSize)
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("log_format", cfg.LogFormat)
}

// loadConfig merges defaults, config file, env and flags, then configures
// logging.
func loadConfig() (server.Config, error) {
	cfg := server.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	}); err != nil {
		return cfg, fmt.Errorf("invalid logging config: %w", err)
	}
	return cfg, nil
}

// openEngine opens the store and builds an engine whose host effects queue
// up for draining.
func openEngine(cfg server.Config) (*server.Server, *host.Queue, error) {
	st, err := datastore.NewProviderFactory(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	q := host.NewQueue()
	srv, err := server.New(cfg, server.Dependencies{Store: st, Host: q})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return srv, q, nil
}

// withEngine runs fn against a short-lived engine. Host effects scheduled
// by fn are logged, since no game server is attached.
func withEngine(fn func(ctx context.Context, srv *server.Server) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	srv, q, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	err = fn(context.Background(), srv)
	q.Drain(host.LogExecutor{})
	return err
}

func issuer() model.Issuer {
	id := viper.GetString("issuer")
	if id == "" {
		return model.Console
	}
	return model.Issuer{Identity: id, Name: "cli"}
}
