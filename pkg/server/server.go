// Package server wires the ban, mute and permission managers into the
// engine driven by the host's session ticks and admin commands.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/NicolasHaas/simpleadmin/pkg/ban"
	"github.com/NicolasHaas/simpleadmin/pkg/datastore"
	"github.com/NicolasHaas/simpleadmin/pkg/host"
	"github.com/NicolasHaas/simpleadmin/pkg/logging"
	"github.com/NicolasHaas/simpleadmin/pkg/mute"
	"github.com/NicolasHaas/simpleadmin/pkg/permission"
)

// Config holds engine configuration.
type Config struct {
	Database       datastore.Config `mapstructure:"database"`
	MatchIP        bool             `mapstructure:"match_ip"`        // also enforce bans by address
	ServerID       int              `mapstructure:"server_id"`       // stamped on new bans
	DataDir        string           `mapstructure:"data_dir"`        // groups.json / admins.json output
	GroupsFile     string           `mapstructure:"groups_file"`     // YAML groups seed loaded on startup
	MetricsAddr    string           `mapstructure:"metrics_addr"`    // HTTP bind address for /metrics (empty = disabled)
	ExpireInterval time.Duration    `mapstructure:"expire_interval"` // wall-clock mute expiry period
	WorkerPoolSize int              `mapstructure:"worker_pool_size"`
	MuteBatchSize  int              `mapstructure:"mute_batch_size"`
	LogLevel       string           `mapstructure:"log_level"`
	LogFormat      string           `mapstructure:"log_format"`
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown when it
// implements io.Closer.
type Dependencies struct {
	Store     datastore.DataProviderFactory
	Host      host.Host
	Cache     *permission.AdminCache   // nil = fresh cache
	Snapshots permission.SnapshotWriter // nil = FileWriter in DataDir
	Clock     func() time.Time          // nil = time.Now
	Logger    *slog.Logger              // nil = slog.Default()
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Database:       datastore.DefaultConfig(),
		DataDir:        ".",
		MetricsAddr:    ":9602",
		ExpireInterval: time.Minute,
		WorkerPoolSize: 2,
		MuteBatchSize:  mute.DefaultBatchSize,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Server is the moderation engine.
type Server struct {
	cfg     Config
	store   datastore.DataProviderFactory
	host    host.Host
	bans    *ban.Manager
	mutes   *mute.Manager
	perms   *permission.Resolver
	pool    *ants.Pool
	metrics *Metrics
	log     *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: missing store dependency")
	}
	if deps.Host == nil {
		return nil, errors.New("server: missing host dependency")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	snapshots := deps.Snapshots
	if snapshots == nil {
		snapshots = permission.FileWriter{Dir: cfg.DataDir}
	}
	size := cfg.WorkerPoolSize
	if size <= 0 {
		size = 1
	}

	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			log.Error("tick worker panic", "component", "server", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("server: worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		store:   deps.Store,
		host:    deps.Host,
		pool:    pool,
		metrics: NewMetrics(),
		log:     logging.Component(log, "server"),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.bans = ban.NewManager(deps.Store, deps.Host,
		ban.Config{MatchIP: cfg.MatchIP, ServerID: cfg.ServerID},
		ban.WithClock(now), ban.WithLogger(log))
	s.mutes = mute.NewManager(deps.Store, deps.Host,
		mute.WithClock(now), mute.WithLogger(log), mute.WithBatchSize(cfg.MuteBatchSize))
	s.perms = permission.NewResolver(deps.Store, deps.Host, deps.Cache,
		permission.WithSnapshotWriter(snapshots), permission.WithLogger(log))
	return s, nil
}

// Bans returns the ban manager.
func (s *Server) Bans() *ban.Manager {
	return s.bans
}

// Mutes returns the mute manager.
func (s *Server) Mutes() *mute.Manager {
	return s.mutes
}

// Permissions returns the permission resolver.
func (s *Server) Permissions() *permission.Resolver {
	return s.perms
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Shutdown stops background work, waits briefly for in-flight ticks and
// closes the store. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.cancel()
		if err := s.pool.ReleaseTimeout(10 * time.Second); err != nil {
			s.log.Warn("worker pool did not drain", "err", err)
		}
		if c, ok := s.store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.log.Error("close store", "err", err)
			}
		}
	})
}
