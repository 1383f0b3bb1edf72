package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/picbreeder/host/internal/config"
	"github.com/picbreeder/host/internal/dispatch"
	"github.com/picbreeder/host/internal/handles"
	"github.com/picbreeder/host/internal/history"
	"github.com/picbreeder/host/internal/logging"
	"github.com/picbreeder/host/internal/mirror"
	"github.com/picbreeder/host/internal/permission"
	"github.com/picbreeder/host/internal/storage"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	yes        bool

	stdin  io.Reader
	stderr io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stdin: stdin, stderr: stderr}

	root := &cobra.Command{
		Use:   "picbreeder",
		Short: "Session history store and image mirrors for picbreeder",
		Long: `picbreeder keeps the breeding-session history in a capacity-bounded store,
mirrors newly added images to a local folder and to the companion server,
and runs that companion server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default ~/.picbreeder/config.toml)")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "directory holding primary.db and handles.db")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVarP(&opts.yes, "yes", "y", false, "answer yes to every permission prompt")

	root.AddCommand(
		newServeCmd(opts),
		newSessionsCmd(opts),
		newAddCmd(opts),
		newImageCmd(opts),
		newStatsCmd(opts),
		newClearCmd(opts),
		newFolderCmd(opts),
		newExportCmd(opts),
		newHealthCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file, applies flag overrides, then defaults.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	// CLI flags override config values
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env is the config and logger every command needs.
func (o *globalOptions) env() (*config.Config, *zap.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (o *globalOptions) prompter() permission.Prompter {
	if o.yes {
		return permission.Static(true)
	}
	return permission.NewTerminalPrompter(o.stdin, o.stderr)
}

// app is the fully wired store stack used by the history commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	kv       *storage.SQLiteKV
	handles  *handles.Store
	gate     *permission.Gate
	pool     *dispatch.Pool
	network  *mirror.Network
	exporter *mirror.Exporter
	repo     *history.Repository
}

// openApp opens both stores and builds the repository with its mirrors.
// Callers must Close the app so queued mirror writes finish.
func (o *globalOptions) openApp() (*app, error) {
	cfg, logger, err := o.env()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	kv, err := storage.NewSQLiteKV(cfg.PrimaryStorePath(), cfg.CapacityBytes, logger)
	if err != nil {
		return nil, err
	}
	policy, err := history.PolicyByName(cfg.QuotaPolicy)
	if err != nil {
		kv.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		kv:      kv,
		handles: handles.NewStore(cfg.HandleStorePath(), logger),
		pool:    dispatch.NewPool(cfg.MirrorWorkers, cfg.MirrorQueue, logger),
		network: mirror.NewNetwork(mirror.NetworkOptions{
			Endpoint: cfg.MirrorEndpoint,
			Timeout:  time.Duration(cfg.MirrorTimeoutMs) * time.Millisecond,
			Rate:     cfg.MirrorRate,
			Logger:   logger,
		}),
	}
	a.gate = permission.NewGate(permission.NewFolderAuthorizer(o.prompter()), logger)
	a.exporter = mirror.NewExporter(a.handles, a.gate, logger)

	var mirrors []history.Mirror
	if cfg.DiskMirrorEnabled() {
		mirrors = append(mirrors, mirror.NewDisk(a.handles, a.gate, logger))
	}
	if cfg.NetworkMirrorEnabled() {
		mirrors = append(mirrors, a.network)
	}

	a.repo, err = history.New(kv, history.Options{
		MaxSessions:   cfg.MaxSessions,
		CapacityBytes: cfg.CapacityBytes,
		QuotaPolicy:   policy,
		Mirrors:       mirrors,
		Scheduler:     a.pool,
		Logger:        logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close drains pending mirror writes, then releases the stores.
func (a *app) Close() error {
	a.pool.Close()

	err := errors.Join(a.handles.Close(), a.kv.Close())
	a.logger.Sync()
	return err
}

// withApp runs fn against an opened app and always closes it.
func (o *globalOptions) withApp(fn func(a *app) error) error {
	a, err := o.openApp()
	if err != nil {
		return err
	}
	return errors.Join(fn(a), a.Close())
}
