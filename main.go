package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmeaster30/simpledns/api"
	"github.com/jmeaster30/simpledns/cache"
	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/engine"
	"github.com/jmeaster30/simpledns/records"
	"github.com/jmeaster30/simpledns/resolver"
	"github.com/jmeaster30/simpledns/server"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

var cfgPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "simpledns",
		Short:         "A small authoritative and recursive DNS server",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "simpledns.conf",
		"location of the config file, if not found it will be generated")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the DNS server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "query NAME [TYPE]",
			Short: "Resolve a name with the local configuration and print the answer",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runQuery(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "records",
			Short: "Print the override rules of the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRecords(cmd)
			},
		},
		&cobra.Command{
			Use:   "cache",
			Short: "Print the entries of the cache snapshot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCache(cmd)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Println("simpledns v" + version)
			},
		},
	)

	return root
}

func setupLogger(level string) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())

	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	case "warn", "warning":
		logger.SetLevel(zlog.LevelWarn)
	case "error", "crit":
		logger.SetLevel(zlog.LevelError)
	default:
		logger.SetLevel(zlog.LevelInfo)
	}

	zlog.SetDefault(logger)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath, version)
	if err != nil {
		return nil, err
	}

	setupLogger(cfg.LogLevel)

	return cfg, nil
}

func newStore(cfg *config.Config) (*records.Store, error) {
	rules, err := records.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	store := records.NewStore()
	if err := store.Reload(rules); err != nil {
		return nil, err
	}

	return store, nil
}

func newCache(cfg *config.Config) *cache.Cache {
	minTTL, maxTTL, negativeTTL := cacheTTLs(cfg)

	return cache.New(cfg.CacheSize,
		cache.WithTTL(minTTL, maxTTL),
		cache.WithNegativeTTL(negativeTTL),
	)
}

func cacheTTLs(cfg *config.Config) (minTTL, maxTTL, negativeTTL time.Duration) {
	return time.Duration(cfg.MinTTL) * time.Second,
		time.Duration(cfg.MaxTTL) * time.Second,
		time.Duration(cfg.NegativeTTL) * time.Second
}

// applyConfig returns the config watcher callback. It swaps in the override
// rules, the resolver servers and tunables, the cache bounds and the log
// level. A config whose rules fail to load changes nothing.
func applyConfig(store *records.Store, c *cache.Cache, r *resolver.Resolver) func(*config.Config) {
	return func(cfg *config.Config) {
		rules, err := records.FromConfig(cfg)
		if err == nil {
			err = store.Reload(rules)
		}
		if err != nil {
			zlog.Error("Config reload failed", "error", err.Error())
			return
		}

		setupLogger(cfg.LogLevel)

		r.Reload(cfg)

		c.SetSize(cfg.CacheSize)
		c.SetTTL(cacheTTLs(cfg))

		zlog.Info("Config reloaded", "rules", len(rules), "cachesize", cfg.CacheSize)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	zlog.Info("Starting simpledns...", "version", version)

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	zlog.Info("Override rules loaded", "rules", len(store.Rules()))

	c := newCache(cfg)
	if cfg.CacheFile != "" {
		if _, err := c.ReadFile(cfg.CacheFile); err != nil {
			zlog.Warn("Cache snapshot not loaded", "path", cfg.CacheFile, "error", err.Error())
		}
	}
	c.Start(time.Minute)
	defer c.Stop()

	r := resolver.New(cfg, c, nil)
	e := engine.New(cfg, store, c, r)
	defer e.Close()

	watcher, err := config.NewWatcher(cfgPath, version, applyConfig(store, c, r))
	if err != nil {
		return err
	}
	defer watcher.Stop()

	srv := server.New(cfg, e)
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	api.New(cfg, c, store, watcher.Reload).Run(ctx)

	if cfg.CacheFile != "" {
		go snapshotLoop(ctx, c, cfg.CacheFile, cfg.SnapshotInterval.Duration)
	}

	<-ctx.Done()

	zlog.Info("Stopping simpledns...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Server shutdown failed", "error", err.Error())
	}

	if cfg.CacheFile != "" {
		writeSnapshot(c, cfg.CacheFile)
	}

	return nil
}

func snapshotLoop(ctx context.Context, c *cache.Cache, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeSnapshot(c, path)
		}
	}
}

func writeSnapshot(c *cache.Cache, path string) {
	if err := c.WriteFile(path); err != nil {
		zlog.Error("Cache snapshot failed", "path", path, "error", err.Error())
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	qtype := wire.TypeA
	if len(args) > 1 {
		t, ok := wire.ParseType(strings.ToUpper(args[1]))
		if !ok {
			return fmt.Errorf("unknown type %q", args[1])
		}
		qtype = t
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	c := newCache(cfg)
	if cfg.CacheFile != "" {
		_, _ = c.ReadFile(cfg.CacheFile)
	}

	// no dnstap for one-shot queries
	cfg.DnstapSocket = ""

	e := engine.New(cfg, store, c, resolver.New(cfg, c, nil))
	defer e.Close()

	req := new(wire.Message).SetQuestion(args[0], qtype)

	start := time.Now()
	resp := e.Handle(cmd.Context(), req)
	if resp == nil {
		return fmt.Errorf("no response for %s", req.Question[0].String())
	}

	cmd.Println(resp.String())
	cmd.Printf(";; query time: %s\n", time.Since(start).Round(time.Millisecond))

	return nil
}

func runRecords(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	for _, r := range store.Rules() {
		cmd.Println(r.String())
	}

	return nil
}

func runCache(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.CacheFile == "" {
		return fmt.Errorf("no cachefile configured")
	}

	c := newCache(cfg)
	if _, err := c.ReadFile(cfg.CacheFile); err != nil {
		return err
	}

	now := time.Now()
	for _, e := range c.Entries() {
		ttl := e.TTL(now).Round(time.Second)
		if len(e.Answer) == 0 {
			cmd.Printf("%s\t%s\t%s\n", e.Key.String(), e.Rcode.String(), ttl)
			continue
		}
		for _, rr := range e.Answer {
			cmd.Printf("%s\t%s\n", rr.String(), ttl)
		}
	}

	return nil
}
