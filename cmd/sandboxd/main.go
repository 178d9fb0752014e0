package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lsclear/sandbox/pkg/api"
	"github.com/lsclear/sandbox/pkg/config"
	"github.com/lsclear/sandbox/pkg/intake"
	"github.com/lsclear/sandbox/pkg/log"
	"github.com/lsclear/sandbox/pkg/materializer"
	"github.com/lsclear/sandbox/pkg/notify"
	"github.com/lsclear/sandbox/pkg/runtime"
	"github.com/lsclear/sandbox/pkg/session"
	"github.com/lsclear/sandbox/pkg/state"
	"github.com/lsclear/sandbox/pkg/treestore"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sandboxd",
	Short: "Sandboxd - browser terminal and workspace backend",
	Long: `Sandboxd gives each user an isolated container with a browser
terminal, a persistent virtual file tree, and live file-change
notifications, behind a single HTTP/WebSocket API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Sandboxd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sandbox backend",
	Long: `Start the full backend: the container runtime driver, the tree
store, the session manager with its orphan reaper, the notification
hub, and the HTTP/WebSocket API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")

		rt, err := runtime.NewDockerRuntime(runtime.Options{
			Image:        cfg.Image,
			IntakeURL:    cfg.IntakeURL,
			StartTimeout: cfg.StartTimeout,
			MemoryBytes:  cfg.MemoryBytes,
			CPUQuota:     cfg.CPUQuota,
			CPUPeriod:    cfg.CPUPeriod,
		})
		if err != nil {
			return fmt.Errorf("failed to create container runtime: %v", err)
		}
		defer rt.Close()

		if err := rt.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("container runtime unreachable: %v", err)
		}
		logger.Info().Str("image", cfg.Image).Msg("container runtime connected")

		store, err := treestore.New(cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to open tree store: %v", err)
		}
		defer store.Close()
		logger.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.Name).Msg("tree store ready")

		cache, err := state.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open state cache: %v", err)
		}
		defer cache.Close()

		seeder := materializer.New(store, rt)

		sessions, err := session.NewManager(rt, seeder, cache, cfg.ReapInterval)
		if err != nil {
			return fmt.Errorf("failed to create session manager: %v", err)
		}
		sessions.Start()
		defer sessions.Stop()

		hub := notify.NewHub(notify.DefaultPingInterval)
		processor := intake.New(store, hub)

		srv := api.NewServer(sessions, rt, store, seeder, processor, hub, cfg.AllowedOrigins)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(cfg.Listen); err != nil {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop API server: %v", err)
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}
