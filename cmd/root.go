package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/spf13/cobra"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/cron"
	"github.com/priyxstudio/curator/internal/database"
	"github.com/priyxstudio/curator/internal/queue"
	"github.com/priyxstudio/curator/loggers/cli"
	"github.com/priyxstudio/curator/modules"
	"github.com/priyxstudio/curator/providers/anilist"
	"github.com/priyxstudio/curator/providers/local"
	"github.com/priyxstudio/curator/providers/myanimelist"
	"github.com/priyxstudio/curator/router"
	"github.com/priyxstudio/curator/system"
)

var (
	configPath = config.DefaultLocation
	debug      = false
)

var rootCommand = &cobra.Command{
	Use:   "curator",
	Short: "Runs the metadata collection daemon.",
	Long:  "Runs the API server and the provider modules that collect media metadata into the local catalog.",
	PreRun: func(cmd *cobra.Command, args []string) {
		initConfig()
		initLogging()
		if debug {
			config.SetDebugViaFlag(debug)
			log.Debug("running in debug mode")
		}
	},
	Run: rootCmdRun,
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Prints the current version.",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Println(system.Version)
	},
}

func init() {
	rootCommand.PersistentFlags().StringVar(&configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	rootCommand.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run in debug mode")

	rootCommand.AddCommand(versionCommand)
	rootCommand.AddCommand(newDiagnosticsCommand())
}

// Execute runs the CLI entrypoint.
func Execute() {
	if err := rootCommand.Execute(); err != nil {
		log.WithField("error", err).Fatal("failed to execute command")
	}
}

func rootCmdRun(cmd *cobra.Command, _ []string) {
	log.WithField("version", system.Version).Info("starting curator")

	if err := config.ConfigureDirectories(); err != nil {
		log.WithField("error", err).Fatal("failed to configure system directories")
	}
	if err := database.Initialize(); err != nil {
		log.WithField("error", err).Fatal("failed to initialize database")
	}

	cfg := config.Get()

	// The shared queue drains all collection work, regardless of which module
	// produced it.
	q := queue.New("collection", cfg.Collection.Workers, database.Instance())

	registry := modules.NewRegistry()
	for name, factory := range map[string]modules.Factory{
		"myanimelist": func() modules.Module { return myanimelist.New() },
		"anilist":     func() modules.Module { return anilist.New() },
		"local":       func() modules.Module { return local.New() },
	} {
		if err := registry.Register(name, factory); err != nil {
			log.WithField("error", err).WithField("module", name).Fatal("failed to register module")
		}
	}

	sup := modules.NewSupervisor(registry, modules.SupervisorOptions{
		DB:    database.Instance(),
		Queue: q,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	for name, status := range sup.Run(ctx, cfg.Modules) {
		log.WithFields(log.Fields{
			"module": name,
			"state":  status.State,
		}).Info("module start decision made")
	}

	if err := cron.Scheduled(sup, q); err != nil {
		log.WithField("error", err).Error("failed to schedule background refresh")
	}

	srv := &http.Server{
		Addr:    cfg.Api.Host + ":" + strconv.Itoa(cfg.Api.Port),
		Handler: router.Configure(sup, q),
	}

	go func() {
		log.WithField("listen", srv.Addr).Info("api server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("failed to start api server")
		}
	}()

	// Wait for the termination signal and then unwind everything in the
	// reverse order it was started.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received, stopping daemon")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err).Warn("failed to gracefully shut down api server")
	}
	cron.Shutdown()
	sup.Stop(shutdownCtx)
	q.Stop()
	log.Info("daemon stopped")
}

// Reads the configuration from the disk and then sets up the global singleton
// with all the configuration values.
func initConfig() {
	if !filepath.IsAbs(configPath) {
		d, err := os.Getwd()
		if err != nil {
			log.WithField("error", err).Fatal("failed to determine the executable directory")
		}
		configPath = filepath.Clean(filepath.Join(d, configPath))
	}
	err := config.FromFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			exitWithConfigurationNotice()
		}
		log.WithField("error", err).Fatal("failed to load configuration file")
	}
}

// Configures the global logger for the daemon: colorized output on stderr and
// a rotated plain-text file under the configured log directory.
func initLogging() {
	dir := config.Get().System.LogDirectory
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.WithField("error", err).Fatal("failed to create log directory")
	}

	p := filepath.Join(dir, "curator.log")
	w, err := logrotate.NewFile(p)
	if err != nil {
		log.WithField("error", err).Fatal("failed to open process log file")
	}

	log.SetLevel(log.InfoLevel)
	if config.Get().Debug || debug {
		log.SetLevel(log.DebugLevel)
	}
	log.SetHandler(multi.New(cli.Default, cli.New(w, false)))
	log.WithField("path", p).Info("writing log files to disk")
}

func exitWithConfigurationNotice() {
	fmt.Printf(`
The configuration file could not be located at %s.

Create the file with at least an api token and one module entry, for example:

    api:
      token: change-me
    modules:
      - name: anilist
        enabled: true

Then start the daemon again.
`, configPath)
	os.Exit(1)
}
