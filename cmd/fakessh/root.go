package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acolita/fake-ssh/internal/config"
	"github.com/acolita/fake-ssh/internal/logging"
	"github.com/acolita/fake-ssh/internal/metrics"
	"github.com/acolita/fake-ssh/internal/server"
	"github.com/acolita/fake-ssh/internal/vfs"
)

type options struct {
	configPath string
	listen     string
	debug      bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "fakessh",
		Short:         "A fake SSH and SFTP server for tests",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, waitForSignal)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file")
	cmd.Flags().StringVarP(&opts.listen, "listen", "l", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of fakessh",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fakessh version %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
			fmt.Fprintf(out, "  Go version: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

// applyOverrides applies command line flags on top of a loaded config.
func (o options) applyOverrides(cfg *config.Config) {
	if o.listen != "" {
		cfg.Server.Listen = o.listen
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}
}

func run(opts options, wait func(*server.Server)) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Sanitize)

	slog.Info("starting fakessh",
		slog.String("version", Version),
		slog.String("listen", cfg.Server.Listen),
	)

	handler, err := cfg.CommandHandler()
	if err != nil {
		return err
	}

	srvOpts := []server.Option{server.WithCommandHandler(handler)}
	if cfg.Server.HostKeyPath != "" {
		signer, err := server.LoadHostKey(cfg.Server.HostKeyPath)
		if err != nil {
			return err
		}
		srvOpts = append(srvOpts, server.WithHostKey(signer))
	}

	fsys := vfs.New(cfg.Filesystem.Seed)
	srv, err := server.New(cfg.Server.Listen, fsys, srvOpts...)
	if err != nil {
		return err
	}
	defer srv.Close()

	if cfg.Metrics.Listen != "" {
		metricsServer := &http.Server{
			Addr:    cfg.Metrics.Listen,
			Handler: metrics.Handler(),
		}
		go func() {
			slog.Info("metrics server listening", slog.String("addr", cfg.Metrics.Listen))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", slog.String("error", err.Error()))
			}
		}()
		defer metricsServer.Close()
	}

	if opts.configPath != "" {
		watcher, err := config.NewWatcher(opts.configPath, handler)
		if err != nil {
			slog.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		} else {
			defer watcher.Close()
			slog.Info("config hot-reload enabled", slog.String("path", opts.configPath))
		}
	}

	wait(srv)
	return nil
}

func waitForSignal(srv *server.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	<-sigChan
	slog.Info("received shutdown signal", slog.String("addr", srv.Addr()))
}
