package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	daemon "github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"

	"github.com/xscopehub/consultd/internal/app"
	"github.com/xscopehub/consultd/internal/config"
	"github.com/xscopehub/consultd/internal/db"
	logpkg "github.com/xscopehub/consultd/pkg/log"
	"github.com/xscopehub/consultd/pkg/telemetry"
)

var (
	daemonMode bool
	cfgPath    string
	pidFile    string
)

func serve() error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName, cfg.Telemetry.OtlpEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	logger := logpkg.New(cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled, cfg.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Build(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	logger.Info("consultd starting", "address", cfg.Server.Address, "store", cfg.Store.Driver, "storage", cfg.Storage.Driver)
	if err := a.Run(ctx, cfg.Notify.Timeout+time.Second); err != nil {
		return err
	}
	logger.Info("consultd stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	run := func(apply func(string) error) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return apply(cfg.Database.DSN)
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply pending migrations", RunE: run(db.Migrate)},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration", RunE: run(db.Rollback)},
	)
	return cmd
}

func main() {
	serveRun := func(cmd *cobra.Command, args []string) error {
		if daemonMode {
			cntxt := &daemon.Context{
				PidFileName: pidFile,
				PidFilePerm: 0644,
			}
			child, err := cntxt.Reborn()
			if err != nil {
				return err
			}
			if child != nil {
				return nil
			}
			defer cntxt.Release()
		}
		return serve()
	}

	rootCmd := &cobra.Command{
		Use:          "consultd",
		Short:        "Consultation case workflow service",
		SilenceUsage: true,
		RunE:         serveRun,
	}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  serveRun,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "/etc/consultd.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&daemonMode, "daemon", false, "run in background")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid-file", "consultd.pid", "pid file used in daemon mode")
	rootCmd.AddCommand(serveCmd, migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
