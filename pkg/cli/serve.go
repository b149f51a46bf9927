package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mockhive/mockhive/pkg/api"
	"github.com/mockhive/mockhive/pkg/config"
	"github.com/mockhive/mockhive/pkg/logging"
	"github.com/mockhive/mockhive/pkg/manager"
)

// DefaultAdminPort is the control-plane API port.
const DefaultAdminPort = 4290

// configEnvVar names the environment fallback for --config.
const configEnvVar = "MOCKHIVE_CONFIG"

type serveFlags struct {
	configFile string
	adminPort  int
	logLevel   string
	logFormat  string
	tlsDir     string
}

var serveCmd = newServeCmd()

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the control plane and any configured mock servers",
		Long: `Starts the control-plane REST API and, when a configuration file is
given, brings up every mock server it declares. The configuration file
can also be set through the ` + configEnvVar + ` environment variable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "startup configuration file (jsonmc)")
	cmd.Flags().IntVar(&flags.adminPort, "admin-port", DefaultAdminPort, "control-plane API port")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "text", "log format (text, json)")
	cmd.Flags().StringVar(&flags.tlsDir, "tls-dir", "", "directory for materialized TLS files (default: OS temp dir)")

	return cmd
}

func runServe(ctx context.Context, flags *serveFlags) error {
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(flags.logLevel),
		Format: logging.ParseFormat(flags.logFormat),
		Output: os.Stderr,
	})

	mgr := manager.New(manager.WithLogger(log), manager.WithTLSDir(flags.tlsDir))

	configFile := flags.configFile
	if configFile == "" {
		configFile = os.Getenv(configEnvVar)
	}
	if configFile != "" {
		doc, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := config.Apply(doc, mgr, log); err != nil {
			mgr.Shutdown()
			return fmt.Errorf("applying startup configuration: %w", err)
		}
		log.Info("startup configuration applied", "file", configFile, "servers", len(doc.Servers))
	}

	apiSrv := api.New(mgr, log)
	if err := apiSrv.Start(flags.adminPort); err != nil {
		mgr.Shutdown()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(drainCtx); err != nil {
		log.Warn("admin shutdown", "error", err)
	}
	mgr.Shutdown()
	return nil
}
