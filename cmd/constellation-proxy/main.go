package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artemis/constellation-proxy/internal/config"
	"github.com/artemis/constellation-proxy/internal/controller"
	"github.com/artemis/constellation-proxy/internal/observability"
	"github.com/artemis/constellation-proxy/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	logger  *observability.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "constellation-proxy",
	Short: "Resource-pinning reverse proxy",
	Long: `constellation-proxy routes each inbound request to the same worker
every time, for as long as that worker stays healthy, so a resource that
only one worker can safely touch always lands on the same process.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
			os.Exit(1)
		}

		logger, err = observability.NewLogger(cfg.Logging.Level, cfg.Logging.Console)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
	},
}

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the controller process",
	Long:  "Run the controller: accepts worker connections and routes public HTTP requests to them",
	Run: func(cmd *cobra.Command, args []string) {
		if hostname, _ := cmd.Flags().GetString("hostname"); hostname != "" {
			cfg.Webserver.Hostname = hostname
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Webserver.Port = port
		}
		if err := runController(cmd, args); err != nil {
			logger.Error("controller exited with error", zap.Error(err))
			os.Exit(1)
		}
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker process",
	Long:  "Run a worker: connects to a controller and serves requests pinned to this process",
	Run: func(cmd *cobra.Command, args []string) {
		if controllerURL, _ := cmd.Flags().GetString("controller-url"); controllerURL != "" {
			cfg.Worker.ControllerURL = controllerURL
		}
		if cfg.Worker.ControllerURL == "" {
			fmt.Fprintln(os.Stderr, "error: worker.controller_url must be set (config file or --controller-url)")
			os.Exit(1)
		}
		if err := runWorker(cmd, args); err != nil {
			logger.Error("worker exited with error", zap.Error(err))
			os.Exit(1)
		}
	},
}

func runController(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := observability.NewHealthChecker()
	go health.StartPeriodicChecks(ctx, 10*time.Second)

	ctrl := controller.New(cfg, logger, health)
	ctrl.Start(ctx)

	httpServer := controller.NewServer(cfg, logger, health, ctrl)

	srv := &http.Server{
		Addr:    cfg.WebserverAddr(),
		Handler: httpServer.Engine(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Info("starting controller", zap.String("http_addr", cfg.WebserverAddr()))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := worker.New(cfg, nil, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	logger.Info("starting worker", zap.String("controller_url", cfg.Worker.ControllerURL))
	w.Run(ctx)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./constellation.json)")

	controllerCmd.Flags().String("hostname", "", "override webserver.hostname")
	controllerCmd.Flags().Int("port", 0, "override webserver.port")

	workerCmd.Flags().String("controller-url", "", "controller base URL (e.g. http://controller:8080)")

	rootCmd.AddCommand(controllerCmd)
	rootCmd.AddCommand(workerCmd)
}
