package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"optqueue/pkg/logger"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "optqueue",
	Short: "Sequential optimization task queue with live websocket progress",
	Long: `optqueue accepts black-box optimization tasks over HTTP, runs them one at
a time and streams their progress to websocket clients.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := NewApplication(configPath)

		if err := app.Initialize(); err != nil {
			return fmt.Errorf("application initialization failed: %w", err)
		}
		if err := app.Start(); err != nil {
			return fmt.Errorf("application startup failed: %w", err)
		}

		// Wait for exit signal
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		logger.InfoCtx(app.ctx, "Received exit signal: %v", sig)

		return app.Shutdown(app.config.Server.ShutdownTimeout)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "optqueue version %s\n", version)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (defaults to $CONFIG_PATH or config/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
