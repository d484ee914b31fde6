package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/practicelog/internal/server"
	"github.com/audiolibrelab/practicelog/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the practicelog web server to control sessions from another device.
This allows you to start sessions, toggle tools and watch the clock from your
phone or tablet on the same network. Status is streamed on /ws.

The server will display the local network URL for easy access from mobile devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		svc, err := service.New(cfg, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc.Start(ctx)
		if svc.Engine().HasRecoverableSession() {
			slog.Warn("An unfinished session can be recovered", "endpoint", "/recovery")
		}

		slog.Info("practicelog web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)
		if err := server.New(svc, port).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		slog.Info("Web server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
