package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/leadctl/internal/mcptools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve campaigns and inboxes to an MCP host over stdio",
	Long: `Serve leadctl tools over the MCP stdio transport. Configure your MCP host
to run "leadctl mcp"; log in with "leadctl auth login" first or set
LEADCTL_TOKEN in the host's environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loggedIn()
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				slog.Warn("closing local cache", "error", err)
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mcpSrv := mcptools.NewServer(mcptools.Deps{
			Service: a.api,
			Store:   store,
			Version: version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		slog.Info("MCP server started (stdio transport)", "api", cfg.API.BaseURL)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
