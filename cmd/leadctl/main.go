package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/leadctl/internal/config"
)

var version = "dev"

var (
	noColor      bool
	outputFormat string
	cfg          config.Config
)

var rootCmd = &cobra.Command{
	Use:   "leadctl",
	Short: "Find property leads, buy contact data and run SMS campaigns",
	Long: `leadctl is a command-line client for the LeadService API.

Scan an area for distressed-property leads, enrich the ones you want to
buy, start SMS campaigns and answer replies from a live inbox.

Examples:
  leadctl auth login --email ann@example.com
  leadctl scan --state VA --city Richmond --strategy high_equity
  leadctl enrich --limit 5
  leadctl campaigns start "Richmond - March" --history 3
  leadctl inbox watch 12`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded

		if !cmd.Flags().Changed("no-color") {
			noColor = !cfg.Output.Color || os.Getenv("NO_COLOR") != ""
		}
		if !cmd.Flags().Changed("output") {
			outputFormat = cfg.Output.Format
		}
		switch outputFormat {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unsupported output format %q (want text, json or yaml)", outputFormat)
		}

		logLevel := slog.LevelInfo
		switch strings.ToLower(cfg.Log.Level) {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn", "warning":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the leadctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "leadctl version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(
		authCmd,
		scanCmd,
		enrichCmd,
		historyCmd,
		campaignsCmd,
		inboxCmd,
		configCmd,
		sandboxCmd,
		mcpCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
