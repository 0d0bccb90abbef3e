package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/leadctl/internal/config"
	"github.com/kalambet/leadctl/internal/export"
	"github.com/kalambet/leadctl/internal/leadapi"
	"github.com/kalambet/leadctl/internal/scan"
	"github.com/kalambet/leadctl/internal/session"
	"github.com/kalambet/leadctl/internal/storage"
)

// scanSnapshotsKept bounds the local scan cache.
const scanSnapshotsKept = 20

// --- auth ---

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Log in, sign up or inspect the current session",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		var err error
		if email == "" {
			if email, err = prompt(cmd, "Email: "); err != nil {
				return err
			}
		}
		if password == "" {
			if password, err = prompt(cmd, "Password: "); err != nil {
				return err
			}
		}

		client := leadapi.New(cfg.API.BaseURL, nil, cfg.RequestTimeout())
		tok, err := client.Login(cmd.Context(), leadapi.LoginRequest{Username: email, Password: password})
		if errors.Is(err, leadapi.ErrUnauthorized) {
			return errors.New("incorrect email or password")
		}
		if err != nil {
			return explain(err)
		}

		sess := session.New(cfg.Storage.DataDir, "")
		if err := sess.Set(tok.AccessToken); err != nil {
			return err
		}
		printSuccess("Logged in as %s", email)
		if cfg.Auth.Token != "" {
			printWarning("LEADCTL_TOKEN is set and takes precedence over the saved token")
		}
		return nil
	},
}

var authSignupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		name, _ := cmd.Flags().GetString("name")

		client := leadapi.New(cfg.API.BaseURL, nil, cfg.RequestTimeout())
		u, err := client.Signup(cmd.Context(), leadapi.SignupRequest{Email: email, Password: password, FullName: name})
		if err != nil {
			return explain(err)
		}
		printSuccess("Created account %s (id %d)", u.Email, u.ID)
		printStep("Run `leadctl auth login --email %s` to start a session", u.Email)
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := session.New(cfg.Storage.DataDir, "")
		if err := sess.Clear(); err != nil {
			return err
		}
		printSuccess("Logged out")
		if cfg.Auth.Token != "" {
			printWarning("LEADCTL_TOKEN is still set in the environment")
		}
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		tok := a.session.Token()
		if tok == "" {
			printStatus("Session", "not logged in")
			return nil
		}

		source := "saved"
		if a.session.FromEnv() {
			source = "LEADCTL_TOKEN"
		}
		printStatus("Session", "active (%s)", source)
		if sub := session.Subject(tok); sub != "" {
			printStatus("Subject", "%s", sub)
		}
		if exp, ok := session.Expiry(tok); ok {
			printStatus("Expires", "%s (in %s)", exp.Local().Format("2006-01-02 15:04"), time.Until(exp).Round(time.Minute))
		}

		offline, _ := cmd.Flags().GetBool("offline")
		if offline {
			return nil
		}
		me, err := a.api.Me(cmd.Context())
		if err != nil {
			printStatus("Server", "%s", colorize(colorRed, explain(err).Error()))
			return nil
		}
		if handled, err := emit(cmd.OutOrStdout(), me); handled {
			return err
		}
		printStatus("User", "%s %s", me.Email, me.FullName)
		printStatus("Server", "%s", cfg.API.BaseURL)
		return nil
	},
}

// prompt reads one line from the command's input.
func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	authLoginCmd.Flags().String("email", "", "account email")
	authLoginCmd.Flags().String("password", "", "account password (prompted when empty)")
	authSignupCmd.Flags().String("email", "", "account email")
	authSignupCmd.Flags().String("password", "", "account password")
	authSignupCmd.Flags().String("name", "", "full name")
	authStatusCmd.Flags().Bool("offline", false, "do not contact the server")

	authCmd.AddCommand(authLoginCmd, authSignupCmd, authLogoutCmd, authStatusCmd)
}

// --- scan ---

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan an area for leads",
	Long: `Scan an area for leads and split them into new previews and leads you
already own. The result is cached locally for the enrich command.

Examples:
  leadctl scan --state VA --city Richmond
  leadctl scan --state VA --city Norfolk --strategy absentee -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria := scanCriteria(cmd)
		if err := criteria.Validate(); err != nil {
			return err
		}

		a, err := loggedIn()
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		d := scan.NewDashboard(a.api, cfg.Scan.PurchaseLimit)
		res, err := d.Scan(cmd.Context(), criteria)
		if err != nil {
			return explain(err)
		}
		saveScan(store, criteria, res)

		if handled, err := emit(cmd.OutOrStdout(), res); handled {
			return err
		}
		printScan(cmd.OutOrStdout(), res, d.PurchaseLimit())
		return nil
	},
}

func scanCriteria(cmd *cobra.Command) leadapi.ScanRequest {
	state, _ := cmd.Flags().GetString("state")
	city, _ := cmd.Flags().GetString("city")
	strategy, _ := cmd.Flags().GetString("strategy")
	return leadapi.ScanRequest{State: state, City: city, Strategy: strategy}
}

func saveScan(store *storage.Store, criteria leadapi.ScanRequest, res leadapi.ScanResult) {
	if _, err := store.SaveScan(criteria, res); err != nil {
		printWarning("caching scan result failed: %v", err)
		return
	}
	if _, err := store.PruneScans(scanSnapshotsKept); err != nil {
		printWarning("pruning scan cache failed: %v", err)
	}
}

func printScan(w io.Writer, res leadapi.ScanResult, limit int) {
	fmt.Fprintf(w, "%s %d new, %d owned\n", colorize(colorBold, "Leads:"), res.NewCount, res.PurchasedCount)

	if len(res.Leads) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, colorize(colorBold, "New"))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, p := range res.Leads {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", colorize(colorCyan, p.ID), p.Address, p.OwnerName)
		}
		tw.Flush()
	}
	if len(res.PurchasedLeads) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, colorize(colorBold, "Owned"))
		printLeads(w, res.PurchasedLeads)
	}
	if res.NewCount > 0 {
		fmt.Fprintf(w, "\nRun `leadctl enrich --limit %d` to buy contact data.\n", limit)
	}
}

func printLeads(w io.Writer, leads []leadapi.Lead) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, l := range leads {
		phone := colorize(colorDim, "no phone")
		if len(l.PhoneNumbers) > 0 {
			phone = strings.Join(l.PhoneNumbers, ", ")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
			colorize(colorCyan, l.RadarID), l.Address, l.OwnerName, export.Money(l.EquityValue), phone)
	}
	tw.Flush()
}

func init() {
	scanCmd.Flags().String("state", "", "two-letter state code")
	scanCmd.Flags().String("city", "", "city name")
	scanCmd.Flags().String("strategy", "high_equity", "lead strategy")
}

// --- enrich ---

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Buy contact data for new leads or refresh owned ones",
	Long: `Enrich leads from the latest cached scan.

With no flags the first new leads up to the purchase limit are bought.
--ids enriches specific leads, --owned refreshes every lead you own.

Examples:
  leadctl enrich --limit 5
  leadctl enrich --ids P0000A1B2,P0000A1B3
  leadctl enrich --owned`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, _ := cmd.Flags().GetStringSlice("ids")
		owned, _ := cmd.Flags().GetBool("owned")
		if owned && len(ids) > 0 {
			return errors.New("--ids and --owned are mutually exclusive")
		}

		a, err := loggedIn()
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var criteria *leadapi.ScanRequest
		if c := scanCriteria(cmd); c.City != "" {
			criteria = &c
		}
		snap, err := store.LatestScan(criteria)
		if errors.Is(err, storage.ErrNotFound) {
			return scan.ErrNoScan
		}
		if err != nil {
			return err
		}

		d := scan.NewDashboard(a.api, cfg.Scan.PurchaseLimit)
		d.Restore(snap.Criteria, snap.Result)
		if cmd.Flags().Changed("limit") {
			limit, _ := cmd.Flags().GetInt("limit")
			d.SetPurchaseLimit(limit)
		}
		if owned {
			d.SelectAllOwned()
			ids = d.SelectedOwned()
			if len(ids) == 0 {
				printWarning("You do not own any leads in %s yet", snap.Criteria.City)
				return nil
			}
		}
		if len(ids) == 0 && snap.Result.NewCount == 0 {
			printWarning("No new leads to buy in %s", snap.Criteria.City)
			return nil
		}

		printStep("Enriching leads in %s, %s", snap.Criteria.City, snap.Criteria.State)
		merged, fresh, err := d.Enrich(cmd.Context(), ids)
		if err != nil {
			return explain(err)
		}
		saveScan(store, d.Criteria(), merged)

		if handled, err := emit(cmd.OutOrStdout(), fresh); handled {
			return err
		}
		printSuccess("Enriched %d leads (%d new, %d owned)", len(fresh), merged.NewCount, merged.PurchasedCount)
		printLeads(cmd.OutOrStdout(), fresh)
		return nil
	},
}

func init() {
	enrichCmd.Flags().Int("limit", scan.DefaultPurchaseLimit, "number of new leads to buy")
	enrichCmd.Flags().StringSlice("ids", nil, "comma-separated lead ids to enrich")
	enrichCmd.Flags().Bool("owned", false, "refresh every owned lead")
	enrichCmd.Flags().String("state", "", "use the cached scan of this state")
	enrichCmd.Flags().String("city", "", "use the cached scan of this city")
	enrichCmd.Flags().String("strategy", "high_equity", "strategy of the cached scan")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and export purchased lead batches",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past enrichment batches, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loggedIn()
		if err != nil {
			return err
		}
		entries, err := a.api.History(cmd.Context())
		if err != nil {
			return explain(err)
		}
		if handled, err := emit(cmd.OutOrStdout(), entries); handled {
			return err
		}

		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No history yet.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d leads\t%s\n",
				colorize(colorCyan, strconv.Itoa(e.ID)), e.City, e.Strategy, e.TotalResults,
				e.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the leads of one batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid history id %q", args[0])
		}
		a, err := loggedIn()
		if err != nil {
			return err
		}
		leads, err := a.api.HistoryLeads(cmd.Context(), id)
		if err != nil {
			return explain(err)
		}
		if handled, err := emit(cmd.OutOrStdout(), leads); handled {
			return err
		}
		printLeads(cmd.OutOrStdout(), leads)
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export [id...]",
	Short: "Export purchased leads as CSV or JSON",
	Long: `Export the leads of the given history batches, or of every batch when
no ids are given. Leads present in several batches are written once.

Examples:
  leadctl history export --file leads.csv
  leadctl history export 3 4 --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "csv" && format != "json" {
			return fmt.Errorf("unsupported export format %q (want csv or json)", format)
		}
		file, _ := cmd.Flags().GetString("file")

		want := make(map[int]bool, len(args))
		for _, arg := range args {
			id, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("invalid history id %q", arg)
			}
			want[id] = true
		}

		a, err := loggedIn()
		if err != nil {
			return err
		}
		entries, err := a.api.History(cmd.Context())
		if err != nil {
			return explain(err)
		}
		if len(want) > 0 {
			var picked []leadapi.HistoryEntry
			for _, e := range entries {
				if want[e.ID] {
					picked = append(picked, e)
				}
			}
			if len(picked) != len(want) {
				return fmt.Errorf("%d of %d history ids not found", len(want)-len(picked), len(want))
			}
			entries = picked
		}

		leads, err := export.CollectHistory(cmd.Context(), a.api, entries)
		if err != nil {
			return explain(err)
		}

		write := func(w io.Writer) error {
			if format == "json" {
				return export.WriteJSON(w, leads)
			}
			return export.WriteCSV(w, leads)
		}
		if file == "" {
			return write(cmd.OutOrStdout())
		}
		if err := writeFile(file, write); err != nil {
			return err
		}
		printSuccess("Exported %d leads to %s", len(leads), file)
		return nil
	},
}

// writeFile creates path and fills it with write. The file is removed when
// writing or closing fails.
func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(path)
		}
	}()
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	return nil
}

func init() {
	historyExportCmd.Flags().String("format", "csv", "export format: csv or json")
	historyExportCmd.Flags().String("file", "", "output file path (default: stdout)")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyExportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := config.ShowAll(cfg)
		if outputFormat != "text" {
			values := make(map[string]string, len(keys))
			for _, k := range keys {
				values[k.Key] = k.Value
			}
			_, err := emit(cmd.OutOrStdout(), values)
			return err
		}
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n  %s\n", colorize(colorDim, config.FilePath()))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
