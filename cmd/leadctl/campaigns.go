package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/leadctl/internal/campaign"
	"github.com/kalambet/leadctl/internal/export"
	"github.com/kalambet/leadctl/internal/leadapi"
	"github.com/kalambet/leadctl/internal/storage"
)

var campaignsCmd = &cobra.Command{
	Use:     "campaigns",
	Aliases: []string{"campaign"},
	Short:   "Start and manage SMS campaigns",
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns, archived ones grouped by name prefix",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loggedIn()
		if err != nil {
			return err
		}
		all, err := a.api.Campaigns(cmd.Context())
		if err != nil {
			return explain(err)
		}
		if handled, err := emit(cmd.OutOrStdout(), all); handled {
			return err
		}

		w := cmd.OutOrStdout()
		if len(all) == 0 {
			fmt.Fprintln(w, "No campaigns yet. Start one with `leadctl campaigns start`.")
			return nil
		}
		delimiter, _ := cmd.Flags().GetString("delimiter")
		active, groups := campaign.GroupArchived(all, delimiter)

		printCampaigns(w, active, "")
		for _, g := range groups {
			fmt.Fprintf(w, "\n%s\n", colorize(colorDim, "Archived: "+g.Name))
			printCampaigns(w, g.Campaigns, "  ")
		}
		return nil
	},
}

func printCampaigns(w io.Writer, campaigns []leadapi.Campaign, indent string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range campaigns {
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%d leads\t%s\n",
			indent,
			colorize(colorCyan, strconv.Itoa(c.ID)),
			c.Name,
			colorize(statusColor(c.Status), campaign.CampaignLabel(c.Status)),
			c.TotalLeads,
			c.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	tw.Flush()
}

var campaignsStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start an SMS campaign for purchased leads",
	Long: `Start an SMS campaign. Recipients are the purchased leads of the given
history batches; leads without a phone number are skipped.

The template may use {name} (owner first name) and {address} (street).

Examples:
  leadctl campaigns start "Richmond - March" --history 3
  leadctl campaigns start "Follow up" --history 3,4 --ids P0000A1B2 --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batches, _ := cmd.Flags().GetIntSlice("history")
		ids, _ := cmd.Flags().GetStringSlice("ids")
		template, _ := cmd.Flags().GetString("template")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if len(batches) == 0 {
			return errors.New("--history is required: pick the lead batches to message")
		}

		a, err := loggedIn()
		if err != nil {
			return err
		}

		entries := make([]leadapi.HistoryEntry, len(batches))
		for i, id := range batches {
			entries[i] = leadapi.HistoryEntry{ID: id}
		}
		leads, err := export.CollectHistory(cmd.Context(), a.api, entries)
		if err != nil {
			return explain(err)
		}
		leads = filterLeads(leads, ids)

		req, skipped, err := campaign.BuildStart(args[0], template, leads)
		if err != nil {
			return err
		}
		if skipped > 0 {
			printWarning("Skipping %d leads without a phone number", skipped)
		}

		preview := campaign.Render(req.TemplateBody, firstRecipient(leads, req.LeadIDs))
		printStatus("Recipients", "%d", len(req.LeadIDs))
		printStatus("Preview", "%s", preview)
		if dryRun {
			return nil
		}

		started, err := a.api.StartCampaign(cmd.Context(), req)
		if err != nil {
			return explain(err)
		}
		if handled, err := emit(cmd.OutOrStdout(), started); handled {
			return err
		}
		printSuccess("Started campaign %d %q for %d leads", started.ID, started.Name, started.TotalLeads)
		printStep("Watch replies with `leadctl inbox watch %d`", started.ID)
		return nil
	},
}

func filterLeads(leads []leadapi.Lead, ids []string) []leadapi.Lead {
	if len(ids) == 0 {
		return leads
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []leadapi.Lead
	for _, l := range leads {
		if want[l.RadarID] {
			out = append(out, l)
		}
	}
	return out
}

func firstRecipient(leads []leadapi.Lead, ids []string) leadapi.Lead {
	if len(ids) == 0 {
		return leadapi.Lead{}
	}
	for _, l := range leads {
		if l.RadarID == ids[0] {
			return l
		}
	}
	return leadapi.Lead{}
}

var campaignsArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive a campaign, or restore an archived one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCampaignID(args[0])
		if err != nil {
			return err
		}
		a, err := loggedIn()
		if err != nil {
			return err
		}
		c, err := a.api.ToggleArchive(cmd.Context(), id)
		if err != nil {
			return explain(err)
		}
		if handled, err := emit(cmd.OutOrStdout(), c); handled {
			return err
		}
		if c.Status == leadapi.CampaignArchived {
			printSuccess("Archived campaign %d", c.ID)
		} else {
			printSuccess("Restored campaign %d (%s)", c.ID, c.Status)
		}
		return nil
	},
}

var campaignsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a campaign and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCampaignID(args[0])
		if err != nil {
			return err
		}
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This permanently deletes campaign %d and its messages. Use --confirm to proceed.", id)
			return nil
		}

		a, err := loggedIn()
		if err != nil {
			return err
		}
		if err := a.api.DeleteCampaign(cmd.Context(), id); err != nil {
			return explain(err)
		}

		store, err := openStore()
		if err != nil {
			printWarning("%v", err)
		} else {
			defer store.Close()
			if err := store.ForgetCampaign(id); err != nil {
				printWarning("clearing cached inbox failed: %v", err)
			}
		}
		printSuccess("Deleted campaign %d", id)
		return nil
	},
}

func parseCampaignID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid campaign id %q", s)
	}
	return id, nil
}

// cachedInbox returns the stored snapshot of a campaign's inbox.
func cachedInbox(store *storage.Store, id int) (storage.InboxSnapshot, error) {
	snap, err := store.GetInbox(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.InboxSnapshot{}, fmt.Errorf("no cached inbox for campaign %d", id)
	}
	return snap, err
}

func init() {
	campaignsListCmd.Flags().String("delimiter", campaign.DefaultDelimiter, "name delimiter used to group archived campaigns")
	campaignsStartCmd.Flags().IntSlice("history", nil, "history batch ids whose leads receive the campaign")
	campaignsStartCmd.Flags().StringSlice("ids", nil, "only message these lead ids")
	campaignsStartCmd.Flags().String("template", campaign.DefaultTemplate, "message template")
	campaignsStartCmd.Flags().Bool("dry-run", false, "show recipients and preview without starting")
	campaignsDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")

	campaignsCmd.AddCommand(campaignsListCmd, campaignsStartCmd, campaignsArchiveCmd, campaignsDeleteCmd)
}
