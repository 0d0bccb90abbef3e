package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/leadctl/internal/campaign"
	"github.com/kalambet/leadctl/internal/inbox"
	"github.com/kalambet/leadctl/internal/leadapi"
	"github.com/kalambet/leadctl/internal/storage"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Read and answer campaign replies",
}

var inboxShowCmd = &cobra.Command{
	Use:   "show <campaign-id>",
	Short: "Show a campaign's conversations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCampaignID(args[0])
		if err != nil {
			return err
		}
		offline, _ := cmd.Flags().GetBool("offline")
		leadID, _ := cmd.Flags().GetString("lead")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var in leadapi.Inbox
		if offline {
			snap, err := cachedInbox(store, id)
			if err != nil {
				return err
			}
			printWarning("Showing cached inbox from %s", snap.FetchedAt.Local().Format("2006-01-02 15:04"))
			in = snap.Inbox
		} else {
			a, err := loggedIn()
			if err != nil {
				return err
			}
			in, err = a.api.CampaignInbox(cmd.Context(), id)
			if err != nil {
				return explain(err)
			}
			if err := store.SaveInbox(in); err != nil {
				printWarning("caching inbox failed: %v", err)
			}
		}

		w := cmd.OutOrStdout()
		if leadID != "" {
			conv, ok := in.Conversation(leadID)
			if !ok {
				return fmt.Errorf("lead %s is not in campaign %d", leadID, id)
			}
			if handled, err := emit(w, conv); handled {
				return err
			}
			printThread(w, conv)
			if d, err := store.GetDraft(id, leadID); err == nil {
				fmt.Fprintf(w, "\n%s %s\n", colorize(colorYellow, "Draft:"), d.Body)
			}
			return nil
		}
		if handled, err := emit(w, in); handled {
			return err
		}
		printInbox(w, in, "")
		return nil
	},
}

var inboxSendCmd = &cobra.Command{
	Use:   "send <campaign-id> <lead-id> [message...]",
	Short: "Send a manual message to a lead",
	Long: `Send a manual SMS to a lead in a campaign. When the send fails the text
is kept as a draft; run the command again without a message to retry it.

Examples:
  leadctl inbox send 12 P0000A1B2 "What price did you have in mind?"
  leadctl inbox send 12 P0000A1B2`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCampaignID(args[0])
		if err != nil {
			return err
		}
		leadID := args[1]
		body := strings.Join(args[2:], " ")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if strings.TrimSpace(body) == "" {
			d, err := store.GetDraft(id, leadID)
			if errors.Is(err, storage.ErrNotFound) {
				return inbox.ErrEmptyMessage
			}
			if err != nil {
				return err
			}
			printStep("Retrying draft from %s", d.UpdatedAt.Local().Format("2006-01-02 15:04"))
			body = d.Body
		}

		a, err := loggedIn()
		if err != nil {
			return err
		}
		msg, err := a.api.SendMessage(cmd.Context(), leadapi.SendMessageRequest{LeadID: leadID, Body: body, CampaignID: id})
		if err != nil {
			if errors.Is(err, leadapi.ErrInvalidRequest) {
				return err
			}
			if derr := store.SaveDraft(storage.Draft{CampaignID: id, LeadID: leadID, Body: body}); derr != nil {
				printWarning("saving draft failed: %v", derr)
			} else {
				printWarning("Message kept as a draft")
			}
			return explain(err)
		}
		if err := store.DeleteDraft(id, leadID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			printWarning("clearing draft failed: %v", err)
		}

		if handled, err := emit(cmd.OutOrStdout(), msg); handled {
			return err
		}
		printSuccess("Sent to %s", leadID)
		return nil
	},
}

var inboxWatchCmd = &cobra.Command{
	Use:   "watch <campaign-id>",
	Short: "Follow a campaign inbox live and answer from the terminal",
	Long: `Follow a campaign inbox. The inbox refreshes in the background and is
redrawn when something changes.

Type a line to send it to the selected conversation.
  /select <lead-id>   switch conversation
  /open <campaign-id> switch campaign
  /refresh            refresh now
  /quit               exit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCampaignID(args[0])
		if err != nil {
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

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w := &inboxRenderer{w: cmd.OutOrStdout()}
		p := inbox.New(a.api, cfg.PollInterval())
		p.OnChange(w.render)
		p.Open(id)

		// The input loop ends when polling stops on its own, e.g. after a 401.
		inputCtx, cancelInput := context.WithCancel(ctx)
		defer cancelInput()
		runErr := make(chan error, 1)
		go func() {
			err := p.Run(ctx)
			cancelInput()
			runErr <- err
		}()

		err = watchInput(inputCtx, cmd.InOrStdin(), p, store)
		stop()
		if rerr := <-runErr; errors.Is(rerr, leadapi.ErrUnauthorized) {
			err = rerr
		}

		if v := p.View(); v.Inbox != nil {
			if serr := store.SaveInbox(*v.Inbox); serr != nil {
				printWarning("caching inbox failed: %v", serr)
			}
		}
		if errors.Is(err, leadapi.ErrUnauthorized) {
			return explain(err)
		}
		return err
	},
}

// watchInput reads compose lines and commands until /quit, EOF or ctx ends.
func watchInput(ctx context.Context, r io.Reader, p *inbox.Poller, store *storage.Store) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/refresh":
			if _, err := p.Refresh(ctx, false); err != nil {
				printError("%v", explain(err))
			}
		case strings.HasPrefix(line, "/select "):
			leadID := strings.TrimSpace(strings.TrimPrefix(line, "/select "))
			if !p.Select(leadID) {
				printError("lead %s is not in this inbox", leadID)
			}
		case strings.HasPrefix(line, "/open "):
			id, err := parseCampaignID(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
			if err != nil {
				printError("%v", err)
				continue
			}
			p.Open(id)
		case strings.HasPrefix(line, "/"):
			printError("unknown command %s", line)
		default:
			p.SetCompose(line)
			if err := p.SendCompose(ctx); err != nil {
				v := p.View()
				if !errors.Is(err, inbox.ErrEmptyMessage) && !errors.Is(err, inbox.ErrNoConversation) {
					draft := storage.Draft{CampaignID: v.CampaignID, LeadID: v.SelectedLeadID, Body: line}
					if derr := store.SaveDraft(draft); derr != nil {
						printWarning("saving draft failed: %v", derr)
					}
				}
				if errors.Is(err, leadapi.ErrUnauthorized) {
					return err
				}
				printError("%v", explain(err))
			}
		}
	}
}

// inboxRenderer redraws the inbox when its content or selection changes
// and reports each distinct error once.
type inboxRenderer struct {
	mu      sync.Mutex
	w       io.Writer
	last    string
	lastErr string
}

func (r *inboxRenderer) render(v inbox.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg, ok := r.newErr(v); ok {
		printError("%s", msg)
	}
	if v.Inbox == nil || v.Syncing || v.Sending {
		return
	}
	key := fingerprint(v)
	if key == r.last {
		return
	}
	r.last = key

	fmt.Fprintln(r.w)
	printInbox(r.w, *v.Inbox, v.SelectedLeadID)
	if conv, ok := v.Active(); ok {
		fmt.Fprintln(r.w)
		printThread(r.w, conv)
	}
}

// newErr returns the message for v.Err when it differs from the last one
// reported. Session errors are left to the command, which exits with a
// login hint.
func (r *inboxRenderer) newErr(v inbox.View) (string, bool) {
	if v.Syncing {
		return "", false
	}
	if v.Err == nil {
		r.lastErr = ""
		return "", false
	}
	if errors.Is(v.Err, leadapi.ErrUnauthorized) {
		return "", false
	}
	msg := explain(v.Err).Error()
	if msg == r.lastErr {
		return "", false
	}
	r.lastErr = msg
	return msg, true
}

func fingerprint(v inbox.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s", v.CampaignID, v.SelectedLeadID)
	for _, c := range v.Inbox.Conversations {
		fmt.Fprintf(&b, "|%s:%s:%d", c.LeadID, c.Status, len(c.Messages))
	}
	return b.String()
}

func printInbox(w io.Writer, in leadapi.Inbox, selected string) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Campaign:"), in.CampaignName)
	if len(in.Conversations) == 0 {
		fmt.Fprintln(w, "  No conversations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range in.Conversations {
		marker := " "
		if c.LeadID == selected {
			marker = colorize(colorCyan, ">")
		}
		preview := ""
		if n := len(c.Messages); n > 0 {
			preview = truncate(c.Messages[n-1].Body, 40)
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\t%s\n",
			marker,
			colorize(colorCyan, c.LeadID),
			c.OwnerName,
			colorize(statusColor(c.Status), campaign.StatusLabel(c.Status)),
			c.LastActivityAt.Local().Format("01-02 15:04"),
			preview,
		)
	}
	tw.Flush()
}

func printThread(w io.Writer, c leadapi.Conversation) {
	fmt.Fprintf(w, "%s  %s  %s\n", colorize(colorBold, c.OwnerName), c.PhoneNumber, colorize(colorDim, c.Address))
	if len(c.Messages) == 0 {
		fmt.Fprintln(w, "  No messages yet.")
		return
	}
	for _, m := range c.Messages {
		who, color := "them", colorYellow
		if m.Outbound() {
			who, color = "you", colorGreen
		}
		fmt.Fprintf(w, "  %s %s %s\n",
			colorize(colorDim, m.CreatedAt.Local().Format("01-02 15:04")),
			colorize(color, who+":"),
			m.Body,
		)
	}
}

func init() {
	inboxShowCmd.Flags().Bool("offline", false, "show the cached inbox without contacting the server")
	inboxShowCmd.Flags().String("lead", "", "show the thread of one lead")
	inboxCmd.AddCommand(inboxShowCmd, inboxSendCmd, inboxWatchCmd)
}
