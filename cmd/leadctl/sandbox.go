package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/leadctl/internal/fakeapi"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Run an in-memory LeadService for local demos",
	Long: `Run an in-memory LeadService on localhost. Leads are generated per city,
campaigns deliver after --send-delay and some leads answer on their own.
All state is lost when the sandbox stops.

Examples:
  leadctl sandbox
  leadctl sandbox --port 9000 --user ann@example.com:hunter2 --reply-delay 10s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Sandbox.Port
		}
		autoReply, _ := cmd.Flags().GetBool("auto-reply")
		if !cmd.Flags().Changed("auto-reply") {
			autoReply = cfg.Sandbox.AutoReply
		}
		sendDelay, _ := cmd.Flags().GetDuration("send-delay")
		replyDelay, _ := cmd.Flags().GetDuration("reply-delay")
		leadsPerArea, _ := cmd.Flags().GetInt("leads")
		enrichLeads, _ := cmd.Flags().GetBool("enrich-returns-leads")
		userSpecs, _ := cmd.Flags().GetStringSlice("user")

		users := make(map[string]string, len(userSpecs))
		for _, spec := range userSpecs {
			email, password, ok := strings.Cut(spec, ":")
			if !ok || email == "" || password == "" {
				return fmt.Errorf("invalid --user %q (want email:password)", spec)
			}
			users[email] = password
		}

		sb := fakeapi.New(fakeapi.Options{
			LeadsPerArea:       leadsPerArea,
			SendDelay:          sendDelay,
			AutoReply:          autoReply,
			ReplyDelay:         replyDelay,
			EnrichReturnsLeads: enrichLeads,
			Users:              users,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addr := fmt.Sprintf("127.0.0.1:%d", port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           sb.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}

		// Start server in a goroutine.
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		printSuccess("Sandbox listening on http://%s/api", addr)
		for email := range users {
			printStatus("User", "%s", email)
		}
		if fmt.Sprintf("http://%s/api", addr) != strings.TrimRight(cfg.API.BaseURL, "/") {
			printStep("Point leadctl at it: leadctl config set api.base_url http://%s/api", addr)
		}

		// Wait for signal or server error.
		select {
		case <-ctx.Done():
			slog.Info("shutting down sandbox")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("sandbox server error: %w", err)
			}
		}

		// Graceful shutdown with timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	sandboxCmd.Flags().Int("port", 9999, "port to listen on (default from sandbox.port)")
	sandboxCmd.Flags().Bool("auto-reply", true, "let some leads reply automatically (default from sandbox.auto_reply)")
	sandboxCmd.Flags().Duration("send-delay", 3*time.Second, "time a started campaign stays in processing")
	sandboxCmd.Flags().Duration("reply-delay", 20*time.Second, "time before an automatic reply arrives")
	sandboxCmd.Flags().Int("leads", 15, "leads generated per city")
	sandboxCmd.Flags().Bool("enrich-returns-leads", false, "answer enrich with the leads instead of an acknowledgement")
	sandboxCmd.Flags().StringSlice("user", []string{"demo@leadctl.dev:demo"}, "seed account as email:password (repeatable)")
}
