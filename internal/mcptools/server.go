// Package mcptools exposes LeadService campaigns, inboxes and scan history
// as MCP tools so an assistant can triage replies and answer leads.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/leadctl/internal/leadapi"
	"github.com/kalambet/leadctl/internal/storage"
)

// LeadService is the subset of the API client the tools call.
type LeadService interface {
	Campaigns(ctx context.Context) ([]leadapi.Campaign, error)
	CampaignInbox(ctx context.Context, campaignID int) (leadapi.Inbox, error)
	History(ctx context.Context) ([]leadapi.HistoryEntry, error)
	HistoryLeads(ctx context.Context, searchID int) ([]leadapi.Lead, error)
	SendMessage(ctx context.Context, req leadapi.SendMessageRequest) (leadapi.Message, error)
}

// Deps holds dependencies for the MCP server.
type Deps struct {
	Service LeadService
	Store   *storage.Store // optional; caches inboxes and keeps failed sends as drafts
	Version string
}

// NewServer creates an MCP server with all leadctl tools and resources registered.
func NewServer(deps Deps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"leadctl",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("leadctl: property leads, SMS campaigns and their reply inboxes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_campaigns",
			mcp.WithDescription("List SMS campaigns, newest first."),
			mcp.WithBoolean("include_archived", mcp.Description("Include archived campaigns (default false)")),
		),
		listCampaigns(deps),
	)

	s.AddTool(
		mcp.NewTool("campaign_inbox",
			mcp.WithDescription("Show the conversations of a campaign, most recent activity first."),
			mcp.WithNumber("campaign_id", mcp.Description("Campaign id"), mcp.Required()),
			mcp.WithBoolean("replied_only", mcp.Description("Only conversations where the lead answered")),
		),
		campaignInbox(deps),
	)

	s.AddTool(
		mcp.NewTool("scan_history",
			mcp.WithDescription("List past enrichment batches, or the leads of one batch when search_id is given."),
			mcp.WithNumber("search_id", mcp.Description("History entry id")),
		),
		scanHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a manual SMS to a lead within a campaign."),
			mcp.WithNumber("campaign_id", mcp.Description("Campaign id"), mcp.Required()),
			mcp.WithString("lead_id", mcp.Description("Lead id"), mcp.Required()),
			mcp.WithString("body", mcp.Description("Message text"), mcp.Required()),
		),
		sendMessage(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"leads://campaigns",
			"Campaigns",
			mcp.WithResourceDescription("All campaigns with status and lead counts as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		campaignsResource(deps),
	)

	return s
}

type campaignSummary struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	TotalLeads int    `json:"total_leads"`
	CreatedAt  string `json:"created_at"`
}

func summarize(c leadapi.Campaign) campaignSummary {
	return campaignSummary{
		ID:         c.ID,
		Name:       c.Name,
		Status:     c.Status,
		TotalLeads: c.TotalLeads,
		CreatedAt:  c.CreatedAt.Format("2006-01-02 15:04"),
	}
}

func listCampaigns(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		all, err := deps.Service.Campaigns(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing campaigns failed: %v", err)), nil
		}

		includeArchived := req.GetBool("include_archived", false)
		out := make([]campaignSummary, 0, len(all))
		for _, c := range all {
			if c.Status == leadapi.CampaignArchived && !includeArchived {
				continue
			}
			out = append(out, summarize(c))
		}
		return mcpJSON(out)
	}
}

type conversationSummary struct {
	LeadID       string `json:"lead_id"`
	OwnerName    string `json:"owner_name"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	Address      string `json:"address"`
	Status       string `json:"status"`
	LastActivity string `json:"last_activity"`
	LastMessage  string `json:"last_message,omitempty"`
	Messages     int    `json:"messages"`
}

func campaignInbox(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetInt("campaign_id", 0)
		if id <= 0 {
			return mcpError("campaign_id is required"), nil
		}

		in, err := deps.Service.CampaignInbox(ctx, id)
		if err != nil {
			cached, ok := cachedInbox(deps.Store, id)
			if !ok {
				return mcpError(fmt.Sprintf("loading inbox failed: %v", err)), nil
			}
			slog.Warn("serving cached inbox", "campaign_id", id, "error", err)
			in = cached
		} else if deps.Store != nil {
			if err := deps.Store.SaveInbox(in); err != nil {
				slog.Warn("caching inbox failed", "campaign_id", id, "error", err)
			}
		}

		repliedOnly := req.GetBool("replied_only", false)
		out := make([]conversationSummary, 0, len(in.Conversations))
		for _, c := range in.Conversations {
			if repliedOnly && c.Status != leadapi.ConversationReplied {
				continue
			}
			cs := conversationSummary{
				LeadID:       c.LeadID,
				OwnerName:    c.OwnerName,
				PhoneNumber:  c.PhoneNumber,
				Address:      c.Address,
				Status:       c.Status,
				LastActivity: c.LastActivityAt.Format("2006-01-02 15:04"),
				Messages:     len(c.Messages),
			}
			if n := len(c.Messages); n > 0 {
				cs.LastMessage = c.Messages[n-1].Body
			}
			out = append(out, cs)
		}
		return mcpJSON(out)
	}
}

func cachedInbox(store *storage.Store, campaignID int) (leadapi.Inbox, bool) {
	if store == nil {
		return leadapi.Inbox{}, false
	}
	snap, err := store.GetInbox(campaignID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("reading cached inbox failed", "campaign_id", campaignID, "error", err)
		}
		return leadapi.Inbox{}, false
	}
	return snap.Inbox, true
}

func scanHistory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if id := req.GetInt("search_id", 0); id > 0 {
			leads, err := deps.Service.HistoryLeads(ctx, id)
			if err != nil {
				return mcpError(fmt.Sprintf("loading history %d failed: %v", id, err)), nil
			}
			if leads == nil {
				leads = []leadapi.Lead{}
			}
			return mcpJSON(leads)
		}

		entries, err := deps.Service.History(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("loading history failed: %v", err)), nil
		}
		if entries == nil {
			entries = []leadapi.HistoryEntry{}
		}
		return mcpJSON(entries)
	}
}

func sendMessage(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		campaignID := req.GetInt("campaign_id", 0)
		if campaignID <= 0 {
			return mcpError("campaign_id is required"), nil
		}
		leadID, err := req.RequireString("lead_id")
		if err != nil {
			return mcpError("lead_id is required"), nil
		}
		body, err := req.RequireString("body")
		if err != nil || strings.TrimSpace(body) == "" {
			return mcpError("body is required"), nil
		}

		msg, err := deps.Service.SendMessage(ctx, leadapi.SendMessageRequest{
			LeadID:     leadID,
			Body:       body,
			CampaignID: campaignID,
		})
		if err != nil {
			if deps.Store != nil {
				draft := storage.Draft{CampaignID: campaignID, LeadID: leadID, Body: body}
				if derr := deps.Store.SaveDraft(draft); derr != nil {
					slog.Warn("saving draft failed", "campaign_id", campaignID, "lead_id", leadID, "error", derr)
				}
			}
			return mcpError(fmt.Sprintf("send failed: %v", err)), nil
		}

		if deps.Store != nil {
			if err := deps.Store.DeleteDraft(campaignID, leadID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				slog.Warn("clearing draft failed", "campaign_id", campaignID, "lead_id", leadID, "error", err)
			}
		}
		return mcpText(fmt.Sprintf("Sent message %d to %s", msg.ID, leadID)), nil
	}
}

func campaignsResource(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		all, err := deps.Service.Campaigns(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list campaigns: %w", err)
		}

		out := make([]campaignSummary, len(all))
		for i, c := range all {
			out[i] = summarize(c)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal campaigns: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
