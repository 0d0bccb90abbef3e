package leadapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// --- auth ---

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return TokenResponse{}, err
	}
	form := url.Values{}
	form.Set("username", req.Username)
	form.Set("password", req.Password)

	var out TokenResponse
	if err := c.doForm(ctx, "/auth/login", form, &out); err != nil {
		return TokenResponse{}, fmt.Errorf("login: %w", err)
	}
	if out.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("login: server returned no access token")
	}
	return out, nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (User, error) {
	if err := req.Validate(); err != nil {
		return User{}, err
	}
	var out User
	if err := c.doJSON(ctx, http.MethodPost, "/auth/signup", req, &out); err != nil {
		return User{}, fmt.Errorf("signup: %w", err)
	}
	return out, nil
}

// Me returns the profile of the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return User{}, fmt.Errorf("fetching current user: %w", err)
	}
	return out, nil
}

// --- search ---

func (c *Client) Scan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	if err := req.Validate(); err != nil {
		return ScanResult{}, err
	}
	var out ScanResult
	if err := c.doJSON(ctx, http.MethodPost, "/search/scan", req, &out); err != nil {
		return ScanResult{}, fmt.Errorf("scanning %s, %s: %w", req.City, req.State, err)
	}
	out.NewCount = len(out.Leads)
	out.PurchasedCount = len(out.PurchasedLeads)
	return out, nil
}

// Enrich purchases (or refreshes) the given leads.
func (c *Client) Enrich(ctx context.Context, req EnrichRequest) (EnrichResult, error) {
	if err := req.Validate(); err != nil {
		return EnrichResult{}, err
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/search/enrich", req, &raw); err != nil {
		return EnrichResult{}, fmt.Errorf("enriching %d leads: %w", len(req.RadarIDs), err)
	}
	res, err := decodeEnrich(raw)
	if err != nil {
		return EnrichResult{}, fmt.Errorf("enriching %d leads: %w", len(req.RadarIDs), err)
	}
	return res, nil
}

func decodeEnrich(raw json.RawMessage) (EnrichResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var leads []Lead
		if err := json.Unmarshal(trimmed, &leads); err != nil {
			return EnrichResult{}, fmt.Errorf("decoding leads: %w", err)
		}
		return EnrichResult{Leads: leads, SavedCount: len(leads)}, nil
	}
	var ack struct {
		Leads      []Lead `json:"leads"`
		SavedCount int    `json:"saved_count"`
	}
	if err := json.Unmarshal(trimmed, &ack); err != nil {
		return EnrichResult{}, fmt.Errorf("decoding enrich response: %w", err)
	}
	if ack.SavedCount == 0 {
		ack.SavedCount = len(ack.Leads)
	}
	return EnrichResult{Leads: ack.Leads, SavedCount: ack.SavedCount}, nil
}

// --- history ---

func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if err := c.doJSON(ctx, http.MethodGet, "/history/", nil, &out); err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	return out, nil
}

// HistoryLeads returns the leads of one past scan. Both a bare array and a
// {"leads": [...]} envelope are accepted.
func (c *Client) HistoryLeads(ctx context.Context, searchID int) ([]Lead, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/history/%d", searchID), nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching history %d: %w", searchID, err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var leads []Lead
		if err := json.Unmarshal(trimmed, &leads); err != nil {
			return nil, fmt.Errorf("decoding history %d: %w", searchID, err)
		}
		return leads, nil
	}
	var env struct {
		Leads []Lead `json:"leads"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decoding history %d: %w", searchID, err)
	}
	return env.Leads, nil
}

// --- campaigns ---

func (c *Client) Campaigns(ctx context.Context) ([]Campaign, error) {
	var out []Campaign
	if err := c.doJSON(ctx, http.MethodGet, "/campaigns/", nil, &out); err != nil {
		return nil, fmt.Errorf("fetching campaigns: %w", err)
	}
	return out, nil
}

func (c *Client) StartCampaign(ctx context.Context, req StartCampaignRequest) (Campaign, error) {
	if err := req.Validate(); err != nil {
		return Campaign{}, err
	}
	var out Campaign
	if err := c.doJSON(ctx, http.MethodPost, "/campaigns/start", req, &out); err != nil {
		return Campaign{}, fmt.Errorf("starting campaign %q: %w", req.Name, err)
	}
	return out, nil
}

func (c *Client) CampaignInbox(ctx context.Context, campaignID int) (Inbox, error) {
	var out Inbox
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/campaigns/%d/inbox", campaignID), nil, &out); err != nil {
		return Inbox{}, fmt.Errorf("fetching inbox for campaign %d: %w", campaignID, err)
	}
	if out.CampaignID == 0 {
		out.CampaignID = campaignID
	}
	return out, nil
}

// ToggleArchive archives an active campaign or restores an archived one.
func (c *Client) ToggleArchive(ctx context.Context, campaignID int) (Campaign, error) {
	var out Campaign
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/campaigns/%d/archive", campaignID), nil, &out); err != nil {
		return Campaign{}, fmt.Errorf("toggling archive for campaign %d: %w", campaignID, err)
	}
	return out, nil
}

func (c *Client) DeleteCampaign(ctx context.Context, campaignID int) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/campaigns/%d", campaignID), nil, nil); err != nil {
		return fmt.Errorf("deleting campaign %d: %w", campaignID, err)
	}
	return nil
}

// --- messages ---

// SendMessage sends one manual outbound message to a lead.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (Message, error) {
	if err := req.Validate(); err != nil {
		return Message{}, err
	}
	var out Message
	if err := c.doJSON(ctx, http.MethodPost, "/messages/send", req, &out); err != nil {
		return Message{}, fmt.Errorf("sending message to %s: %w", req.LeadID, err)
	}
	return out, nil
}
