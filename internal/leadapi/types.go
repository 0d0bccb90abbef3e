package leadapi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Lead is a purchased (enriched) property record. The client never edits a
// Lead; fresher copies from the server replace it wholesale.
type Lead struct {
	RadarID        string   `json:"radar_id" yaml:"radar_id"`
	Address        string   `json:"address" yaml:"address"`
	City           string   `json:"city" yaml:"city"`
	State          string   `json:"state" yaml:"state"`
	OwnerName      string   `json:"owner_name" yaml:"owner_name"`
	IsPurchased    bool     `json:"is_purchased" yaml:"is_purchased"`
	EquityValue    float64  `json:"equity_value" yaml:"equity_value"`
	EstimatedValue float64  `json:"estimated_value" yaml:"estimated_value"`
	Beds           int      `json:"beds" yaml:"beds"`
	Baths          float64  `json:"baths" yaml:"baths"`
	SqFt           int      `json:"sq_ft" yaml:"sq_ft"`
	YearBuilt      int      `json:"year_built" yaml:"year_built"`
	PhoneNumbers   []string `json:"phone_numbers" yaml:"phone_numbers"`
	Emails         []string `json:"emails" yaml:"emails"`
}

// LeadPreview is an unpurchased scan row. ID shares the radar_id value space.
type LeadPreview struct {
	ID        string `json:"id" yaml:"id"`
	Address   string `json:"address,omitempty" yaml:"address,omitempty"`
	City      string `json:"city,omitempty" yaml:"city,omitempty"`
	State     string `json:"state,omitempty" yaml:"state,omitempty"`
	OwnerName string `json:"owner_name,omitempty" yaml:"owner_name,omitempty"`
}

// ScanResult partitions the leads of one scan into new previews and leads
// the user already owns. The two lists are disjoint by id and the counts
// always equal the list lengths.
type ScanResult struct {
	NewCount       int           `json:"new_count" yaml:"new_count"`
	Leads          []LeadPreview `json:"leads" yaml:"leads"`
	PurchasedCount int           `json:"purchased_count" yaml:"purchased_count"`
	PurchasedLeads []Lead        `json:"purchased_leads" yaml:"purchased_leads"`
}

// Campaign statuses.
const (
	CampaignProcessing = "processing"
	CampaignCompleted  = "completed"
	CampaignArchived   = "archived"
)

type Campaign struct {
	ID         int       `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Status     string    `json:"status" yaml:"status"`
	TotalLeads int       `json:"total_leads" yaml:"total_leads"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Conversation statuses.
const (
	ConversationQueued  = "queued"
	ConversationSent    = "sent"
	ConversationReplied = "replied"
	ConversationFailed  = "failed"
)

// Conversation is the thread between the campaign and one lead.
type Conversation struct {
	LeadID         string    `json:"lead_id" yaml:"lead_id"`
	OwnerName      string    `json:"owner_name" yaml:"owner_name"`
	PhoneNumber    string    `json:"phone_number" yaml:"phone_number"`
	Address        string    `json:"address" yaml:"address"`
	Status         string    `json:"status" yaml:"status"`
	LastActivityAt time.Time `json:"last_activity_at" yaml:"last_activity_at"`
	Messages       []Message `json:"messages" yaml:"messages"`
}

// Message directions. Outbound variants share the "outbound" prefix.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Message struct {
	ID        int       `json:"id" yaml:"id"`
	Direction string    `json:"direction" yaml:"direction"`
	Body      string    `json:"body" yaml:"body"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Outbound reports whether the message was sent by the user or a campaign.
func (m Message) Outbound() bool {
	return strings.HasPrefix(m.Direction, DirectionOutbound)
}

// Inbox is the full conversation snapshot of a campaign.
type Inbox struct {
	CampaignID    int            `json:"campaign_id" yaml:"campaign_id"`
	CampaignName  string         `json:"campaign_name" yaml:"campaign_name"`
	Conversations []Conversation `json:"conversations" yaml:"conversations"`
}

// Conversation returns the conversation for leadID, if present.
func (in Inbox) Conversation(leadID string) (Conversation, bool) {
	for _, c := range in.Conversations {
		if c.LeadID == leadID {
			return c, true
		}
	}
	return Conversation{}, false
}

// HistoryEntry is one past scan batch.
type HistoryEntry struct {
	ID           int       `json:"id" yaml:"id"`
	City         string    `json:"city" yaml:"city"`
	Strategy     string    `json:"strategy" yaml:"strategy"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	TotalResults int       `json:"total_results" yaml:"total_results"`
}

type User struct {
	ID       int    `json:"id" yaml:"id"`
	Email    string `json:"email" yaml:"email"`
	FullName string `json:"full_name" yaml:"full_name"`
}

// --- requests ---

// ErrInvalidRequest is wrapped by every request validation failure.
var ErrInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

type LoginRequest struct {
	Username string
	Password string
}

func (r LoginRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return invalid("username is required")
	}
	if r.Password == "" {
		return invalid("password is required")
	}
	return nil
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (r SignupRequest) Validate() error {
	if !strings.Contains(r.Email, "@") {
		return invalid("a valid email is required")
	}
	if r.Password == "" {
		return invalid("password is required")
	}
	return nil
}

// ScanRequest holds the search criteria for one area scan.
type ScanRequest struct {
	State    string `json:"state" yaml:"state"`
	City     string `json:"city" yaml:"city"`
	Strategy string `json:"strategy" yaml:"strategy"`
}

func (r ScanRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.State) == "":
		return invalid("state is required")
	case strings.TrimSpace(r.City) == "":
		return invalid("city is required")
	case strings.TrimSpace(r.Strategy) == "":
		return invalid("strategy is required")
	}
	return nil
}

type EnrichRequest struct {
	RadarIDs []string `json:"radar_ids"`
	State    string   `json:"state"`
	City     string   `json:"city"`
	Strategy string   `json:"strategy"`
}

func (r EnrichRequest) Validate() error {
	if len(r.RadarIDs) == 0 {
		return invalid("at least one radar id is required")
	}
	return ScanRequest{State: r.State, City: r.City, Strategy: r.Strategy}.Validate()
}

// EnrichResult is what /search/enrich returned. Some backends answer with
// the enriched leads, others only acknowledge how many were saved.
type EnrichResult struct {
	Leads      []Lead
	SavedCount int
}

type StartCampaignRequest struct {
	Name         string   `json:"name"`
	TemplateBody string   `json:"template_body"`
	LeadIDs      []string `json:"lead_ids"`
}

func (r StartCampaignRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return invalid("campaign name is required")
	case strings.TrimSpace(r.TemplateBody) == "":
		return invalid("template body is required")
	case len(r.LeadIDs) == 0:
		return invalid("lead list cannot be empty")
	}
	return nil
}

type SendMessageRequest struct {
	LeadID     string `json:"lead_id"`
	Body       string `json:"body"`
	CampaignID int    `json:"campaign_id"`
}

func (r SendMessageRequest) Validate() error {
	switch {
	case r.LeadID == "":
		return invalid("lead id is required")
	case strings.TrimSpace(r.Body) == "":
		return invalid("message body is empty")
	case r.CampaignID <= 0:
		return invalid("campaign id is required")
	}
	return nil
}
