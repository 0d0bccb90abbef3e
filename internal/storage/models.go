package storage

import (
	"errors"
	"time"

	"github.com/kalambet/leadctl/internal/leadapi"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ScanSnapshot is a scan result saved after a scan or an enrichment.
type ScanSnapshot struct {
	ID        int64
	Criteria  leadapi.ScanRequest
	Result    leadapi.ScanResult
	CreatedAt time.Time
}

// InboxSnapshot is the last successfully fetched inbox of a campaign.
type InboxSnapshot struct {
	Inbox     leadapi.Inbox
	FetchedAt time.Time
}

// Draft is an unsent message body for one conversation.
type Draft struct {
	CampaignID int
	LeadID     string
	Body       string
	UpdatedAt  time.Time
}
