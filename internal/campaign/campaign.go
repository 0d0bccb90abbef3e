// Package campaign prepares SMS campaigns from purchased leads and groups
// campaigns for display.
package campaign

import (
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/kalambet/leadctl/internal/leadapi"
)

// ErrNoRecipients is returned when none of the selected leads has a phone number.
var ErrNoRecipients = errors.New("none of the selected leads have phone numbers")

// DefaultTemplate is the initial outreach message.
const DefaultTemplate = "Hi {name}, I saw your property at {address}. Are you interested in selling?"

// Recipients returns the leads that can be texted and how many were skipped
// for lacking a phone number.
func Recipients(leads []leadapi.Lead) (valid []leadapi.Lead, skipped int, err error) {
	for _, l := range leads {
		if hasPhone(l) {
			valid = append(valid, l)
		} else {
			skipped++
		}
	}
	if len(valid) == 0 {
		return nil, skipped, ErrNoRecipients
	}
	return valid, skipped, nil
}

func hasPhone(l leadapi.Lead) bool {
	for _, p := range l.PhoneNumbers {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}

// BuildStart validates the campaign fields and returns a start request
// targeting only the leads with phone numbers, plus the skipped count.
func BuildStart(name, template string, leads []leadapi.Lead) (leadapi.StartCampaignRequest, int, error) {
	req := leadapi.StartCampaignRequest{Name: strings.TrimSpace(name), TemplateBody: template}
	valid, skipped, err := Recipients(leads)
	if err != nil {
		return req, skipped, err
	}
	for _, l := range valid {
		req.LeadIDs = append(req.LeadIDs, l.RadarID)
	}
	if err := req.Validate(); err != nil {
		return req, skipped, err
	}
	return req, skipped, nil
}

// Render fills the {name} and {address} placeholders for lead. The server
// performs the real substitution; this is used for previews.
func Render(template string, lead leadapi.Lead) string {
	r := strings.NewReplacer(
		"{name}", FirstName(lead.OwnerName),
		"{address}", Street(lead.Address),
	)
	return r.Replace(template)
}

// FirstName returns the title-cased first word of an owner name, or
// "there" when the name is blank.
func FirstName(owner string) string {
	fields := strings.Fields(owner)
	if len(fields) == 0 {
		return "there"
	}
	return titleCase(fields[0])
}

// Street returns the title-cased street part of an address ("123 MAIN ST,
// RICHMOND, VA" becomes "123 Main St"), or "your property" when blank.
func Street(address string) string {
	street := strings.TrimSpace(strings.SplitN(address, ",", 2)[0])
	if street == "" {
		return "your property"
	}
	return titleCase(street)
}

func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	upper := true
	for _, r := range s {
		if unicode.IsLetter(r) {
			if upper {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(unicode.ToLower(r))
			}
			upper = false
			continue
		}
		b.WriteRune(r)
		upper = true
	}
	return b.String()
}

// DefaultDelimiter separates a campaign's group prefix from the rest of its name.
const DefaultDelimiter = " - "

// Group is a set of archived campaigns sharing a name prefix.
type Group struct {
	Name      string
	Campaigns []leadapi.Campaign
}

// GroupArchived splits campaigns into active ones (in input order) and
// archived ones grouped by the name prefix before delimiter. Archived
// campaigns without the delimiter form a group named after themselves.
// Groups are sorted by name. The grouping is for display only.
func GroupArchived(campaigns []leadapi.Campaign, delimiter string) (active []leadapi.Campaign, archived []Group) {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	index := make(map[string]int)
	for _, c := range campaigns {
		if c.Status != leadapi.CampaignArchived {
			active = append(active, c)
			continue
		}
		key := strings.TrimSpace(c.Name)
		if prefix, _, ok := strings.Cut(c.Name, delimiter); ok {
			key = strings.TrimSpace(prefix)
		}
		i, ok := index[key]
		if !ok {
			i = len(archived)
			index[key] = i
			archived = append(archived, Group{Name: key})
		}
		archived[i].Campaigns = append(archived[i].Campaigns, c)
	}
	sort.SliceStable(archived, func(i, j int) bool { return archived[i].Name < archived[j].Name })
	return active, archived
}

// CampaignLabel returns the badge text for a campaign status.
func CampaignLabel(status string) string {
	switch status {
	case leadapi.CampaignProcessing:
		return "SENDING"
	case leadapi.CampaignCompleted:
		return "DONE"
	case leadapi.CampaignArchived:
		return "ARCHIVED"
	case "":
		return "UNKNOWN"
	}
	return strings.ToUpper(status)
}

// StatusLabel returns the badge text for a conversation status.
func StatusLabel(status string) string {
	switch status {
	case leadapi.ConversationReplied:
		return "REPLIED"
	case leadapi.ConversationSent:
		return "SENT"
	case leadapi.ConversationQueued:
		return "QUEUED"
	case leadapi.ConversationFailed:
		return "FAILED"
	case "":
		return "UNKNOWN"
	}
	return strings.ToUpper(status)
}
