package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/leadctl/internal/leadapi"
)

var (
	// ErrEmptyMessage is returned for blank or whitespace-only message bodies.
	// No request is made.
	ErrEmptyMessage = errors.New("message body is empty")
	// ErrNoCampaign is returned when no campaign has been opened.
	ErrNoCampaign = errors.New("no campaign open")
	// ErrNoConversation is returned when sending without a selected conversation.
	ErrNoConversation = errors.New("no conversation selected")
)

// DefaultInterval is the background refresh period.
const DefaultInterval = 5 * time.Second

// State is the lifecycle of the inbox view for one campaign.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Refreshing:
		return "refreshing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Source is the part of the LeadService the poller needs.
type Source interface {
	CampaignInbox(ctx context.Context, campaignID int) (leadapi.Inbox, error)
	SendMessage(ctx context.Context, req leadapi.SendMessageRequest) (leadapi.Message, error)
}

// View is a point-in-time copy of the poller state for rendering.
// Inbox is shared with the poller and must not be modified.
type View struct {
	CampaignID     int
	State          State
	Inbox          *leadapi.Inbox
	SelectedLeadID string
	Syncing        bool
	Sending        bool
	Compose        string
	Err            error
}

// Active returns the selected conversation, if it is in the snapshot.
func (v View) Active() (leadapi.Conversation, bool) {
	if v.Inbox == nil || v.SelectedLeadID == "" {
		return leadapi.Conversation{}, false
	}
	return v.Inbox.Conversation(v.SelectedLeadID)
}

// Poller keeps a campaign's conversation snapshot fresh.
//
// Each Open starts a new generation; responses that complete for an older
// generation are dropped. At most one fetch runs per generation: timer
// refreshes arriving while busy are skipped, and a forced refresh is folded
// into a single trailing refetch.
type Poller struct {
	src      Source
	interval time.Duration
	logger   *slog.Logger

	switched chan struct{}

	mu         sync.Mutex
	onChange   func(View)
	campaignID int
	gen        uint64
	state      State
	inbox      *leadapi.Inbox
	selected   string
	loaded     bool
	inflight   bool
	pending    bool
	syncing    bool
	sending    bool
	compose    string
	lastErr    error
}

// New creates a Poller. If interval <= 0 it defaults to DefaultInterval.
func New(src Source, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		src:      src,
		interval: interval,
		logger:   slog.Default(),
		switched: make(chan struct{}, 1),
	}
}

// OnChange registers fn to receive a View after every state change. fn is
// called without the poller lock held, possibly from several goroutines.
func (p *Poller) OnChange(fn func(View)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Open binds the poller to campaignID and resets it to Idle. Opening the
// campaign that is already open is a no-op. Open(0) detaches the poller.
func (p *Poller) Open(campaignID int) {
	p.mu.Lock()
	if campaignID == p.campaignID {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.campaignID = campaignID
	p.state = Idle
	p.inbox = nil
	p.selected = ""
	p.loaded = false
	p.inflight = false
	p.pending = false
	p.syncing = false
	p.sending = false
	p.compose = ""
	p.lastErr = nil
	p.mu.Unlock()

	select {
	case p.switched <- struct{}{}:
	default:
	}
	p.notify()
}

// Close detaches the poller; in-flight responses are discarded.
func (p *Poller) Close() {
	p.Open(0)
}

// View returns the current state.
func (p *Poller) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

func (p *Poller) viewLocked() View {
	return View{
		CampaignID:     p.campaignID,
		State:          p.state,
		Inbox:          p.inbox,
		SelectedLeadID: p.selected,
		Syncing:        p.syncing,
		Sending:        p.sending,
		Compose:        p.compose,
		Err:            p.lastErr,
	}
}

func (p *Poller) notify() {
	p.mu.Lock()
	fn := p.onChange
	v := p.viewLocked()
	p.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

// Select focuses the conversation for leadID. It reports false if the lead
// is not in the current snapshot.
func (p *Poller) Select(leadID string) bool {
	p.mu.Lock()
	if p.inbox == nil {
		p.mu.Unlock()
		return false
	}
	if _, ok := p.inbox.Conversation(leadID); !ok {
		p.mu.Unlock()
		return false
	}
	p.selected = leadID
	p.mu.Unlock()
	p.notify()
	return true
}

// SetCompose replaces the compose field.
func (p *Poller) SetCompose(body string) {
	p.mu.Lock()
	p.compose = body
	p.mu.Unlock()
	p.notify()
}

// Load performs the initial, non-silent fetch.
func (p *Poller) Load(ctx context.Context) error {
	_, err := p.fetch(ctx, false)
	return err
}

// Refresh refetches the snapshot. Silent refreshes only raise the Syncing
// flag. It reports whether a fetch was started by this call; false means
// another fetch was already in flight or the response was stale.
func (p *Poller) Refresh(ctx context.Context, silent bool) (bool, error) {
	return p.fetch(ctx, silent)
}

func (p *Poller) fetch(ctx context.Context, silent bool) (bool, error) {
	p.mu.Lock()
	if p.campaignID == 0 {
		p.mu.Unlock()
		return false, ErrNoCampaign
	}
	if p.inflight {
		if !silent {
			p.pending = true
		}
		p.mu.Unlock()
		return false, nil
	}
	p.inflight = true
	gen, campaignID := p.gen, p.campaignID
	p.beginLocked(silent)
	p.mu.Unlock()
	p.notify()

	for {
		snapshot, err := p.src.CampaignInbox(ctx, campaignID)

		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			p.logger.Debug("discarding stale inbox response", "campaign_id", campaignID)
			return false, nil
		}
		if err != nil {
			p.lastErr = err
			p.logger.Error("inbox refresh failed", "campaign_id", campaignID, "error", err)
		} else {
			p.applyLocked(snapshot)
		}
		again := p.pending && ctx.Err() == nil
		p.pending = false
		if !again {
			p.inflight = false
			p.settleLocked()
			p.mu.Unlock()
			p.notify()
			return true, err
		}
		p.beginLocked(false)
		p.mu.Unlock()
		p.notify()
	}
}

func (p *Poller) beginLocked(silent bool) {
	if silent && p.inbox != nil {
		p.state = Refreshing
		p.syncing = true
		return
	}
	p.state = Loading
}

func (p *Poller) settleLocked() {
	p.syncing = false
	if p.inbox != nil {
		p.state = Ready
	} else {
		p.state = Idle
	}
}

func (p *Poller) applyLocked(snapshot leadapi.Inbox) {
	p.inbox = &snapshot
	p.lastErr = nil
	if p.selected != "" {
		if _, ok := snapshot.Conversation(p.selected); !ok {
			p.selected = ""
		}
	}
	if !p.loaded {
		p.loaded = true
		if p.selected == "" && len(snapshot.Conversations) > 0 {
			p.selected = snapshot.Conversations[0].LeadID
		}
	}
}

// SendMessage sends body to leadID in the open campaign and then forces a
// non-silent refresh. Blank bodies are rejected without a request. On
// failure the compose field is left as is so the user can retry.
func (p *Poller) SendMessage(ctx context.Context, leadID, body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}

	p.mu.Lock()
	campaignID, gen := p.campaignID, p.gen
	if campaignID == 0 {
		p.mu.Unlock()
		return ErrNoCampaign
	}
	p.sending = true
	p.mu.Unlock()
	p.notify()

	_, err := p.src.SendMessage(ctx, leadapi.SendMessageRequest{
		LeadID:     leadID,
		Body:       body,
		CampaignID: campaignID,
	})

	p.mu.Lock()
	current := p.gen == gen
	if current {
		p.sending = false
		if err != nil {
			p.lastErr = err
		} else if p.compose == body {
			p.compose = ""
		}
	}
	p.mu.Unlock()
	p.notify()

	if err != nil {
		p.logger.Error("send failed", "campaign_id", campaignID, "lead_id", leadID, "error", err)
		return fmt.Errorf("sending message: %w", err)
	}
	if current {
		p.fetch(ctx, false)
	}
	return nil
}

// SendCompose sends the compose field to the selected conversation.
func (p *Poller) SendCompose(ctx context.Context) error {
	p.mu.Lock()
	leadID, body := p.selected, p.compose
	p.mu.Unlock()

	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	if leadID == "" {
		return ErrNoConversation
	}
	return p.SendMessage(ctx, leadID, body)
}

// Run loads the open campaign and refreshes it silently every interval
// until ctx is cancelled. Opening another campaign restarts the cycle with
// an immediate load. Run stops and returns the error when the service
// rejects the session.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.loadCurrent(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.switched:
			if err := p.loadCurrent(ctx); err != nil {
				return err
			}
			ticker.Reset(p.interval)
		case <-ticker.C:
			_, err := p.Refresh(ctx, true)
			switch {
			case err == nil, errors.Is(err, ErrNoCampaign):
			case errors.Is(err, leadapi.ErrUnauthorized):
				return err
			default:
				p.logger.Debug("background refresh", "error", err)
			}
		}
	}
}

// loadCurrent runs the initial load and returns only session errors.
func (p *Poller) loadCurrent(ctx context.Context) error {
	select {
	case <-p.switched:
	default:
	}
	err := p.Load(ctx)
	switch {
	case err == nil, errors.Is(err, ErrNoCampaign):
		return nil
	case errors.Is(err, leadapi.ErrUnauthorized):
		return err
	}
	p.logger.Debug("initial load", "error", err)
	return nil
}
