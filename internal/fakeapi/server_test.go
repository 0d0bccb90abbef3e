package fakeapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/leadctl/internal/campaign"
	"github.com/kalambet/leadctl/internal/inbox"
	"github.com/kalambet/leadctl/internal/leadapi"
	"github.com/kalambet/leadctl/internal/scan"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memTokens struct {
	mu  sync.Mutex
	tok string
}

func (m *memTokens) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok
}

func (m *memTokens) Invalidate() {
	m.mu.Lock()
	m.tok = ""
	m.mu.Unlock()
}

const (
	testEmail    = "ann@example.com"
	testPassword = "hunter2"
)

var richmond = leadapi.ScanRequest{State: "VA", City: "Richmond", Strategy: "high_equity"}

func newSandbox(t *testing.T, opts Options) (*leadapi.Client, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	opts.Users = map[string]string{testEmail: testPassword}
	opts.Secret = []byte("sandbox-test-secret")

	srv := httptest.NewServer(New(opts).Handler())
	t.Cleanup(srv.Close)

	tokens := &memTokens{}
	c := leadapi.New(srv.URL+"/api", tokens, 5*time.Second)
	tok, err := c.Login(context.Background(), leadapi.LoginRequest{Username: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	tokens.tok = tok.AccessToken
	return c, clk
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := httptest.NewServer(New(Options{Users: map[string]string{testEmail: testPassword}}).Handler())
	defer srv.Close()

	c := leadapi.New(srv.URL+"/api", nil, 0)
	_, err := c.Login(context.Background(), leadapi.LoginRequest{Username: testEmail, Password: "wrong"})
	if !errors.Is(err, leadapi.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	srv := httptest.NewServer(New(Options{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/campaigns/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	c, clk := newSandbox(t, Options{TokenTTL: time.Minute})
	clk.Advance(2 * time.Minute)

	if _, err := c.Me(context.Background()); !errors.Is(err, leadapi.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSignupAndMe(t *testing.T) {
	srv := httptest.NewServer(New(Options{}).Handler())
	defer srv.Close()

	c := leadapi.New(srv.URL+"/api", nil, 0)
	ctx := context.Background()
	if _, err := c.Signup(ctx, leadapi.SignupRequest{Email: "bo@example.com", Password: "pw", FullName: "Bo"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	_, err := c.Signup(ctx, leadapi.SignupRequest{Email: "bo@example.com", Password: "pw"})
	var apiErr *leadapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "Email already registered" {
		t.Fatalf("duplicate signup err = %v", err)
	}

	tok, err := c.Login(ctx, leadapi.LoginRequest{Username: "bo@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	authed := leadapi.New(srv.URL+"/api", &memTokens{tok: tok.AccessToken}, 0)
	me, err := authed.Me(ctx)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.Email != "bo@example.com" || me.FullName != "Bo" {
		t.Errorf("Me = %+v", me)
	}
}

func TestScanIsDeterministic(t *testing.T) {
	c, _ := newSandbox(t, Options{LeadsPerArea: 6})
	ctx := context.Background()

	a, err := c.Scan(ctx, richmond)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	b, err := c.Scan(ctx, leadapi.ScanRequest{State: "va", City: " richmond ", Strategy: "absentee"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if a.NewCount != 6 || a.PurchasedCount != 0 {
		t.Fatalf("counts = (%d, %d), want (6, 0)", a.NewCount, a.PurchasedCount)
	}
	for i := range a.Leads {
		if a.Leads[i].ID != b.Leads[i].ID {
			t.Fatalf("lead %d differs between scans: %s vs %s", i, a.Leads[i].ID, b.Leads[i].ID)
		}
	}
}

// TestDashboardEnrichAgainstSandbox exercises the acknowledgement-only
// enrich response, which forces the dashboard to load the newest history
// batch before reconciling.
func TestDashboardEnrichAgainstSandbox(t *testing.T) {
	c, _ := newSandbox(t, Options{LeadsPerArea: 12})
	ctx := context.Background()

	d := scan.NewDashboard(c, 0)
	res, err := d.Scan(ctx, richmond)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if d.PurchaseLimit() != 10 {
		t.Fatalf("PurchaseLimit = %d, want 10", d.PurchaseLimit())
	}
	d.SetPurchaseLimit(4)
	bought := res.Leads[:4]

	merged, fresh, err := d.Enrich(ctx, nil)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(fresh) != 4 {
		t.Fatalf("fresh = %d leads, want 4", len(fresh))
	}
	if merged.NewCount != 8 || merged.PurchasedCount != 4 {
		t.Fatalf("counts = (%d, %d), want (8, 4)", merged.NewCount, merged.PurchasedCount)
	}
	for i, p := range bought {
		if merged.PurchasedLeads[i].RadarID != p.ID {
			t.Errorf("PurchasedLeads[%d] = %s, want %s", i, merged.PurchasedLeads[i].RadarID, p.ID)
		}
		if !merged.PurchasedLeads[i].IsPurchased {
			t.Errorf("lead %s not marked purchased", p.ID)
		}
	}

	// A fresh scan agrees with the locally reconciled result.
	rescan, err := c.Scan(ctx, richmond)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if rescan.NewCount != merged.NewCount || rescan.PurchasedCount != merged.PurchasedCount {
		t.Errorf("rescan counts = (%d, %d), reconciled = (%d, %d)",
			rescan.NewCount, rescan.PurchasedCount, merged.NewCount, merged.PurchasedCount)
	}
}

func TestEnrichReturningLeads(t *testing.T) {
	c, _ := newSandbox(t, Options{LeadsPerArea: 3, EnrichReturnsLeads: true})
	ctx := context.Background()

	res, err := c.Scan(ctx, richmond)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	out, err := c.Enrich(ctx, leadapi.EnrichRequest{
		RadarIDs: []string{res.Leads[0].ID, "unknown"},
		State:    richmond.State, City: richmond.City, Strategy: richmond.Strategy,
	})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(out.Leads) != 1 || out.Leads[0].RadarID != res.Leads[0].ID {
		t.Errorf("Leads = %+v", out.Leads)
	}
	if len(out.Leads[0].PhoneNumbers) != 1 {
		t.Errorf("enriched lead has no phone: %+v", out.Leads[0])
	}
}

func buyAll(t *testing.T, c *leadapi.Client) []leadapi.Lead {
	t.Helper()
	ctx := context.Background()
	res, err := c.Scan(ctx, richmond)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var ids []string
	for _, p := range res.Leads {
		ids = append(ids, p.ID)
	}
	if _, err := c.Enrich(ctx, leadapi.EnrichRequest{RadarIDs: ids, State: "VA", City: "Richmond", Strategy: "high_equity"}); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	history, err := c.History(ctx)
	if err != nil || len(history) == 0 {
		t.Fatalf("History: %v (%d entries)", err, len(history))
	}
	leads, err := c.HistoryLeads(ctx, history[0].ID)
	if err != nil {
		t.Fatalf("HistoryLeads: %v", err)
	}
	return leads
}

func TestCampaignLifecycle(t *testing.T) {
	c, clk := newSandbox(t, Options{LeadsPerArea: 5, SendDelay: time.Second})
	ctx := context.Background()

	leads := buyAll(t, c)
	req, skipped, err := campaign.BuildStart("Richmond - March", campaign.DefaultTemplate, leads)
	if err != nil {
		t.Fatalf("BuildStart: %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1 (every fifth lead lacks a phone)", skipped)
	}

	started, err := c.StartCampaign(ctx, req)
	if err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	if started.Status != leadapi.CampaignProcessing || started.TotalLeads != 4 {
		t.Errorf("started = %+v", started)
	}

	in, err := c.CampaignInbox(ctx, started.ID)
	if err != nil {
		t.Fatalf("CampaignInbox: %v", err)
	}
	for _, conv := range in.Conversations {
		if conv.Status != leadapi.ConversationQueued {
			t.Errorf("conversation %s status = %s before send delay", conv.LeadID, conv.Status)
		}
	}

	clk.Advance(time.Second)
	in, err = c.CampaignInbox(ctx, started.ID)
	if err != nil {
		t.Fatalf("CampaignInbox: %v", err)
	}
	if len(in.Conversations) != 4 {
		t.Fatalf("conversations = %d, want 4", len(in.Conversations))
	}
	first := in.Conversations[0]
	if first.Status != leadapi.ConversationSent || len(first.Messages) != 1 || !first.Messages[0].Outbound() {
		t.Errorf("first conversation = %+v", first)
	}
	if got, want := first.Messages[0].Body, campaign.Render(campaign.DefaultTemplate, leadByID(leads, first.LeadID)); got != want {
		t.Errorf("campaign body = %q, want %q", got, want)
	}

	list, err := c.Campaigns(ctx)
	if err != nil || len(list) != 1 || list[0].Status != leadapi.CampaignCompleted {
		t.Fatalf("Campaigns = %+v, %v", list, err)
	}

	archived, err := c.ToggleArchive(ctx, started.ID)
	if err != nil || archived.Status != leadapi.CampaignArchived {
		t.Fatalf("ToggleArchive = %+v, %v", archived, err)
	}
	restored, err := c.ToggleArchive(ctx, started.ID)
	if err != nil || restored.Status != leadapi.CampaignCompleted {
		t.Fatalf("ToggleArchive = %+v, %v", restored, err)
	}

	if err := c.DeleteCampaign(ctx, started.ID); err != nil {
		t.Fatalf("DeleteCampaign: %v", err)
	}
	_, err = c.CampaignInbox(ctx, started.ID)
	var apiErr *leadapi.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("inbox after delete err = %v, want 404", err)
	}
}

func leadByID(leads []leadapi.Lead, id string) leadapi.Lead {
	for _, l := range leads {
		if l.RadarID == id {
			return l
		}
	}
	return leadapi.Lead{}
}

func TestPollerAgainstSandbox(t *testing.T) {
	c, clk := newSandbox(t, Options{LeadsPerArea: 4, AutoReply: true, ReplyDelay: time.Minute})
	ctx := context.Background()

	leads := buyAll(t, c)
	req, _, err := campaign.BuildStart("Blast", campaign.DefaultTemplate, leads)
	if err != nil {
		t.Fatalf("BuildStart: %v", err)
	}
	started, err := c.StartCampaign(ctx, req)
	if err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}

	p := inbox.New(c, time.Hour)
	p.Open(started.ID)
	if err := p.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v := p.View()
	if v.SelectedLeadID != v.Inbox.Conversations[0].LeadID {
		t.Fatalf("selected %q after load, want first conversation", v.SelectedLeadID)
	}

	// Pick a lead further down the list; replying later moves it to the top.
	target := v.Inbox.Conversations[1].LeadID
	if !p.Select(target) {
		t.Fatalf("Select(%s) = false", target)
	}
	clk.Advance(30 * time.Second)
	p.SetCompose("Are you still there?")
	if err := p.SendCompose(ctx); err != nil {
		t.Fatalf("SendCompose: %v", err)
	}
	v = p.View()
	conv, ok := v.Active()
	if !ok || conv.LeadID != target {
		t.Fatalf("active conversation = %+v, %v", conv, ok)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Body != "Are you still there?" || !last.Outbound() {
		t.Errorf("last message = %+v", last)
	}
	if v.Compose != "" {
		t.Errorf("Compose = %q, want cleared", v.Compose)
	}

	clk.Advance(2 * time.Minute)
	if _, err := p.Refresh(ctx, true); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	v = p.View()
	if v.SelectedLeadID != target {
		t.Errorf("selection moved from %s to %s after reorder", target, v.SelectedLeadID)
	}
	conv, _ = v.Active()
	if conv.Status != leadapi.ConversationReplied {
		t.Errorf("status = %s, want replied", conv.Status)
	}
	if v.Inbox.Conversations[0].LeadID != target {
		t.Errorf("most recent conversation = %s, want %s first", v.Inbox.Conversations[0].LeadID, target)
	}
}

func TestSendMessageToLeadWithoutPhone(t *testing.T) {
	c, _ := newSandbox(t, Options{LeadsPerArea: 5})
	ctx := context.Background()

	leads := buyAll(t, c)
	req, _, err := campaign.BuildStart("Blast", campaign.DefaultTemplate, leads)
	if err != nil {
		t.Fatalf("BuildStart: %v", err)
	}
	started, err := c.StartCampaign(ctx, req)
	if err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}

	var noPhone string
	for _, l := range leads {
		if len(l.PhoneNumbers) == 0 {
			noPhone = l.RadarID
		}
	}
	_, err = c.SendMessage(ctx, leadapi.SendMessageRequest{LeadID: noPhone, Body: "hi", CampaignID: started.ID})
	var apiErr *leadapi.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}
