package storage

import (
	"errors"
	"testing"

	"github.com/kalambet/leadctl/internal/leadapi"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestTablesExist(t *testing.T) {
	s := openTestStore(t)

	for _, table := range []string{"scan_snapshots", "inbox_snapshots", "drafts"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %q not found", table)
		}
	}
}

var richmond = leadapi.ScanRequest{State: "VA", City: "Richmond", Strategy: "high_equity"}

func TestSaveAndLatestScan(t *testing.T) {
	s := openTestStore(t)

	first := leadapi.ScanResult{NewCount: 1, Leads: []leadapi.LeadPreview{{ID: "a"}}}
	second := leadapi.ScanResult{
		Leads:          []leadapi.LeadPreview{},
		PurchasedCount: 1,
		PurchasedLeads: []leadapi.Lead{{RadarID: "a", OwnerName: "Ann", PhoneNumbers: []string{"1"}}},
	}
	other := leadapi.ScanRequest{State: "VA", City: "Norfolk", Strategy: "high_equity"}

	if _, err := s.SaveScan(richmond, first); err != nil {
		t.Fatalf("SaveScan: %v", err)
	}
	id, err := s.SaveScan(richmond, second)
	if err != nil {
		t.Fatalf("SaveScan: %v", err)
	}
	if _, err := s.SaveScan(other, first); err != nil {
		t.Fatalf("SaveScan: %v", err)
	}

	lookup := leadapi.ScanRequest{State: " va", City: "RICHMOND", Strategy: "high_equity"}
	got, err := s.LatestScan(&lookup)
	if err != nil {
		t.Fatalf("LatestScan: %v", err)
	}
	if got.ID != id {
		t.Errorf("ID = %d, want %d", got.ID, id)
	}
	if len(got.Result.PurchasedLeads) != 1 || got.Result.PurchasedLeads[0].OwnerName != "Ann" {
		t.Errorf("Result = %+v", got.Result)
	}

	newest, err := s.LatestScan(nil)
	if err != nil {
		t.Fatalf("LatestScan(nil): %v", err)
	}
	if newest.Criteria != other {
		t.Errorf("newest criteria = %+v, want %+v", newest.Criteria, other)
	}
}

func TestLatestScanKeepsCriteriaVerbatim(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.SaveScan(richmond, leadapi.ScanResult{}); err != nil {
		t.Fatalf("SaveScan: %v", err)
	}

	got, err := s.LatestScan(nil)
	if err != nil {
		t.Fatalf("LatestScan(nil): %v", err)
	}
	if got.Criteria != richmond {
		t.Errorf("Criteria = %+v, want %+v", got.Criteria, richmond)
	}

	lookup := leadapi.ScanRequest{State: "va ", City: "richmond", Strategy: "HIGH_EQUITY"}
	got, err = s.LatestScan(&lookup)
	if err != nil {
		t.Fatalf("LatestScan(%+v): %v", lookup, err)
	}
	if got.Criteria != richmond {
		t.Errorf("Criteria = %+v, want %+v", got.Criteria, richmond)
	}
}

func TestLatestScanNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.LatestScan(nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPruneScans(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		if _, err := s.SaveScan(richmond, leadapi.ScanResult{}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.PruneScans(2)
	if err != nil {
		t.Fatalf("PruneScans: %v", err)
	}
	if n != 3 {
		t.Errorf("pruned %d, want 3", n)
	}
	var left int
	s.db.QueryRow("SELECT COUNT(*) FROM scan_snapshots").Scan(&left)
	if left != 2 {
		t.Errorf("left %d snapshots, want 2", left)
	}
}

func TestInboxSnapshotUpsert(t *testing.T) {
	s := openTestStore(t)

	in := leadapi.Inbox{CampaignID: 4, CampaignName: "Blast", Conversations: []leadapi.Conversation{{LeadID: "a"}}}
	if err := s.SaveInbox(in); err != nil {
		t.Fatalf("SaveInbox: %v", err)
	}
	in.Conversations = append(in.Conversations, leadapi.Conversation{LeadID: "b"})
	if err := s.SaveInbox(in); err != nil {
		t.Fatalf("SaveInbox: %v", err)
	}

	got, err := s.GetInbox(4)
	if err != nil {
		t.Fatalf("GetInbox: %v", err)
	}
	if len(got.Inbox.Conversations) != 2 || got.Inbox.CampaignName != "Blast" {
		t.Errorf("Inbox = %+v", got.Inbox)
	}
	if got.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}

	if _, err := s.GetInbox(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInbox(99) err = %v, want ErrNotFound", err)
	}
}

func TestDrafts(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveDraft(Draft{CampaignID: 1, LeadID: "a", Body: "first"}); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if err := s.SaveDraft(Draft{CampaignID: 1, LeadID: "a", Body: "second"}); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	d, err := s.GetDraft(1, "a")
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if d.Body != "second" {
		t.Errorf("Body = %q, want second", d.Body)
	}

	if err := s.DeleteDraft(1, "a"); err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}
	if _, err := s.GetDraft(1, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDraft after delete err = %v", err)
	}
	if err := s.DeleteDraft(1, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteDraft err = %v", err)
	}
}

func TestForgetCampaign(t *testing.T) {
	s := openTestStore(t)
	s.SaveInbox(leadapi.Inbox{CampaignID: 2})
	s.SaveDraft(Draft{CampaignID: 2, LeadID: "a", Body: "x"})
	s.SaveDraft(Draft{CampaignID: 3, LeadID: "a", Body: "y"})

	if err := s.ForgetCampaign(2); err != nil {
		t.Fatalf("ForgetCampaign: %v", err)
	}
	if _, err := s.GetInbox(2); !errors.Is(err, ErrNotFound) {
		t.Error("inbox snapshot survived")
	}
	if _, err := s.GetDraft(2, "a"); !errors.Is(err, ErrNotFound) {
		t.Error("draft survived")
	}
	if _, err := s.GetDraft(3, "a"); err != nil {
		t.Errorf("unrelated draft removed: %v", err)
	}
}
