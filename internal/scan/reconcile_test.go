package scan

import (
	"testing"

	"github.com/kalambet/leadctl/internal/leadapi"
)

func previews(ids ...string) []leadapi.LeadPreview {
	out := make([]leadapi.LeadPreview, len(ids))
	for i, id := range ids {
		out[i] = leadapi.LeadPreview{ID: id}
	}
	return out
}

func lead(id, owner string) leadapi.Lead {
	return leadapi.Lead{RadarID: id, OwnerName: owner}
}

func assertInvariants(t *testing.T, res leadapi.ScanResult) {
	t.Helper()
	if res.NewCount != len(res.Leads) {
		t.Errorf("NewCount = %d, len(Leads) = %d", res.NewCount, len(res.Leads))
	}
	if res.PurchasedCount != len(res.PurchasedLeads) {
		t.Errorf("PurchasedCount = %d, len(PurchasedLeads) = %d", res.PurchasedCount, len(res.PurchasedLeads))
	}
	owned := make(map[string]bool)
	for _, l := range res.PurchasedLeads {
		owned[l.RadarID] = true
	}
	for _, p := range res.Leads {
		if owned[p.ID] {
			t.Errorf("lead %s present in both new and owned lists", p.ID)
		}
	}
}

func TestReconcile_WorkedExample(t *testing.T) {
	prev := leadapi.ScanResult{
		NewCount:       2,
		Leads:          previews("1", "2"),
		PurchasedCount: 1,
		PurchasedLeads: []leadapi.Lead{lead("5", "A")},
	}
	fresh := []leadapi.Lead{lead("2", "B"), lead("5", "A2")}

	got := Reconcile(prev, fresh)
	assertInvariants(t, got)

	if len(got.Leads) != 1 || got.Leads[0].ID != "1" {
		t.Fatalf("Leads = %+v, want [{1}]", got.Leads)
	}
	if len(got.PurchasedLeads) != 2 {
		t.Fatalf("len(PurchasedLeads) = %d, want 2", len(got.PurchasedLeads))
	}
	if got.PurchasedLeads[0].RadarID != "2" || got.PurchasedLeads[0].OwnerName != "B" {
		t.Errorf("PurchasedLeads[0] = %+v, want {2 B}", got.PurchasedLeads[0])
	}
	if got.PurchasedLeads[1].RadarID != "5" || got.PurchasedLeads[1].OwnerName != "A2" {
		t.Errorf("PurchasedLeads[1] = %+v, want {5 A2}", got.PurchasedLeads[1])
	}
	if got.NewCount != 1 || got.PurchasedCount != 2 {
		t.Errorf("counts = (%d, %d), want (1, 2)", got.NewCount, got.PurchasedCount)
	}
}

func TestReconcile_EmptyFreshIsNoop(t *testing.T) {
	prev := leadapi.ScanResult{
		NewCount:       3,
		Leads:          previews("1", "2", "3"),
		PurchasedCount: 2,
		PurchasedLeads: []leadapi.Lead{lead("7", "X"), lead("8", "Y")},
	}

	got := Reconcile(prev, nil)
	assertInvariants(t, got)

	if len(got.Leads) != 3 || len(got.PurchasedLeads) != 2 {
		t.Fatalf("got %d new / %d owned, want 3 / 2", len(got.Leads), len(got.PurchasedLeads))
	}
	for i, p := range prev.Leads {
		if got.Leads[i].ID != p.ID {
			t.Errorf("Leads[%d] = %s, want %s", i, got.Leads[i].ID, p.ID)
		}
	}
	for i, l := range prev.PurchasedLeads {
		if got.PurchasedLeads[i].RadarID != l.RadarID || got.PurchasedLeads[i].OwnerName != l.OwnerName {
			t.Errorf("PurchasedLeads[%d] = %+v, want %+v", i, got.PurchasedLeads[i], l)
		}
	}
}

func TestReconcile_ReEnrichedOwnedUpdatedInPlace(t *testing.T) {
	prev := leadapi.ScanResult{
		Leads:          previews("1"),
		PurchasedLeads: []leadapi.Lead{lead("7", "old"), lead("8", "keep"), lead("9", "keep")},
	}
	fresh := []leadapi.Lead{{RadarID: "8", OwnerName: "new", PhoneNumbers: []string{"555-0100"}}}

	got := Reconcile(prev, fresh)
	assertInvariants(t, got)

	if len(got.PurchasedLeads) != 3 {
		t.Fatalf("len(PurchasedLeads) = %d, want 3", len(got.PurchasedLeads))
	}
	if got.PurchasedLeads[1].OwnerName != "new" || len(got.PurchasedLeads[1].PhoneNumbers) != 1 {
		t.Errorf("PurchasedLeads[1] = %+v, want refreshed lead 8", got.PurchasedLeads[1])
	}
	if got.PurchasedLeads[0].OwnerName != "old" || got.PurchasedLeads[2].OwnerName != "keep" {
		t.Error("unmatched owned leads should pass through unchanged")
	}
}

func TestReconcile_NewLeadMovesToFrontOfOwned(t *testing.T) {
	prev := leadapi.ScanResult{
		Leads:          previews("1", "2", "3"),
		PurchasedLeads: []leadapi.Lead{lead("9", "Z")},
	}

	got := Reconcile(prev, []leadapi.Lead{lead("2", "B")})
	assertInvariants(t, got)

	for _, p := range got.Leads {
		if p.ID == "2" {
			t.Fatal("lead 2 still listed as new")
		}
	}
	count := 0
	for _, l := range got.PurchasedLeads {
		if l.RadarID == "2" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("lead 2 appears %d times in owned, want 1", count)
	}
	if got.PurchasedLeads[0].RadarID != "2" {
		t.Errorf("PurchasedLeads[0] = %s, want 2", got.PurchasedLeads[0].RadarID)
	}
}

func TestReconcile_DuplicateFreshIDsCollapse(t *testing.T) {
	prev := leadapi.ScanResult{Leads: previews("1", "2")}
	fresh := []leadapi.Lead{lead("1", "first"), lead("2", "x"), lead("1", "second")}

	got := Reconcile(prev, fresh)
	assertInvariants(t, got)

	if len(got.PurchasedLeads) != 2 {
		t.Fatalf("len(PurchasedLeads) = %d, want 2", len(got.PurchasedLeads))
	}
	if got.PurchasedLeads[0].RadarID != "1" || got.PurchasedLeads[0].OwnerName != "second" {
		t.Errorf("PurchasedLeads[0] = %+v, want {1 second}", got.PurchasedLeads[0])
	}
	if len(got.Leads) != 0 {
		t.Errorf("Leads = %+v, want empty", got.Leads)
	}
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	prev := leadapi.ScanResult{
		Leads:          previews("1", "2"),
		PurchasedLeads: []leadapi.Lead{lead("5", "A")},
	}
	Reconcile(prev, []leadapi.Lead{lead("2", "B"), lead("5", "A2")})

	if len(prev.Leads) != 2 || prev.Leads[1].ID != "2" {
		t.Errorf("previous.Leads mutated: %+v", prev.Leads)
	}
	if prev.PurchasedLeads[0].OwnerName != "A" {
		t.Errorf("previous.PurchasedLeads mutated: %+v", prev.PurchasedLeads)
	}
}

func TestReconcile_InconsistentCountsAreRederived(t *testing.T) {
	prev := leadapi.ScanResult{
		NewCount:       42,
		Leads:          previews("1"),
		PurchasedCount: 0,
		PurchasedLeads: []leadapi.Lead{lead("5", "A")},
	}
	got := Reconcile(prev, nil)
	assertInvariants(t, got)
	if got.NewCount != 1 || got.PurchasedCount != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", got.NewCount, got.PurchasedCount)
	}
}
