package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/leadctl/internal/leadapi"
)

// ErrNoScan is returned by operations that need a scan result first.
var ErrNoScan = errors.New("no scan result; run a scan first")

// LeadService is the subset of the LeadService client the dashboard uses.
type LeadService interface {
	Scan(ctx context.Context, req leadapi.ScanRequest) (leadapi.ScanResult, error)
	Enrich(ctx context.Context, req leadapi.EnrichRequest) (leadapi.EnrichResult, error)
	History(ctx context.Context) ([]leadapi.HistoryEntry, error)
	HistoryLeads(ctx context.Context, searchID int) ([]leadapi.Lead, error)
}

// DefaultPurchaseLimit caps the initial number of new leads offered for purchase.
const DefaultPurchaseLimit = 10

// Dashboard holds the scan/enrich state of one working session: the
// current criteria, the scan partition, the purchase quantity and the
// owned leads selected for re-enrichment.
type Dashboard struct {
	svc      LeadService
	maxLimit int
	logger   *slog.Logger

	criteria      leadapi.ScanRequest
	result        *leadapi.ScanResult
	purchaseLimit int
	selected      []string
}

// NewDashboard creates a Dashboard. If maxLimit <= 0 it defaults to
// DefaultPurchaseLimit.
func NewDashboard(svc LeadService, maxLimit int) *Dashboard {
	if maxLimit <= 0 {
		maxLimit = DefaultPurchaseLimit
	}
	return &Dashboard{svc: svc, maxLimit: maxLimit, logger: slog.Default()}
}

// Restore seeds the dashboard with a previously saved scan, so enrichment
// can reconcile against it without re-scanning.
func (d *Dashboard) Restore(criteria leadapi.ScanRequest, result leadapi.ScanResult) {
	d.criteria = criteria
	d.setResult(result)
}

// Scan runs a fresh scan. On failure the previous result is kept.
func (d *Dashboard) Scan(ctx context.Context, criteria leadapi.ScanRequest) (leadapi.ScanResult, error) {
	if err := criteria.Validate(); err != nil {
		return leadapi.ScanResult{}, err
	}
	res, err := d.svc.Scan(ctx, criteria)
	if err != nil {
		d.logger.Error("scan failed", "city", criteria.City, "state", criteria.State, "error", err)
		return leadapi.ScanResult{}, err
	}
	d.criteria = criteria
	d.setResult(res)
	return *d.result, nil
}

// Refresh re-runs the last scan.
func (d *Dashboard) Refresh(ctx context.Context) (leadapi.ScanResult, error) {
	if d.result == nil {
		return leadapi.ScanResult{}, ErrNoScan
	}
	return d.Scan(ctx, d.criteria)
}

func (d *Dashboard) setResult(res leadapi.ScanResult) {
	res.NewCount = len(res.Leads)
	res.PurchasedCount = len(res.PurchasedLeads)
	d.result = &res
	d.selected = nil
	d.purchaseLimit = min(d.maxLimit, res.NewCount)
}

// Result returns the current scan result, if any.
func (d *Dashboard) Result() (leadapi.ScanResult, bool) {
	if d.result == nil {
		return leadapi.ScanResult{}, false
	}
	return *d.result, true
}

func (d *Dashboard) Criteria() leadapi.ScanRequest { return d.criteria }

func (d *Dashboard) PurchaseLimit() int { return d.purchaseLimit }

// SetPurchaseLimit clamps n to [1, max(new_count, 1)].
func (d *Dashboard) SetPurchaseLimit(n int) {
	upper := 1
	if d.result != nil && d.result.NewCount > 1 {
		upper = d.result.NewCount
	}
	d.purchaseLimit = max(1, min(n, upper))
}

// Enrich buys or refreshes leads. With no ids the first PurchaseLimit new
// previews are bought; otherwise the given ids (typically owned leads
// selected for re-enrichment) are used. The scan result is reconciled with
// the enriched leads and returned together with them.
func (d *Dashboard) Enrich(ctx context.Context, ids []string) (leadapi.ScanResult, []leadapi.Lead, error) {
	if d.result == nil {
		return leadapi.ScanResult{}, nil, ErrNoScan
	}
	if len(ids) == 0 {
		n := min(d.purchaseLimit, len(d.result.Leads))
		for _, p := range d.result.Leads[:n] {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return *d.result, nil, nil
	}

	res, err := d.svc.Enrich(ctx, leadapi.EnrichRequest{
		RadarIDs: ids,
		State:    d.criteria.State,
		City:     d.criteria.City,
		Strategy: d.criteria.Strategy,
	})
	if err != nil {
		d.logger.Error("enrichment failed", "count", len(ids), "error", err)
		return leadapi.ScanResult{}, nil, err
	}

	fresh := res.Leads
	if len(fresh) == 0 {
		fresh, err = d.latestBatch(ctx)
		if err != nil {
			return leadapi.ScanResult{}, nil, fmt.Errorf("loading enriched leads: %w", err)
		}
	}

	merged := Reconcile(*d.result, fresh)
	d.result = &merged
	d.selected = nil
	d.purchaseLimit = min(d.maxLimit, merged.NewCount)
	return merged, fresh, nil
}

// latestBatch returns the leads of the newest history entry. The history
// list is ordered newest first.
func (d *Dashboard) latestBatch(ctx context.Context) ([]leadapi.Lead, error) {
	history, err := d.svc.History(ctx)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	return d.svc.HistoryLeads(ctx, history[0].ID)
}

// --- owned-lead selection ---

// ToggleOwned adds or removes an owned lead from the re-enrichment selection.
func (d *Dashboard) ToggleOwned(id string) {
	for i, s := range d.selected {
		if s == id {
			d.selected = append(d.selected[:i:i], d.selected[i+1:]...)
			return
		}
	}
	d.selected = append(d.selected, id)
}

// SelectAllOwned selects every owned lead, or clears the selection when
// everything is already selected.
func (d *Dashboard) SelectAllOwned() {
	if d.result == nil {
		return
	}
	if len(d.selected) == len(d.result.PurchasedLeads) {
		d.selected = nil
		return
	}
	d.selected = make([]string, 0, len(d.result.PurchasedLeads))
	for _, l := range d.result.PurchasedLeads {
		d.selected = append(d.selected, l.RadarID)
	}
}

// SelectedOwned returns a copy of the current re-enrichment selection.
func (d *Dashboard) SelectedOwned() []string {
	return append([]string(nil), d.selected...)
}
