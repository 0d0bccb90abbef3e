package scan

import "github.com/kalambet/leadctl/internal/leadapi"

// Reconcile merges freshly enriched leads into a previous scan result
// without re-scanning. Owned leads that were re-enriched are replaced in
// place, newly purchased leads are prepended to the owned list, and every
// enriched id is dropped from the new-lead previews. Counts are derived
// from the resulting lists. previous is not modified.
func Reconcile(previous leadapi.ScanResult, fresh []leadapi.Lead) leadapi.ScanResult {
	fresh = collapse(fresh)

	byID := make(map[string]leadapi.Lead, len(fresh))
	for _, l := range fresh {
		byID[l.RadarID] = l
	}

	owned := make(map[string]struct{}, len(previous.PurchasedLeads))
	updated := make([]leadapi.Lead, 0, len(previous.PurchasedLeads)+len(fresh))
	for _, existing := range previous.PurchasedLeads {
		owned[existing.RadarID] = struct{}{}
		if match, ok := byID[existing.RadarID]; ok {
			updated = append(updated, match)
			continue
		}
		updated = append(updated, existing)
	}

	var added []leadapi.Lead
	for _, l := range fresh {
		if _, ok := owned[l.RadarID]; !ok {
			added = append(added, l)
		}
	}

	previews := make([]leadapi.LeadPreview, 0, len(previous.Leads))
	for _, p := range previous.Leads {
		if _, ok := byID[p.ID]; ok {
			continue
		}
		previews = append(previews, p)
	}

	purchased := append(added, updated...)
	if purchased == nil {
		purchased = []leadapi.Lead{}
	}
	return leadapi.ScanResult{
		NewCount:       len(previews),
		Leads:          previews,
		PurchasedCount: len(purchased),
		PurchasedLeads: purchased,
	}
}

// collapse removes repeated radar ids, keeping the first position and the
// last value seen for each id.
func collapse(leads []leadapi.Lead) []leadapi.Lead {
	pos := make(map[string]int, len(leads))
	out := make([]leadapi.Lead, 0, len(leads))
	for _, l := range leads {
		if i, ok := pos[l.RadarID]; ok {
			out[i] = l
			continue
		}
		pos[l.RadarID] = len(out)
		out = append(out, l)
	}
	return out
}
