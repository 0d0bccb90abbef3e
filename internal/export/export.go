// Package export writes purchased leads to client-facing files.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/leadctl/internal/leadapi"
)

// Header is the CSV column order.
var Header = []string{
	"Owner Name", "Address", "City", "State", "Phone", "Estimated Value",
	"Equity Value", "Beds", "Baths", "Sq Ft", "Year Built", "Emails", "Purchased",
}

// WriteCSV writes leads as CSV with a header row. Money columns are
// formatted as whole dollars and multi-valued fields are joined with "; ".
func WriteCSV(w io.Writer, leads []leadapi.Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, l := range leads {
		if err := cw.Write(row(l)); err != nil {
			return fmt.Errorf("writing lead %s: %w", l.RadarID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(l leadapi.Lead) []string {
	return []string{
		l.OwnerName,
		l.Address,
		l.City,
		l.State,
		strings.Join(l.PhoneNumbers, "; "),
		Money(l.EstimatedValue),
		Money(l.EquityValue),
		intOrBlank(l.Beds),
		strconv.FormatFloat(l.Baths, 'f', -1, 64),
		intOrBlank(l.SqFt),
		intOrBlank(l.YearBuilt),
		strings.Join(l.Emails, "; "),
		yesNo(l.IsPurchased),
	}
}

// Money formats v as "$150,000". Non-positive values print as "$0".
func Money(v float64) string {
	if v <= 0 {
		return "$0"
	}
	digits := strconv.FormatFloat(v, 'f', 0, 64)
	var b strings.Builder
	b.WriteByte('$')
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func intOrBlank(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// WriteJSON writes the raw leads as indented JSON, for offline backup.
func WriteJSON(w io.Writer, leads []leadapi.Lead) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if leads == nil {
		leads = []leadapi.Lead{}
	}
	return enc.Encode(leads)
}

// HistorySource loads the leads of one past scan.
type HistorySource interface {
	HistoryLeads(ctx context.Context, searchID int) ([]leadapi.Lead, error)
}

// CollectHistory fetches the leads of several history entries concurrently
// and concatenates them in entry order. Leads repeated across entries are
// kept once, at their first position.
func CollectHistory(ctx context.Context, src HistorySource, entries []leadapi.HistoryEntry) ([]leadapi.Lead, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	batches := make([][]leadapi.Lead, len(entries))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, entry := range entries {
		g.Go(func() error {
			leads, err := src.HistoryLeads(gCtx, entry.ID)
			if err != nil {
				return fmt.Errorf("loading history %d: %w", entry.ID, err)
			}
			batches[i] = leads
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []leadapi.Lead
	for _, batch := range batches {
		for _, l := range batch {
			if seen[l.RadarID] {
				continue
			}
			seen[l.RadarID] = true
			out = append(out, l)
		}
	}
	return out, nil
}
