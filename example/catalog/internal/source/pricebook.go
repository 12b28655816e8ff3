// Package source holds the example's demo source adapter. It serves a small
// fixed price list from memory, enough to exercise the full pull path
// (paging, cursors, breaker, merge gate) without a network dependency.
package source

import (
	"context"
	"fmt"

	model "github.com/pagecliff/ingest/pkg/ingest/core/domain/model"
	ingestsource "github.com/pagecliff/ingest/pkg/ingest/engine/source"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/serialization"
)

// SourceName is the adapter name referenced by job configuration and
// provenance rows.
const SourceName = "pricebook"

type listing struct {
	Ref      string
	Name     string
	SetCode  string
	PriceUSD float64
}

// pricebookCursor is the typed shape of the adapter's resumable cursor.
type pricebookCursor struct {
	Offset int `json:"offset"`
}

// PricebookAdapter serves an in-memory price list.
type PricebookAdapter struct {
	listings []listing
}

// NewPricebookAdapter creates the demo adapter with its fixed dataset.
func NewPricebookAdapter() *PricebookAdapter {
	return &PricebookAdapter{listings: demoListings()}
}

func (a *PricebookAdapter) Name() string { return SourceName }

// FetchPage serves one page of listings at the cursor's offset.
func (a *PricebookAdapter) FetchPage(ctx context.Context, cursor model.CursorState, pageSize int) (*ingestsource.Page, error) {
	var pos pricebookCursor
	if len(cursor) > 0 {
		if err := serialization.DecodeCursorState(cursor, &pos); err != nil {
			return nil, fmt.Errorf("pricebook: invalid cursor: %w", err)
		}
	}
	if pos.Offset < 0 || pos.Offset > len(a.listings) {
		return nil, fmt.Errorf("pricebook: cursor offset %d out of range", pos.Offset)
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	end := pos.Offset + pageSize
	if end > len(a.listings) {
		end = len(a.listings)
	}

	records := make([]ingestsource.Record, 0, end-pos.Offset)
	for _, l := range a.listings[pos.Offset:end] {
		records = append(records, a.toRecord(l))
	}

	next, err := serialization.EncodeCursorState(pricebookCursor{Offset: end})
	if err != nil {
		return nil, err
	}
	return &ingestsource.Page{
		Records:    records,
		NextCursor: next,
		HasMore:    end < len(a.listings),
	}, nil
}

// FetchByRef re-serves a single listing, used by dead letter replay.
func (a *PricebookAdapter) FetchByRef(ctx context.Context, entityType, entityRef string) (*ingestsource.Record, error) {
	if entityType != "printing" {
		return nil, fmt.Errorf("pricebook: unknown entity type '%s'", entityType)
	}
	for _, l := range a.listings {
		if l.Ref == entityRef {
			rec := a.toRecord(l)
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("pricebook: no listing for '%s'", entityRef)
}

func (a *PricebookAdapter) toRecord(l listing) ingestsource.Record {
	return ingestsource.Record{
		EntityType: "printing",
		EntityRef:  l.Ref,
		Fields: map[string]interface{}{
			"name":      l.Name,
			"set_code":  l.SetCode,
			"price_usd": l.PriceUSD,
		},
		Confidence: 1,
		SourceRef:  "pricebook://" + l.Ref,
		License:    "CC0",
		Raw:        model.SnapshotMap{"ref": l.Ref, "price_usd": l.PriceUSD},
	}
}

func demoListings() []listing {
	return []listing{
		{Ref: "neo-001", Name: "Dawnbreak Sentinel", SetCode: "NEO", PriceUSD: 1.25},
		{Ref: "neo-002", Name: "Tidecaller Adept", SetCode: "NEO", PriceUSD: 0.35},
		{Ref: "neo-003", Name: "Emberline Duelist", SetCode: "NEO", PriceUSD: 4.10},
		{Ref: "neo-004", Name: "Hollowroot Warden", SetCode: "NEO", PriceUSD: 0.15},
		{Ref: "arc-014", Name: "Archive Custodian", SetCode: "ARC", PriceUSD: 12.50},
		{Ref: "arc-022", Name: "Glasswing Courier", SetCode: "ARC", PriceUSD: 2.75},
		{Ref: "arc-031", Name: "Veiled Cartographer", SetCode: "ARC", PriceUSD: 7.00},
		{Ref: "myr-101", Name: "Myriad Tinkerer", SetCode: "MYR", PriceUSD: 0.90},
		{Ref: "myr-118", Name: "Cinder Oracle", SetCode: "MYR", PriceUSD: 22.00},
		{Ref: "myr-140", Name: "Lantern Shepherd", SetCode: "MYR", PriceUSD: 3.40},
	}
}

var _ ingestsource.Adapter = (*PricebookAdapter)(nil)
