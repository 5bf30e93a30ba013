/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Batch upsert:
    BulkUpsertRequest, BulkLineRequest, BulkUpsertResponse

  Rows:
    RowDTO

  Recompute:
    RecomputeRequest, RecomputeDTO

  Reporting:
    SummaryDTO

DATES:
  Dates travel as "YYYY-MM-DD" and decode straight into ledger.Date.

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.
*/
package api

import (
	"github.com/warp/freshstock/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// BulkUpsertRequest is one store's movements for one date.
type BulkUpsertRequest struct {
	StoreID string            `json:"store_id"`
	Date    ledger.Date       `json:"date"`
	Mode    string            `json:"mode,omitempty"`
	Items   []BulkLineRequest `json:"items"`
}

// BulkLineRequest is one item's movements.
type BulkLineRequest struct {
	ItemID   string `json:"item_id"`
	Received int64  `json:"received"`
	Sold     int64  `json:"sold"`
}

func (r BulkUpsertRequest) toBatch(mode ledger.Mode) ledger.Batch {
	lines := make([]ledger.Line, len(r.Items))
	for i, it := range r.Items {
		lines[i] = ledger.Line{ItemID: ledger.ItemID(it.ItemID), Received: it.Received, Sold: it.Sold}
	}
	return ledger.Batch{
		StoreID: ledger.StoreID(r.StoreID),
		Date:    r.Date,
		Lines:   lines,
		Mode:    mode,
	}
}

// RecomputeRequest asks for a forward recompute of one item.
type RecomputeRequest struct {
	StoreID   string       `json:"store_id"`
	ItemID    string       `json:"item_id"`
	StartDate ledger.Date  `json:"start_date"`
	EndDate   *ledger.Date `json:"end_date,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RowDTO represents a stored ledger row.
type RowDTO struct {
	ID             string      `json:"id"`
	StoreID        string      `json:"store_id"`
	ItemID         string      `json:"item_id"`
	Date           ledger.Date `json:"date"`
	Received       int64       `json:"received"`
	Sold           int64       `json:"sold"`
	Waste          int64       `json:"waste"`
	Remaining      int64       `json:"remaining"`
	BucketFreshEnd int64       `json:"bucket_fresh_end"`
	BucketAgedEnd  int64       `json:"bucket_aged_end"`
}

func toRowDTO(r ledger.Row) RowDTO {
	return RowDTO{
		ID:             r.ID,
		StoreID:        string(r.StoreID),
		ItemID:         string(r.ItemID),
		Date:           r.Date,
		Received:       r.Received,
		Sold:           r.Sold,
		Waste:          r.Waste,
		Remaining:      r.Remaining,
		BucketFreshEnd: r.FreshEnd,
		BucketAgedEnd:  r.AgedEnd,
	}
}

func toRowDTOs(rows []ledger.Row) []RowDTO {
	dtos := make([]RowDTO, len(rows))
	for i, r := range rows {
		dtos[i] = toRowDTO(r)
	}
	return dtos
}

// BulkUpsertResponse lists the rows written by a batch.
type BulkUpsertResponse struct {
	StoreID string      `json:"store_id"`
	Date    ledger.Date `json:"date"`
	Mode    string      `json:"mode"`
	Count   int         `json:"count"`
	Rows    []RowDTO    `json:"rows"`
}

// RecomputeDTO reports a forward recompute.
type RecomputeDTO struct {
	StoreID   string       `json:"store_id"`
	ItemID    string       `json:"item_id"`
	StartDate ledger.Date  `json:"start_date"`
	EndDate   *ledger.Date `json:"end_date,omitempty"`
	Examined  int          `json:"examined"`
	Updated   int          `json:"updated"`
	GapDays   int          `json:"gap_days"`
	Rows      []RowDTO     `json:"rows"`
}

func toRecomputeDTO(res ledger.RecomputeResult) RecomputeDTO {
	return RecomputeDTO{
		StoreID:   string(res.Key.StoreID),
		ItemID:    string(res.Key.ItemID),
		StartDate: res.Start,
		EndDate:   res.End,
		Examined:  res.Examined,
		Updated:   res.Updated,
		GapDays:   res.GapDays,
		Rows:      toRowDTOs(res.Rows),
	}
}

// SummaryDTO totals one item over a date range. Ratios are decimal strings.
type SummaryDTO struct {
	StoreID     string      `json:"store_id"`
	ItemID      string      `json:"item_id"`
	From        ledger.Date `json:"from"`
	To          ledger.Date `json:"to"`
	Days        int         `json:"days"`
	Received    int64       `json:"received"`
	Sold        int64       `json:"sold"`
	Waste       int64       `json:"waste"`
	Closing     int64       `json:"closing"`
	WasteRate   string      `json:"waste_rate"`
	SellThrough string      `json:"sell_through"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// HealthDTO is returned by /healthz.
type HealthDTO struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}
