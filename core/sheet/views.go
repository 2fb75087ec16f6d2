package sheet

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/sheets/core"
)

// Derived views
const (
	ViewEntities = "entities"
	ViewSheets   = "sheets"
	ViewFlagged  = "flagged"
)

type (
	// ViewQuery describes a derived view over the records of one kind.
	ViewQuery struct {
		View      string    `json:"view" validate:"required,oneof=entities sheets flagged"`
		Kind      string    `json:"kind" validate:"required"`
		Group     string    `json:"group" validate:"max=64"`
		From      time.Time `json:"from"`
		To        time.Time `json:"to"`
		EntityIDs []string  `json:"entity" validate:"dive,required,max=64"`
		// Bucket and Min only apply to flagged lists; Bucket defaults to the kind's flagged bucket.
		Bucket string `json:"bucket"`
		Min    int    `json:"min" validate:"min=0"`
	}

	// Tally counts records per bucket.
	Tally struct {
		Counts      map[string]int `json:"counts"`
		Total       int            `json:"total"`
		Favorable   int            `json:"favorable"`
		Unfavorable int            `json:"unfavorable"`
		// Rate is the favorable percentage, rounded; 0 without records.
		Rate int `json:"rate"`
	}

	EntitySummary struct {
		EntityID string `json:"entity_id"`
		Tally
	}

	SheetRollup struct {
		SheetID  string    `json:"sheet_id"`
		ScopeKey string    `json:"scope_key"`
		Date     time.Time `json:"date"`
		Status   Status    `json:"status"`
		Tally
	}

	FlaggedEntity struct {
		EntityID string `json:"entity_id"`
		Count    int    `json:"count"`
	}

	// Summary is the result of Summarize; only the field of the requested view is set.
	Summary struct {
		View     string          `json:"view"`
		Kind     string          `json:"kind"`
		Bucket   string          `json:"bucket,omitempty"`
		Entities []EntitySummary `json:"entities,omitempty"`
		Sheets   []SheetRollup   `json:"sheets,omitempty"`
		Flagged  []FlaggedEntity `json:"flagged,omitempty"`
	}
)

// Summarize computes the view named by q from the records stored at call time.
func (svc *Service) Summarize(ctx context.Context, tenantID string, q ViewQuery) (Summary, error) {
	q.Kind = core.CleanString(q.Kind, true /* lower */)
	if err := svc.checkStruct(q, ""); err != nil {
		return Summary{}, err
	}
	kind, err := svc.kinds.get(q.Kind)
	if err != nil {
		return Summary{}, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return Summary{}, core.NewValidationError(nil, core.FieldError{Field: "from", Error: "must not be after to"})
	}

	sum := Summary{View: q.View, Kind: q.Kind}
	rng := Range{From: q.From, To: q.To}
	switch q.View {
	case ViewEntities:
		sum.Entities, err = svc.entitySummaries(ctx, tenantID, kind, q.Group, rng, q.EntityIDs)
	case ViewSheets:
		sum.Sheets, err = svc.sheetRollups(ctx, tenantID, kind, q.Group, rng)
	case ViewFlagged:
		sum.Bucket = q.Bucket
		if sum.Bucket == "" {
			sum.Bucket = kind.Flagged()
		}
		if !containsString(kind.Buckets(), sum.Bucket) {
			return Summary{}, core.NewValidationError(nil, core.FieldError{Field: "bucket", Error: "unknown bucket for " + kind.Name()})
		}
		sum.Flagged, err = svc.flagged(ctx, tenantID, kind, q.Group, rng, sum.Bucket, q.Min)
	}
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// EntitySummaries tallies the records of each entity over rng.
// Requested entities without records are reported with zero counts.
func (svc *Service) EntitySummaries(ctx context.Context, tenantID, kind, group string, rng Range, entityIDs ...string) ([]EntitySummary, error) {
	sum, err := svc.Summarize(ctx, tenantID, ViewQuery{View: ViewEntities, Kind: kind, Group: group, From: rng.From, To: rng.To, EntityIDs: entityIDs})
	return sum.Entities, err
}

// SheetRollups tallies each sheet in rng, ordered by scope key.
func (svc *Service) SheetRollups(ctx context.Context, tenantID, kind, group string, rng Range) ([]SheetRollup, error) {
	sum, err := svc.Summarize(ctx, tenantID, ViewQuery{View: ViewSheets, Kind: kind, Group: group, From: rng.From, To: rng.To})
	return sum.Sheets, err
}

// Flagged lists the entities with at least minCount records in bucket over rng, most flagged first.
func (svc *Service) Flagged(ctx context.Context, tenantID, kind, group string, rng Range, bucket string, minCount int) ([]FlaggedEntity, error) {
	sum, err := svc.Summarize(ctx, tenantID, ViewQuery{View: ViewFlagged, Kind: kind, Group: group, From: rng.From, To: rng.To, Bucket: bucket, Min: minCount})
	return sum.Flagged, err
}

func (svc *Service) loadSheets(ctx context.Context, filter QueryFilter) ([]Sheet, error) {
	sheets, err := svc.repo.FilterSheets(ctx, filter)
	if err != nil {
		return nil, svc.fail(ctx, "filtering sheets", err)
	}
	return sheets, nil
}

func (svc *Service) entitySummaries(ctx context.Context, tenantID string, kind Kind, group string, rng Range, entityIDs []string) ([]EntitySummary, error) {
	entityIDs = uniqueIDs(entityIDs)
	sheets, err := svc.loadSheets(ctx, QueryFilter{TenantID: tenantID, Kind: kind.Name(), Group: group, Range: rng, EntityIDs: entityIDs})
	if err != nil {
		return nil, err
	}

	tallies := make(map[string]*Tally)
	for _, id := range entityIDs {
		tallies[id] = newTally(kind)
	}
	for _, sh := range sheets {
		for _, rec := range sh.Records {
			t, ok := tallies[rec.EntityID]
			if !ok {
				t = newTally(kind)
				tallies[rec.EntityID] = t
			}
			t.add(kind, rec.Values)
		}
	}

	summaries := make([]EntitySummary, 0, len(tallies))
	for id, t := range tallies {
		summaries = append(summaries, EntitySummary{EntityID: id, Tally: t.done()})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].EntityID < summaries[j].EntityID })
	return summaries, nil
}

func (svc *Service) sheetRollups(ctx context.Context, tenantID string, kind Kind, group string, rng Range) ([]SheetRollup, error) {
	sheets, err := svc.loadSheets(ctx, QueryFilter{TenantID: tenantID, Kind: kind.Name(), Group: group, Range: rng})
	if err != nil {
		return nil, err
	}

	rollups := make([]SheetRollup, 0, len(sheets))
	for _, sh := range sheets {
		t := newTally(kind)
		for _, rec := range sh.Records {
			t.add(kind, rec.Values)
		}
		rollups = append(rollups, SheetRollup{
			SheetID:  sh.ID,
			ScopeKey: sh.ScopeKey,
			Date:     sh.Scope.Date,
			Status:   sh.Status,
			Tally:    t.done(),
		})
	}
	sort.SliceStable(rollups, func(i, j int) bool { return rollups[i].ScopeKey < rollups[j].ScopeKey })
	return rollups, nil
}

func (svc *Service) flagged(ctx context.Context, tenantID string, kind Kind, group string, rng Range, bucket string, minCount int) ([]FlaggedEntity, error) {
	sheets, err := svc.loadSheets(ctx, QueryFilter{TenantID: tenantID, Kind: kind.Name(), Group: group, Range: rng})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, sh := range sheets {
		for _, rec := range sh.Records {
			if kind.Bucket(rec.Values) == bucket {
				counts[rec.EntityID]++
			}
		}
	}

	flagged := make([]FlaggedEntity, 0, len(counts))
	for id, count := range counts {
		if count > 0 && count >= minCount {
			flagged = append(flagged, FlaggedEntity{EntityID: id, Count: count})
		}
	}
	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].Count != flagged[j].Count {
			return flagged[i].Count > flagged[j].Count
		}
		return flagged[i].EntityID < flagged[j].EntityID
	})
	return flagged, nil
}

func newTally(kind Kind) *Tally {
	t := &Tally{Counts: make(map[string]int, len(kind.Buckets()))}
	for _, b := range kind.Buckets() {
		t.Counts[b] = 0
	}
	return t
}

func (t *Tally) add(kind Kind, v Values) {
	bucket := kind.Bucket(v)
	t.Counts[bucket]++
	t.Total++
	if kind.Favorable(bucket) {
		t.Favorable++
	}
}

func (t *Tally) done() Tally {
	t.Unfavorable = t.Total - t.Favorable
	t.Rate = rate(t.Favorable, t.Total)
	return *t
}

func rate(favorable, total int) int {
	if total == 0 {
		return 0
	}
	// rounds half up
	return (200*favorable + total) / (2 * total)
}
