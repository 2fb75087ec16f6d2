package sheet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/sheets/core"
	"github.com/trezcool/sheets/core/sheet"
)

// seedViews opens three class-1 days and one class-2 day for tenantA, and one sheet for tenantB:
//
//	class-1 day1: e1 present, e2 absent, e3 present
//	class-1 day2: e1 present, e2 absent, e3 late
//	class-1 day3: no records
//	class-2 day1: e7 absent
func seedViews(t *testing.T, env testEnv) {
	ctx := context.Background()
	reconcile := func(sh sheet.Sheet, items ...sheet.Item) {
		if _, err := env.svc.Reconcile(ctx, sh.TenantID, sh.ID, teacher, items); err != nil {
			t.Fatalf("seedViews() failed: %v", err)
		}
	}

	d1 := env.openClass(t, tenantA, "class-1", day1, "e1", "e2", "e3")
	reconcile(d1, sheet.Item{EntityID: "e2", Status: "absent"})
	d2 := env.openClass(t, tenantA, "class-1", day2)
	reconcile(d2,
		sheet.Item{EntityID: "e2", Status: "absent"},
		sheet.Item{EntityID: "e3", Status: "late", MinutesLate: intPtr(5)},
	)
	// everybody left before day3
	env.enrol(tenantA, "attendance", "class-1", false, "e1", "e2", "e3")
	if _, err := env.svc.Ensure(ctx, tenantA, teacher, sheet.NewSheet{
		Scope: sheet.Scope{Kind: "attendance", Group: "class-1", Date: day3},
	}); err != nil {
		t.Fatalf("seedViews() failed: %v", err)
	}

	c2 := env.openClass(t, tenantA, "class-2", day1, "e7")
	reconcile(c2, sheet.Item{EntityID: "e7", Status: "absent"})

	b := env.openClass(t, tenantB, "class-1", day1, "e2")
	reconcile(b, sheet.Item{EntityID: "e2", Status: "absent"})
}

func TestService_SheetRollups(t *testing.T) {
	env := setup(t, testConf)
	seedViews(t, env)

	rollups, err := env.svc.SheetRollups(context.Background(), tenantA, "attendance", "class-1", sheet.Range{})
	require.NoError(t, err)
	require.Len(t, rollups, 3)

	assert.Equal(t, "class-1/2026-03-02", rollups[0].ScopeKey)
	assert.Equal(t, 2, rollups[0].Favorable)
	assert.Equal(t, 1, rollups[0].Unfavorable)
	assert.Equal(t, 67, rollups[0].Rate)

	assert.Equal(t, "class-1/2026-03-03", rollups[1].ScopeKey)
	assert.Equal(t, map[string]int{"present": 1, "late": 1, "excused": 0, "absent": 1}, rollups[1].Counts)
	assert.Equal(t, 67, rollups[1].Rate)

	assert.Equal(t, "class-1/2026-03-04", rollups[2].ScopeKey)
	assert.Equal(t, 0, rollups[2].Total)
	assert.Equal(t, 0, rollups[2].Rate)

	t.Run("range", func(t *testing.T) {
		rollups, err := env.svc.SheetRollups(context.Background(), tenantA, "attendance", "", sheet.Range{From: day2, To: day2})
		require.NoError(t, err)
		require.Len(t, rollups, 1)
		assert.Equal(t, "class-1/2026-03-03", rollups[0].ScopeKey)
	})

	t.Run("all groups", func(t *testing.T) {
		rollups, err := env.svc.SheetRollups(context.Background(), tenantA, "attendance", "", sheet.Range{To: day1})
		require.NoError(t, err)
		require.Len(t, rollups, 2)
		assert.Equal(t, "class-1/2026-03-02", rollups[0].ScopeKey)
		assert.Equal(t, "class-2/2026-03-02", rollups[1].ScopeKey)
	})
}

func TestService_EntitySummaries(t *testing.T) {
	env := setup(t, testConf)
	seedViews(t, env)

	summaries, err := env.svc.EntitySummaries(context.Background(), tenantA, "attendance", "class-1", sheet.Range{From: day1, To: day3}, "e1", "e2", "e3", "e9")
	require.NoError(t, err)
	require.Len(t, summaries, 4)

	byID := make(map[string]sheet.EntitySummary, len(summaries))
	for _, s := range summaries {
		byID[s.EntityID] = s
	}
	assert.Equal(t, 100, byID["e1"].Rate)
	assert.Equal(t, 2, byID["e2"].Counts["absent"])
	assert.Equal(t, 0, byID["e2"].Rate)
	assert.Equal(t, 1, byID["e3"].Counts["late"])
	assert.Equal(t, 100, byID["e3"].Rate)
	assert.Equal(t, 0, byID["e9"].Total)
	assert.Equal(t, 0, byID["e9"].Rate)
	assert.Equal(t, 0, byID["e9"].Counts["present"])

	t.Run("everyone", func(t *testing.T) {
		summaries, err := env.svc.EntitySummaries(context.Background(), tenantA, "attendance", "", sheet.Range{})
		require.NoError(t, err)
		ids := make([]string, 0, len(summaries))
		for _, s := range summaries {
			ids = append(ids, s.EntityID)
		}
		assert.Equal(t, []string{"e1", "e2", "e3", "e7"}, ids)
	})
}

func TestService_Flagged(t *testing.T) {
	env := setup(t, testConf)
	seedViews(t, env)

	tests := []struct {
		name   string
		group  string
		bucket string
		min    int
		want   []sheet.FlaggedEntity
	}{
		{name: "all", min: 1, want: []sheet.FlaggedEntity{{EntityID: "e2", Count: 2}, {EntityID: "e7", Count: 1}}},
		{name: "threshold", min: 2, want: []sheet.FlaggedEntity{{EntityID: "e2", Count: 2}}},
		{name: "no minimum", want: []sheet.FlaggedEntity{{EntityID: "e2", Count: 2}, {EntityID: "e7", Count: 1}}},
		{name: "group", group: "class-2", min: 1, want: []sheet.FlaggedEntity{{EntityID: "e7", Count: 1}}},
		{name: "late", bucket: "late", min: 1, want: []sheet.FlaggedEntity{{EntityID: "e3", Count: 1}}},
		{name: "nobody", bucket: "excused", min: 1, want: []sheet.FlaggedEntity{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.svc.Flagged(context.Background(), tenantA, "attendance", tt.group, sheet.Range{}, tt.bucket, tt.min)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_Summarize_Invalid(t *testing.T) {
	env := setup(t, testConf)

	tests := []struct {
		name string
		q    sheet.ViewQuery
	}{
		{name: "unknown view", q: sheet.ViewQuery{View: "totals", Kind: "attendance"}},
		{name: "unknown kind", q: sheet.ViewQuery{View: sheet.ViewSheets, Kind: "fees"}},
		{name: "reversed range", q: sheet.ViewQuery{View: sheet.ViewSheets, Kind: "attendance", From: day2, To: day1}},
		{name: "unknown bucket", q: sheet.ViewQuery{View: sheet.ViewFlagged, Kind: "marks", Bucket: "absent"}},
		{name: "negative minimum", q: sheet.ViewQuery{View: sheet.ViewFlagged, Kind: "attendance", Min: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Summarize(context.Background(), tenantA, tt.q)
			assert.True(t, core.IsValidation(err), "got %v", err)
		})
	}
}
