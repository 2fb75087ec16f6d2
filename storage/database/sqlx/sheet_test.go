package sqlxrepos

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/sheets/core/sheet"
)

var day = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func TestFilterSheetsQuery(t *testing.T) {
	tests := []struct {
		name     string
		filter   sheet.QueryFilter
		wantCond string
		wantArgs []interface{}
	}{
		{
			name:     "tenant",
			filter:   sheet.QueryFilter{TenantID: "school-a"},
			wantCond: "tenant_id = ?",
			wantArgs: []interface{}{"school-a"},
		},
		{
			name:     "kind and group",
			filter:   sheet.QueryFilter{TenantID: "school-a", Kind: "attendance", Group: "class-1"},
			wantCond: "tenant_id = ? AND kind = ? AND scope_group = ?",
			wantArgs: []interface{}{"school-a", "attendance", "class-1"},
		},
		{
			name:     "range",
			filter:   sheet.QueryFilter{TenantID: "school-a", Range: sheet.Range{From: day, To: day.AddDate(0, 0, 6)}},
			wantCond: "tenant_id = ? AND scope_date >= ? AND scope_date <= ?",
			wantArgs: []interface{}{"school-a", "2026-03-02", "2026-03-08"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := filterSheetsQuery(tt.filter)
			assert.Equal(t, "SELECT "+sheetColumns+" FROM sheets WHERE "+tt.wantCond+" ORDER BY scope_key, id", q)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestAppendAuditQuery(t *testing.T) {
	recordID := "8c1c4b7e-2a55-4a4f-9f0e-1b7a64c0f6a1"
	entries := []sheet.AuditEntry{
		{ID: "a1", TenantID: "school-a", SheetID: "s1", RecordID: &recordID, ActorID: "teacher-1", Action: sheet.ActionCreateRecord, After: json.RawMessage(`{}`), CreatedAt: day},
		{ID: "a2", TenantID: "school-a", SheetID: "s1", ActorID: "teacher-1", Action: sheet.ActionSubmit, Before: json.RawMessage(`{}`), After: json.RawMessage(`{}`), CreatedAt: day},
	}

	q, args := appendAuditQuery(entries)
	assert.Equal(t, "INSERT INTO sheet_audit ("+auditColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?, ?, ?, ?)", q)
	require.Len(t, args, 18)
	assert.Equal(t, null.StringFrom(recordID), args[3])
	assert.Equal(t, null.JSON{}, args[6])
	assert.Equal(t, null.String{}, args[12])
	assert.Equal(t, null.JSONFrom([]byte(`{}`)), args[15])
}

func TestAppendAuditQueries(t *testing.T) {
	tests := []struct {
		name      string
		entries   int
		wantSizes []int
	}{
		{name: "none", entries: 0},
		{name: "one batch", entries: 1000, wantSizes: []int{1000}},
		{name: "large reconciliation", entries: 8000, wantSizes: []int{1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000}},
		{name: "remainder", entries: 2500, wantSizes: []int{1000, 1000, 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := make([]sheet.AuditEntry, tt.entries)
			for i := range entries {
				entries[i] = sheet.AuditEntry{ID: "a", TenantID: "school-a", SheetID: "s1", ActorID: "teacher-1", Action: sheet.ActionUpdateRecord, After: json.RawMessage(`{}`), CreatedAt: day}
			}

			queries := appendAuditQueries(entries)
			require.Len(t, queries, len(tt.wantSizes))
			total := 0
			for i, bq := range queries {
				assert.LessOrEqual(t, len(bq.args), 65535)
				assert.Len(t, bq.args, 9*tt.wantSizes[i])
				total += len(bq.args) / 9
			}
			assert.Equal(t, tt.entries, total)
		})
	}
}

func TestSetActiveQueries(t *testing.T) {
	entityIDs := make([]string, 14000)
	for i := range entityIDs {
		entityIDs[i] = "e"
	}

	queries := setActiveQueries("school-a", "attendance", "class-1", true, entityIDs)
	require.Len(t, queries, 14)
	for _, bq := range queries {
		assert.LessOrEqual(t, len(bq.args), 65535)
		assert.Len(t, bq.args, 5*1000)
	}
}

func TestSetActiveQuery(t *testing.T) {
	q, args := setActiveQuery("school-a", "attendance", "class-1", false, []string{"e1", "e2"})
	assert.Contains(t, q, "VALUES (?, ?, ?, ?, ?), (?, ?, ?, ?, ?) ON CONFLICT")
	assert.Equal(t, []interface{}{
		"school-a", "attendance", "class-1", "e1", false,
		"school-a", "attendance", "class-1", "e2", false,
	}, args)
}

func TestSheetRow(t *testing.T) {
	submitted := day.Add(8 * time.Hour)
	sh := sheet.Sheet{
		ID:          "s1",
		TenantID:    "school-a",
		Scope:       sheet.Scope{Kind: "marks", Group: "exam-1", Subject: "math", Date: day},
		ScopeKey:    "exam-1/math/2026-03-02",
		Status:      sheet.StatusSubmitted,
		CreatedAt:   day,
		UpdatedAt:   submitted,
		SubmittedAt: &submitted,
	}

	row := toSheetRow(sh)
	assert.True(t, row.SubmittedAt.Valid)
	assert.False(t, row.LockedAt.Valid)

	// postgres hands DATE columns back in the session time zone
	row.Date = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.FixedZone("", 0))
	assert.Equal(t, sh, row.sheet())
}

func TestRecordRow(t *testing.T) {
	minutes := 5
	rec := sheet.Record{
		ID:        "r1",
		TenantID:  "school-a",
		SheetID:   "s1",
		EntityID:  "e1",
		Values:    sheet.Values{Status: "late", MinutesLate: &minutes},
		CreatedAt: day,
		UpdatedAt: day,
		UpdatedBy: "teacher-1",
	}

	row, err := toRecordRow(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"late","minutes_late":5}`, string(row.Payload))

	got, err := row.record()
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	row.Payload = []byte(`{"status":`)
	_, err = row.record()
	assert.Error(t, err)
}
