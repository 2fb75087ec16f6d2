package sheet

import (
	"encoding/json"
	"strings"
	"time"
)

// Status of a Sheet.
type Status string

const (
	StatusEditable  Status = "EDITABLE"
	StatusSubmitted Status = "SUBMITTED"
	StatusLocked    Status = "LOCKED"
)

// Action of an AuditEntry.
type Action string

const (
	ActionCreateRecord Action = "CREATE_RECORD"
	ActionUpdateRecord Action = "UPDATE_RECORD"
	ActionSubmit       Action = "SUBMIT_CONTAINER"
	ActionUnlock       Action = "UNLOCK_CONTAINER"
	ActionLock         Action = "LOCK_CONTAINER"
)

// SystemActor is the actor recorded for changes nobody asked for explicitly.
const SystemActor = "system"

const dateLayout = "2006-01-02"

// Scope locates a Sheet within a tenant.
// Group is a class (attendance) or an exam session (marks); Subject is optional.
type Scope struct {
	Kind    string    `json:"kind" validate:"required"`
	Group   string    `json:"group" validate:"required,notblank,max=64"`
	Subject string    `json:"subject,omitempty" validate:"max=64"`
	Date    time.Time `json:"date" validate:"required"`
}

// Key renders the canonical scope key, unique per tenant and kind.
// Keys sort by group, subject then date.
func (s Scope) Key() string {
	parts := make([]string, 0, 3)
	parts = append(parts, s.Group)
	if s.Subject != "" {
		parts = append(parts, s.Subject)
	}
	parts = append(parts, s.Date.Format(dateLayout))
	return strings.Join(parts, "/")
}

func (s *Scope) clean() {
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	s.Group = strings.TrimSpace(s.Group)
	s.Subject = strings.TrimSpace(s.Subject)
	if !s.Date.IsZero() {
		s.Date = truncDay(s.Date)
	}
}

// Sheet is one approval unit: a class's attendance for a day, a subject's marksheet for an exam session.
type Sheet struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Scope       Scope      `json:"scope"`
	ScopeKey    string     `json:"scope_key"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"` // UTC
	UpdatedAt   time.Time  `json:"updated_at"` // UTC
	SubmittedAt *time.Time `json:"submitted_at"`
	LockedAt    *time.Time `json:"locked_at"`
	Records     []Record   `json:"records"`
}

func (sh Sheet) snapshot() SheetSnapshot {
	return SheetSnapshot{Status: sh.Status, SubmittedAt: sh.SubmittedAt, LockedAt: sh.LockedAt}
}

// Values is the payload of a Record. Each Kind decides which fields are canonical.
type Values struct {
	Status      string   `json:"status,omitempty"`
	MinutesLate *int     `json:"minutes_late,omitempty"`
	Score       *float64 `json:"score,omitempty"`
	IsMissing   bool     `json:"is_missing,omitempty"`
	Comment     *string  `json:"comment,omitempty"`
}

// Record is one entity's observation within a Sheet.
type Record struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	SheetID   string    `json:"sheet_id"`
	EntityID  string    `json:"entity_id"`
	Values    Values    `json:"values"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
	UpdatedBy string    `json:"updated_by"`
}

func (r Record) snapshot() RecordSnapshot {
	return RecordSnapshot{EntityID: r.EntityID, Values: r.Values}
}

// AuditEntry is an immutable trace of one state change.
type AuditEntry struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	SheetID   string          `json:"sheet_id"`
	RecordID  *string         `json:"record_id"`
	ActorID   string          `json:"actor_id"`
	Action    Action          `json:"action"`
	Before    json.RawMessage `json:"before"`
	After     json.RawMessage `json:"after"`
	CreatedAt time.Time       `json:"created_at"` // UTC
}

type (
	RecordSnapshot struct {
		EntityID string `json:"entity_id"`
		Values   Values `json:"values"`
	}

	SheetSnapshot struct {
		Status      Status     `json:"status"`
		SubmittedAt *time.Time `json:"submitted_at"`
		LockedAt    *time.Time `json:"locked_at"`
	}
)

// Item is the desired state of one entity's record, as submitted by a caller.
type Item struct {
	EntityID    string   `json:"entity_id" validate:"required,notblank,max=64"`
	Status      string   `json:"status,omitempty"`
	MinutesLate *int     `json:"minutes_late,omitempty"`
	Score       *float64 `json:"score,omitempty"`
	IsMissing   bool     `json:"is_missing,omitempty"`
	Comment     *string  `json:"comment,omitempty"`
}

func (it Item) values() Values {
	return Values{
		Status:      it.Status,
		MinutesLate: it.MinutesLate,
		Score:       it.Score,
		IsMissing:   it.IsMissing,
		Comment:     it.Comment,
	}
}

// NewSheet contains information needed to open a Sheet.
type NewSheet struct {
	Scope
	EntityIDs []string `json:"entity_ids" validate:"dive,required,notblank,max=64"`
}

// Range bounds derived views; zero values are open ends. Both ends are inclusive days.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether day falls within the range.
func (r Range) Contains(day time.Time) bool {
	if !r.From.IsZero() && day.Before(truncDay(r.From)) {
		return false
	}
	if !r.To.IsZero() && day.After(truncDay(r.To)) {
		return false
	}
	return true
}

func truncDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
