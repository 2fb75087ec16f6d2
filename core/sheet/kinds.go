package sheet

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/trezcool/sheets/core"
)

// Kind owns the canonical shape of the records of one kind of Sheet.
// The reconciliation engine only talks to records through it.
type Kind interface {
	Name() string
	// Default is the value of records created when a Sheet is opened.
	Default() Values
	// Validate checks one desired state; it returns the first offending field.
	Validate(v Values) *core.FieldError
	// Normalize returns the canonical form of a valid Values.
	Normalize(v Values) Values
	Equal(a, b Values) bool

	// Bucket classifies a record for derived views.
	Bucket(v Values) string
	Buckets() []string
	Favorable(bucket string) bool
	// Flagged is the unfavorable bucket counted by threshold lists by default.
	Flagged() string
}

// Kinds maps kind names to their Kind.
type Kinds map[string]Kind

// NewKinds returns the record kinds configured by conf.
func NewKinds(conf core.SheetConfig) Kinds {
	kinds := Kinds{}
	for _, k := range []Kind{
		Attendance{LateMaxMinutes: conf.LateMaxMinutes, CommentMaxLen: conf.CommentMaxLen},
		Marks{MaxScore: conf.MaxScore, CommentMaxLen: conf.CommentMaxLen},
	} {
		kinds[k.Name()] = k
	}
	return kinds
}

func (kinds Kinds) Names() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (kinds Kinds) get(name string) (Kind, error) {
	if k, ok := kinds[name]; ok {
		return k, nil
	}
	return nil, core.NewValidationError(nil, core.FieldError{
		Field: "kind",
		Error: "must be one of " + strings.Join(kinds.Names(), ", "),
	})
}

// Attendance statuses
const (
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
	AttendanceLate    = "late"
	AttendanceExcused = "excused"
)

var attendanceStatuses = []string{AttendancePresent, AttendanceLate, AttendanceExcused, AttendanceAbsent}

// Attendance records hold one status per student for a class day.
// minutes_late is only carried by late students.
type Attendance struct {
	LateMaxMinutes int
	CommentMaxLen  int
}

var _ Kind = Attendance{}

func (Attendance) Name() string { return "attendance" }

func (Attendance) Default() Values { return Values{Status: AttendancePresent} }

func (k Attendance) Validate(v Values) *core.FieldError {
	status := core.CleanString(v.Status, true /* lower */)
	if !containsString(attendanceStatuses, status) {
		return &core.FieldError{Field: "status", Error: "must be one of " + strings.Join(attendanceStatuses, ", ")}
	}
	if status == AttendanceLate {
		if v.MinutesLate == nil {
			return &core.FieldError{Field: "minutes_late", Error: "this field is required when status is late"}
		}
		if *v.MinutesLate < 0 || *v.MinutesLate > k.LateMaxMinutes {
			return &core.FieldError{Field: "minutes_late", Error: fmt.Sprintf("must be between 0 and %d", k.LateMaxMinutes)}
		}
	} else if v.MinutesLate != nil {
		return &core.FieldError{Field: "minutes_late", Error: "only allowed when status is late"}
	}
	if v.Score != nil {
		return &core.FieldError{Field: "score", Error: "not allowed on attendance records"}
	}
	if v.IsMissing {
		return &core.FieldError{Field: "is_missing", Error: "not allowed on attendance records"}
	}
	return validateComment(v.Comment, k.CommentMaxLen)
}

func (Attendance) Normalize(v Values) Values {
	n := Values{
		Status:  core.CleanString(v.Status, true /* lower */),
		Comment: core.NullString(v.Comment),
	}
	if n.Status == AttendanceLate && v.MinutesLate != nil {
		minutes := *v.MinutesLate
		n.MinutesLate = &minutes
	}
	return n
}

func (Attendance) Equal(a, b Values) bool {
	return a.Status == b.Status && intPtrEqual(a.MinutesLate, b.MinutesLate) && strPtrEqual(a.Comment, b.Comment)
}

func (Attendance) Bucket(v Values) string { return v.Status }

func (Attendance) Buckets() []string { return attendanceStatuses }

func (Attendance) Favorable(bucket string) bool {
	return bucket == AttendancePresent || bucket == AttendanceLate
}

func (Attendance) Flagged() string { return AttendanceAbsent }

// Marks buckets
const (
	MarksScored   = "scored"
	MarksUngraded = "ungraded"
	MarksMissing  = "missing"
)

// Marks records hold one student's score for a subject in an exam session.
// is_missing is the discriminant: a missing student has no score.
type Marks struct {
	MaxScore      float64
	CommentMaxLen int
}

var _ Kind = Marks{}

func (Marks) Name() string { return "marks" }

func (Marks) Default() Values { return Values{} }

func (k Marks) Validate(v Values) *core.FieldError {
	if core.CleanString(v.Status) != "" {
		return &core.FieldError{Field: "status", Error: "not allowed on marks records"}
	}
	if v.MinutesLate != nil {
		return &core.FieldError{Field: "minutes_late", Error: "not allowed on marks records"}
	}
	if v.Score != nil {
		if v.IsMissing {
			return &core.FieldError{Field: "score", Error: "not allowed when is_missing is set"}
		}
		if math.IsNaN(*v.Score) || *v.Score < 0 || *v.Score > k.MaxScore {
			return &core.FieldError{Field: "score", Error: fmt.Sprintf("must be between 0 and %g", k.MaxScore)}
		}
	}
	return validateComment(v.Comment, k.CommentMaxLen)
}

func (Marks) Normalize(v Values) Values {
	n := Values{
		IsMissing: v.IsMissing,
		Comment:   core.NullString(v.Comment),
	}
	if !v.IsMissing && v.Score != nil {
		score := *v.Score
		n.Score = &score
	}
	return n
}

func (Marks) Equal(a, b Values) bool {
	return a.IsMissing == b.IsMissing && floatPtrEqual(a.Score, b.Score) && strPtrEqual(a.Comment, b.Comment)
}

func (Marks) Bucket(v Values) string {
	switch {
	case v.IsMissing:
		return MarksMissing
	case v.Score != nil:
		return MarksScored
	default:
		return MarksUngraded
	}
}

func (Marks) Buckets() []string { return []string{MarksScored, MarksUngraded, MarksMissing} }

func (Marks) Favorable(bucket string) bool { return bucket == MarksScored }

func (Marks) Flagged() string { return MarksMissing }

func validateComment(comment *string, maxLen int) *core.FieldError {
	if comment == nil {
		return nil
	}
	if utf8.RuneCountInString(core.CleanString(*comment)) > maxLen {
		return &core.FieldError{Field: "comment", Error: fmt.Sprintf("must be at most %d characters long", maxLen)}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
