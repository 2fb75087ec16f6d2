package echoapi_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/sheets/apps/api/echo"
	"github.com/trezcool/sheets/core/sheet"
)

func Test_home(t *testing.T) {
	env := setup(t)
	rec := env.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Masomo Sheets API!", rec.Body.String())
}

func Test_sheetApi_auth(t *testing.T) {
	env := setup(t)

	noTenant, err := echoapi.GenerateToken(&echoapi.Claims{StandardClaims: jwt.StandardClaims{Subject: teacher}}, conf.SecretKey)
	require.NoError(t, err)
	forged, err := echoapi.GenerateToken(echoapi.NewClaims(conf, tenantA, teacher), "not-the-secret")
	require.NoError(t, err)

	tests := []httpTest{
		{name: "token required", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "tenant required", token: noTenant, wantCode: http.StatusUnauthorized, wantData: marshalObj(t, httpErr{Error: "user not authenticated"})},
		{name: "forged token", token: forged, wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/v1/summaries/sheets?kind=attendance", tt.token)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_sheetApi_ensure(t *testing.T) {
	env := setup(t)
	env.enrol(t, tenantA, "class-1", "e1", "e2")

	body := func(req echoapi.EnsureRequest) []byte { return marshalObj(t, req) }
	tests := []httpTest{
		{
			name: "invalid date", token: getToken(t, tenantA, teacher), wantCode: http.StatusBadRequest,
			body:     body(echoapi.EnsureRequest{Kind: "attendance", Group: "class-1", Date: "02/03/2026"}),
			wantData: []byte(`{"date": "must be a date formatted as YYYY-MM-DD"}`),
		},
		{
			name: "group required", token: getToken(t, tenantA, teacher), wantCode: http.StatusBadRequest,
			body:     body(echoapi.EnsureRequest{Kind: "attendance", Date: "2026-03-02"}),
			wantData: []byte(`{"group": "this field is required"}`),
		},
		{
			name: "unknown kind", token: getToken(t, tenantA, teacher), wantCode: http.StatusBadRequest,
			body: body(echoapi.EnsureRequest{Kind: "fees", Group: "class-1", Date: "2026-03-02"}),
		},
		{
			name: "read-only tenant", token: getToken(t, readOnly, teacher), wantCode: http.StatusForbidden,
			body:     body(echoapi.EnsureRequest{Kind: "attendance", Group: "class-1", Date: "2026-03-02"}),
			wantData: marshalObj(t, httpErr{Error: "your plan does not allow this"}),
		},
		{
			name: "kind not in plan", token: getToken(t, tenantA, teacher), wantCode: http.StatusForbidden,
			body: body(echoapi.EnsureRequest{Kind: "marks", Group: "exam-1", Subject: "math", Date: "2026-03-02"}),
		},
		{
			name: "malformed body", token: getToken(t, tenantA, teacher), wantCode: http.StatusBadRequest,
			body: []byte(`{"kind": 1`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPut, "/v1/sheets", tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("opened", func(t *testing.T) {
		rec := env.do(http.MethodPut, "/v1/sheets", getToken(t, tenantA, teacher),
			body(echoapi.EnsureRequest{Kind: "attendance", Group: "class-1", Date: "2026-03-02"}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		sh := decodeSheet(t, rec)
		assert.Equal(t, "class-1/2026-03-02", sh.ScopeKey)
		assert.Equal(t, sheet.StatusEditable, sh.Status)
		require.Len(t, sh.Records, 2)
		assert.Equal(t, "present", sh.Records[0].Values.Status)

		again := env.do(http.MethodPut, "/v1/sheets", getToken(t, tenantA, teacher),
			body(echoapi.EnsureRequest{Kind: "Attendance", Group: " class-1 ", Date: "2026-03-02"}))
		require.Equal(t, http.StatusOK, again.Code)
		assert.Equal(t, sh.ID, decodeSheet(t, again).ID)
	})
}

func Test_sheetApi_workflow(t *testing.T) {
	env := setup(t)
	sh := env.openClass(t, tenantA, "class-1", "e1", "e2", "e3")
	path := "/v1/sheets/" + sh.ID

	teacherToken := getToken(t, tenantA, teacher, echoapi.RoleTeacher)
	adminToken := getToken(t, tenantA, admin, echoapi.RoleAdmin)
	items := func(items ...sheet.Item) []byte { return marshalObj(t, echoapi.ReconcileRequest{Items: items}) }

	steps := []httpTest{
		{
			name: "mark absent", method: http.MethodPost, path: path + "/records", token: teacherToken, wantCode: http.StatusOK,
			body: items(sheet.Item{EntityID: "e2", Status: "absent"}, sheet.Item{EntityID: "e1", Status: "present"}),
		},
		{
			name: "invalid item", method: http.MethodPost, path: path + "/records", token: teacherToken, wantCode: http.StatusBadRequest,
			body:     items(sheet.Item{EntityID: "e3", Status: "late"}),
			wantData: []byte(`{"items.e3.minutes_late": "this field is required when status is late"}`),
		},
		{name: "submit", method: http.MethodPost, path: path + "/submit", token: teacherToken, wantCode: http.StatusOK},
		{
			name: "closed", method: http.MethodPost, path: path + "/records", token: teacherToken, wantCode: http.StatusConflict,
			body:     items(sheet.Item{EntityID: "e2", Status: "present"}),
			wantData: marshalObj(t, httpErr{Error: "sheet is submitted: unlock required"}),
		},
		{
			name: "teachers cannot unlock", method: http.MethodPost, path: path + "/unlock", token: teacherToken, wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "admin unlocks", method: http.MethodPost, path: path + "/unlock", token: adminToken, wantCode: http.StatusOK},
		{
			name: "unlock twice", method: http.MethodPost, path: path + "/unlock", token: adminToken, wantCode: http.StatusConflict,
			wantData: marshalObj(t, httpErr{Error: "cannot unlock a sheet that is editable"}),
		},
		{
			name: "late", method: http.MethodPost, path: path + "/records", token: teacherToken, wantCode: http.StatusOK,
			body: items(sheet.Item{EntityID: "e3", Status: "late", MinutesLate: intPtr(10)}),
		},
		{name: "admin locks", method: http.MethodPost, path: path + "/lock", token: adminToken, wantCode: http.StatusOK},
		{
			name: "locked", method: http.MethodPost, path: path + "/submit", token: teacherToken, wantCode: http.StatusConflict,
			wantData: marshalObj(t, httpErr{Error: "sheet is locked: permanently locked"}),
		},
	}
	for _, tt := range steps {
		rec := env.do(tt.method, tt.path, tt.token, tt.body)
		if !assert.Equal(t, tt.wantCode, rec.Code, "%s: %s", tt.name, rec.Body.String()) {
			t.FailNow()
		}
		if tt.wantData != nil {
			assert.JSONEq(t, string(tt.wantData), rec.Body.String(), tt.name)
		}
	}

	rec := env.do(http.MethodGet, path, teacherToken)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeSheet(t, rec)
	assert.Equal(t, sheet.StatusLocked, got.Status)
	require.Len(t, got.Records, 3)
	assert.Equal(t, "absent", got.Records[1].Values.Status)
	assert.Equal(t, 10, *got.Records[2].Values.MinutesLate)

	rec = env.do(http.MethodGet, path+"/audit", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []sheet.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	actions := make([]sheet.Action, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []sheet.Action{
		sheet.ActionCreateRecord, sheet.ActionCreateRecord, sheet.ActionCreateRecord,
		sheet.ActionUpdateRecord,
		sheet.ActionSubmit,
		sheet.ActionUnlock,
		sheet.ActionUpdateRecord,
		sheet.ActionLock,
	}, actions)
	assert.Equal(t, admin, entries[len(entries)-1].ActorID)
}

func Test_sheetApi_submitIncomplete(t *testing.T) {
	env := setup(t)
	sh := env.openClass(t, tenantA, "class-1", "e1")
	env.enrol(t, tenantA, "class-1", "e3", "e2")

	rec := env.do(http.MethodPost, "/v1/sheets/"+sh.ID+"/submit", getToken(t, tenantA, teacher))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{
		"error": "2 active entities have no record yet: reopen the sheet to resync before submitting",
		"missing": ["e2", "e3"]
	}`, rec.Body.String())
}

func Test_sheetApi_tenantIsolation(t *testing.T) {
	env := setup(t)
	sh := env.openClass(t, tenantA, "class-1", "e1")
	path := "/v1/sheets/" + sh.ID
	other := getToken(t, tenantB, teacher, echoapi.RoleAdmin)
	notFound := marshalObj(t, httpErr{Error: "sheet not found"})

	tests := []httpTest{
		{name: "get", method: http.MethodGet, path: path, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "audit", method: http.MethodGet, path: path + "/audit", wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "reconcile", method: http.MethodPost, path: path + "/records", wantCode: http.StatusNotFound, wantData: notFound,
			body: marshalObj(t, echoapi.ReconcileRequest{Items: []sheet.Item{{EntityID: "e1", Status: "absent"}}}),
		},
		{name: "lock", method: http.MethodPost, path: path + "/lock", wantCode: http.StatusNotFound, wantData: notFound},
		{name: "bad id", method: http.MethodGet, path: "/v1/sheets/lol", wantCode: http.StatusNotFound, wantData: notFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, other, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_sheetApi_summarize(t *testing.T) {
	env := setup(t)
	sh := env.openClass(t, tenantA, "class-1", "e1", "e2", "e3")
	token := getToken(t, tenantA, teacher)
	rec := env.do(http.MethodPost, "/v1/sheets/"+sh.ID+"/records", token,
		marshalObj(t, echoapi.ReconcileRequest{Items: []sheet.Item{{EntityID: "e2", Status: "absent"}}}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tests := []httpTest{
		{name: "unknown view", path: "/v1/summaries/totals?kind=attendance", wantCode: http.StatusBadRequest},
		{name: "kind required", path: "/v1/summaries/sheets", wantCode: http.StatusBadRequest},
		{name: "bad date", path: "/v1/summaries/sheets?kind=attendance&from=yesterday", wantCode: http.StatusBadRequest},
		{name: "bad min", path: "/v1/summaries/flagged?kind=attendance&min=two", wantCode: http.StatusBadRequest},
		{
			name: "flagged", path: "/v1/summaries/flagged?kind=attendance&min=1", wantCode: http.StatusOK,
			wantData: []byte(`{"view": "flagged", "kind": "attendance", "bucket": "absent", "flagged": [{"entity_id": "e2", "count": 1}]}`),
		},
		{
			name: "entities", path: "/v1/summaries/entities?kind=attendance&entity=e2&entity=e9&from=2026-03-01&to=2026-03-31", wantCode: http.StatusOK,
			wantData: []byte(`{"view": "entities", "kind": "attendance", "entities": [
				{"entity_id": "e2", "counts": {"present": 0, "late": 0, "excused": 0, "absent": 1}, "total": 1, "favorable": 0, "unfavorable": 1, "rate": 0},
				{"entity_id": "e9", "counts": {"present": 0, "late": 0, "excused": 0, "absent": 0}, "total": 0, "favorable": 0, "unfavorable": 0, "rate": 0}
			]}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, tt.path, token)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("sheets", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/v1/summaries/sheets?kind=attendance&group=class-1", token)
		require.Equal(t, http.StatusOK, rec.Code)
		var sum sheet.Summary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
		require.Len(t, sum.Sheets, 1)
		assert.Equal(t, sh.ID, sum.Sheets[0].SheetID)
		assert.Equal(t, 67, sum.Sheets[0].Rate)
	})
}

func intPtr(i int) *int { return &i }
