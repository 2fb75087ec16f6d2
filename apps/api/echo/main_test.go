package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/sheets/apps/api/echo"
	"github.com/trezcool/sheets/core"
	"github.com/trezcool/sheets/core/entitlement"
	"github.com/trezcool/sheets/core/sheet"
	logsvc "github.com/trezcool/sheets/services/logger"
	inmemdb "github.com/trezcool/sheets/storage/database/inmem"
)

var (
	tenantA  = "school-a"
	tenantB  = "school-b"
	readOnly = "school-ro"
	teacher  = "teacher-1"
	admin    = "admin-1"

	conf = &core.Config{
		AppName:   "Masomo Sheets",
		TestMode:  true,
		SecretKey: "secret",
		Server:    core.ServerConfig{JWTExpirationDelta: time.Hour},
		Sheet: core.SheetConfig{
			ChunkSize:      40,
			TxTimeout:      5 * time.Second,
			CommentMaxLen:  250,
			LateMaxMinutes: 600,
			MaxScore:       100,
		},
		Entitlement: core.EntitlementConfig{ReadOnlyTenants: []string{readOnly, tenantA + ":marks:write"}},
	}

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

type testEnv struct {
	app    *echoapi.Server
	roster *inmemdb.Roster
}

func setup(t *testing.T) testEnv {
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	roster := inmemdb.NewRoster(db)

	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)

	now := func() time.Time { return time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC) }
	svc := sheet.NewServiceMock(inmemdb.NewSheetRepository(db), roster, logger, conf.Sheet, now)

	app := echoapi.NewServer(echoapi.ServerDeps{
		Conf:           conf,
		Logger:         logger,
		SheetSvc:       svc,
		Gate:           entitlement.NewConfigGate(conf.Entitlement),
		DisableReqLogs: true,
	})
	return testEnv{app: app, roster: roster}
}

func (env testEnv) enrol(t *testing.T, tenantID, group string, entityIDs ...string) {
	if err := env.roster.SetActive(context.Background(), tenantID, "attendance", group, true, entityIDs...); err != nil {
		t.Fatalf("enrol() failed: %v", err)
	}
}

// do serves one request and returns the recorded response.
func (env testEnv) do(method, path, token string, body ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, body...)
	env.app.ServeHTTP(rec, req)
	return rec
}

// openClass enrols entityIDs and opens the attendance sheet of group for 2026-03-02.
func (env testEnv) openClass(t *testing.T, tenantID, group string, entityIDs ...string) sheet.Sheet {
	env.enrol(t, tenantID, group, entityIDs...)
	rec := env.do(http.MethodPut, "/v1/sheets", getToken(t, tenantID, teacher),
		marshalObj(t, echoapi.EnsureRequest{Kind: "attendance", Group: group, Date: "2026-03-02"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("openClass() failed: %d %s", rec.Code, rec.Body.String())
	}
	return decodeSheet(t, rec)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func getToken(t *testing.T, tenantID, actorID string, roles ...string) string {
	claims := echoapi.NewClaims(conf, tenantID, actorID, roles...)
	token, err := echoapi.GenerateToken(claims, conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func decodeSheet(t *testing.T, rec *httptest.ResponseRecorder) sheet.Sheet {
	var sh sheet.Sheet
	if err := json.Unmarshal(rec.Body.Bytes(), &sh); err != nil {
		t.Fatalf("decodeSheet() failed: %v", err)
	}
	return sh
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}
