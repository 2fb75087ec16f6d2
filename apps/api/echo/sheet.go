package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/sheets/core"
	"github.com/trezcool/sheets/core/entitlement"
	"github.com/trezcool/sheets/core/sheet"
)

const dateLayout = "2006-01-02"

type sheetApi struct {
	svc  *sheet.Service
	gate entitlement.Gate
}

func registerSheetAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *sheet.Service, gate entitlement.Gate) {
	api := sheetApi{svc: svc, gate: gate}

	sg := g.Group("/sheets", jwt)
	sg.PUT("", api.ensure)

	// detail endpoints
	dg := sg.Group("/:id")
	canWrite := entitlementMiddleware(gate, api.sheetKind)
	dg.GET("", api.retrieve)
	dg.GET("/audit", api.audit)
	dg.POST("/records", api.reconcile, canWrite)
	dg.POST("/submit", api.submit, canWrite)
	dg.POST("/unlock", api.unlock, adminMiddleware(), canWrite)
	dg.POST("/lock", api.lock, adminMiddleware(), canWrite)

	g.GET("/summaries/:view", api.summarize, jwt)
}

type (
	EnsureRequest struct {
		Kind      string   `json:"kind"`
		Group     string   `json:"group"`
		Subject   string   `json:"subject"`
		Date      string   `json:"date"` // YYYY-MM-DD
		EntityIDs []string `json:"entity_ids"`
	}

	ReconcileRequest struct {
		Items []sheet.Item `json:"items"`
	}
)

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, core.NewValidationError(nil, core.FieldError{Field: field, Error: "must be a date formatted as YYYY-MM-DD"})
	}
	return day, nil
}

func (req EnsureRequest) newSheet() (sheet.NewSheet, error) {
	day, err := parseDate("date", req.Date)
	if err != nil {
		return sheet.NewSheet{}, err
	}
	return sheet.NewSheet{
		Scope:     sheet.Scope{Kind: req.Kind, Group: req.Group, Subject: req.Subject, Date: day},
		EntityIDs: req.EntityIDs,
	}, nil
}

// sheetKind reads the kind of the sheet in the path, for the entitlement gate.
func (api *sheetApi) sheetKind(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}
	kind, err := api.svc.Kind(ctx.Request().Context(), claims.TenantID, ctx.Param("id"))
	if err != nil {
		return "", errors.Wrap(err, "getting sheet kind")
	}
	return kind, nil
}

// Handlers

func (api *sheetApi) ensure(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data EnsureRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnsureRequest")
	}
	ns, err := data.newSheet()
	if err != nil {
		return err
	}
	if err = checkEntitlement(ctx, api.gate, ns.Kind); err != nil {
		return err
	}

	sh, err := api.svc.Ensure(ctx.Request().Context(), claims.TenantID, claims.Subject, ns)
	if err != nil {
		return errors.Wrap(err, "ensuring sheet")
	}
	return ctx.JSON(http.StatusOK, sh)
}

func (api *sheetApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	sh, err := api.svc.Get(ctx.Request().Context(), claims.TenantID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting sheet")
	}
	return ctx.JSON(http.StatusOK, sh)
}

func (api *sheetApi) audit(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	entries, err := api.svc.AuditTrail(ctx.Request().Context(), claims.TenantID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting audit trail")
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *sheetApi) reconcile(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data ReconcileRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReconcileRequest")
	}

	sh, err := api.svc.Reconcile(ctx.Request().Context(), claims.TenantID, ctx.Param("id"), claims.Subject, data.Items)
	if err != nil {
		return errors.Wrap(err, "reconciling records")
	}
	return ctx.JSON(http.StatusOK, sh)
}

type transitionFunc func(ctx echo.Context, tenantID, sheetID, actorID string) (sheet.Sheet, error)

func (api *sheetApi) transition(ctx echo.Context, name string, fn transitionFunc) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	sh, err := fn(ctx, claims.TenantID, ctx.Param("id"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, name)
	}
	return ctx.JSON(http.StatusOK, sh)
}

func (api *sheetApi) submit(ctx echo.Context) error {
	return api.transition(ctx, "submitting sheet", func(ctx echo.Context, tenantID, sheetID, actorID string) (sheet.Sheet, error) {
		return api.svc.Submit(ctx.Request().Context(), tenantID, sheetID, actorID)
	})
}

func (api *sheetApi) unlock(ctx echo.Context) error {
	return api.transition(ctx, "unlocking sheet", func(ctx echo.Context, tenantID, sheetID, actorID string) (sheet.Sheet, error) {
		return api.svc.Unlock(ctx.Request().Context(), tenantID, sheetID, actorID)
	})
}

func (api *sheetApi) lock(ctx echo.Context) error {
	return api.transition(ctx, "locking sheet", func(ctx echo.Context, tenantID, sheetID, actorID string) (sheet.Sheet, error) {
		return api.svc.Lock(ctx.Request().Context(), tenantID, sheetID, actorID)
	})
}

// bindViewQuery reads a ViewQuery from the path and query params.
func bindViewQuery(ctx echo.Context) (sheet.ViewQuery, error) {
	q := sheet.ViewQuery{
		View:      ctx.Param("view"),
		Kind:      ctx.QueryParam("kind"),
		Group:     core.CleanString(ctx.QueryParam("group")),
		EntityIDs: ctx.QueryParams()["entity"],
		Bucket:    core.CleanString(ctx.QueryParam("bucket"), true /* lower */),
	}

	var err error
	if q.From, err = parseDate("from", ctx.QueryParam("from")); err != nil {
		return q, err
	}
	if q.To, err = parseDate("to", ctx.QueryParam("to")); err != nil {
		return q, err
	}
	if s := ctx.QueryParam("min"); s != "" {
		if q.Min, err = strconv.Atoi(s); err != nil {
			return q, core.NewValidationError(nil, core.FieldError{Field: "min", Error: "must be a whole number"})
		}
	}
	return q, nil
}

func (api *sheetApi) summarize(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	q, err := bindViewQuery(ctx)
	if err != nil {
		return err
	}

	sum, err := api.svc.Summarize(ctx.Request().Context(), claims.TenantID, q)
	if err != nil {
		return errors.Wrap(err, "summarizing records")
	}
	return ctx.JSON(http.StatusOK, sum)
}
