package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/sheets/core/entitlement"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if _, err := getContextClaims(ctx); err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if contextHasAnyRole(ctx, append([]string{RoleAdmin}, roles...)) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// kindFunc returns the sheet kind a request is about to write.
type kindFunc func(ctx echo.Context) (string, error)

// entitlementMiddleware asks the gate whether the tenant may write sheets of the request's kind.
func entitlementMiddleware(gate entitlement.Gate, kindOf kindFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			kind, err := kindOf(ctx)
			if err != nil {
				return err
			}
			if err = checkEntitlement(ctx, gate, kind); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}

func checkEntitlement(ctx echo.Context, gate entitlement.Gate, kind string) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	ok, err := gate.CanWrite(ctx.Request().Context(), claims.TenantID, entitlement.WriteCapability(kind))
	if err != nil {
		return errors.Wrap(err, "checking entitlement")
	}
	if !ok {
		return errNotEntitled
	}
	return nil
}
