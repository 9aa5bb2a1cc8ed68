package rowupdate

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Register registers row update routes
func Register(g *echo.Group) {
	g.POST("/:id/rollback", RollbackRowUpdate)
}

// RollbackRowUpdate restores the before image of a recorded row update.
// The rollback conflicts when the row changed again afterwards unless
// force is set.
func RollbackRowUpdate(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "rowupdate_handler.RollbackRowUpdate")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var req models.RollbackRowUpdateRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, engine, err := ectoinject.GetContext[*resolution.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resolution engine")
	}

	update, err := engine.RollbackRowUpdate(ctx, tenantID, c.Param("id"), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, update)
}
