package duplicate

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/duplicaterecord"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var validate = validator.New()

// Register registers duplicate record routes
func Register(g *echo.Group) {
	g.GET("/:id", GetDuplicate)
	g.POST("/:id/resolve", ResolveDuplicate)
	g.POST("/resolve", BulkResolve)
}

// GetDuplicate returns one flagged duplicate with its payload and keys
func GetDuplicate(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "duplicate_handler.GetDuplicate")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*duplicaterecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	record, err := repo.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, record)
}

// ResolveDuplicate applies one resolution strategy to a flagged duplicate
func ResolveDuplicate(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "duplicate_handler.ResolveDuplicate")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var req models.ResolveDuplicateRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, engine, err := ectoinject.GetContext[*resolution.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resolution engine")
	}

	record, err := engine.ResolveDuplicate(ctx, tenantID, c.Param("id"), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, record)
}

// BulkResolve applies one strategy to many duplicates, stopping at the
// first failure
func BulkResolve(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "duplicate_handler.BulkResolve")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var req models.BulkResolveDuplicatesRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, engine, err := ectoinject.GetContext[*resolution.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resolution engine")
	}

	resp, err := engine.BulkResolveDuplicates(ctx, tenantID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}
