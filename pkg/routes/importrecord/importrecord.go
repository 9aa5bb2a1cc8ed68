package importrecord

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/duplicaterecord"
	"github.com/Ramsey-B/fern/internal/repositories/importrecord"
	"github.com/Ramsey-B/fern/internal/repositories/rowupdate"
	"github.com/Ramsey-B/fern/internal/repositories/validationfailure"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Register registers import ledger routes
func Register(g *echo.Group) {
	g.GET("", ListImports)
	g.GET("/:id", GetImport)
	g.GET("/:id/duplicates", ListImportDuplicates)
	g.GET("/:id/validation-failures", ListImportValidationFailures)
	g.GET("/:id/row-updates", ListImportRowUpdates)
}

func pagination(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	return page, pageSize
}

func resolvedFilter(c echo.Context) *bool {
	switch c.QueryParam("resolved") {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	}
	return nil
}

// ListImports lists import records, optionally filtered by file or table
func ListImports(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "importrecord_handler.ListImports")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var fileID, targetTable *string
	if raw := c.QueryParam("file_id"); raw != "" {
		fileID = &raw
	}
	if raw := c.QueryParam("target_table"); raw != "" {
		targetTable = &raw
	}
	page, pageSize := pagination(c)

	ctx, repo, err := ectoinject.GetContext[*importrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	resp, err := repo.List(ctx, tenantID, fileID, targetTable, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// GetImport returns one import record with its counts
func GetImport(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "importrecord_handler.GetImport")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*importrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	record, err := repo.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, record)
}

// ListImportDuplicates lists the duplicates one import flagged
func ListImportDuplicates(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "importrecord_handler.ListImportDuplicates")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	id := c.Param("id")
	page, pageSize := pagination(c)

	ctx, repo, err := ectoinject.GetContext[*duplicaterecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	resp, err := repo.List(ctx, tenantID, &id, resolvedFilter(c), page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// ListImportValidationFailures lists the validation failures one import recorded
func ListImportValidationFailures(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "importrecord_handler.ListImportValidationFailures")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	id := c.Param("id")
	page, pageSize := pagination(c)

	ctx, repo, err := ectoinject.GetContext[*validationfailure.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	resp, err := repo.List(ctx, tenantID, &id, resolvedFilter(c), page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// ListImportRowUpdates lists the merge history tied to one import
func ListImportRowUpdates(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "importrecord_handler.ListImportRowUpdates")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	id := c.Param("id")
	page, pageSize := pagination(c)

	ctx, repo, err := ectoinject.GetContext[*rowupdate.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	resp, err := repo.List(ctx, tenantID, &id, nil, nil, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}
