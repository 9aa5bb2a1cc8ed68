package table

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/importrecord"
	"github.com/Ramsey-B/fern/internal/repositories/targettable"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Register registers target table routes. Tables are created through
// imports (create_table) rather than a direct create endpoint.
func Register(g *echo.Group) {
	g.GET("", ListTables)
	g.GET("/:id", GetTable)
	g.PUT("/:id/uniqueness", UpdateUniqueness)
	g.DELETE("/:id", DeleteTable)
}

// ListTables lists the tenant's target tables
func ListTables(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "table_handler.ListTables")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*targettable.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	resp, err := repo.List(ctx, tenantID, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// GetTable returns a single target table by id
func GetTable(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "table_handler.GetTable")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*targettable.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	table, err := repo.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, table)
}

// UpdateUniqueness replaces a table's uniqueness column sets. The new sets
// apply to the next import; rows already loaded are not re-checked.
func UpdateUniqueness(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "table_handler.UpdateUniqueness")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var req models.UpdateUniquenessRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, repo, err := ectoinject.GetContext[*targettable.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	table, err := repo.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	// Sets must name real table columns
	columns, err := table.ColumnDefs()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(columns))
	for _, col := range columns {
		known[col.Name] = true
	}
	for _, set := range req.UniquenessSets {
		if len(set) == 0 {
			return httperror.NewHTTPError(http.StatusBadRequest, "uniqueness sets may not be empty")
		}
		for _, name := range set {
			if !known[name] {
				return httperror.NewHTTPErrorf(http.StatusBadRequest, "uniqueness column %s is not a table column", name)
			}
		}
	}

	sets := req.UniquenessSets
	updated, err := repo.Update(ctx, tenantID, table.ID, models.UpdateTargetTableRequest{UniquenessSets: &sets})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, updated)
}

// DeleteTable soft-deletes a table definition. The physical table and its
// rows stay in place; definitions referenced by import records cannot be
// deleted.
func DeleteTable(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "table_handler.DeleteTable")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*targettable.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	table, err := repo.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	ctx, ledger, err := ectoinject.GetContext[*importrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	refs, err := ledger.List(ctx, tenantID, nil, &table.Key, 1, 1)
	if err != nil {
		return err
	}
	if refs.TotalCount > 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "table is referenced by %d import records", refs.TotalCount)
	}

	if err := repo.SoftDelete(ctx, tenantID, table.ID); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
