package job

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/importjob"
	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Register registers import job routes
func Register(g *echo.Group) {
	g.GET("", ListJobs)
	g.GET("/:id", GetJob)
	g.POST("/:id/cancel", CancelJob)
	g.POST("/:id/retry", RetryJob)
	g.POST("/:id/resume", ResumeJob)
}

// ListJobs returns a page of jobs, optionally filtered by status or file
func ListJobs(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "job_handler.ListJobs")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	var status *models.JobStatus
	if s := c.QueryParam("status"); s != "" {
		js := models.JobStatus(s)
		status = &js
	}
	var fileID *string
	if id := c.QueryParam("file_id"); id != "" {
		fileID = &id
	}

	ctx, repo, err := ectoinject.GetContext[*importjob.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	resp, err := repo.List(ctx, tenantID, status, fileID, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// GetJob returns the current state of one job. Clients poll this while a
// job runs.
func GetJob(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "job_handler.GetJob")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*importjob.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	job, err := repo.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// CancelJob cancels a queued or running job. Chunks already committed
// stay in the table.
func CancelJob(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "job_handler.CancelJob")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, service, err := ectoinject.GetContext[*importer.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get importer service")
	}

	job, err := service.CancelJob(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job)
}

// RetryJob enqueues a fresh job for a finished one, keeping the original
// request
func RetryJob(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "job_handler.RetryJob")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, service, err := ectoinject.GetContext[*importer.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get importer service")
	}

	job, err := service.RetryJob(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, job)
}

// ResumeJob enqueues a fresh archive job that picks up where a finished
// one left off
func ResumeJob(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "job_handler.ResumeJob")
	defer span.End()

	tenantID := context.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	var req models.ResumeJobRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, service, err := ectoinject.GetContext[*importer.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get importer service")
	}

	job, err := service.ResumeJob(ctx, tenantID, c.Param("id"), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, job)
}
