package importer

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// HandleUploadNotification consumes file.uploaded notifications: the file
// is registered, and when the notification names a target table an import
// job is submitted as well. Permanently bad messages are logged and
// dropped; only transient failures are returned for redelivery.
func (s *Service) HandleUploadNotification(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.HandleUploadNotification")
	defer span.End()

	if msg.FileUploaded == nil {
		if err := msg.ParseFileUploaded(); err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Unparseable upload notification; dropping")
			return nil
		}
	}
	notice := msg.FileUploaded

	tenantID := msg.GetTenantID()
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   tenantID,
		"name":        notice.Name,
		"storage_key": notice.StorageKey,
	})
	if tenantID == "" || notice.Name == "" || notice.StorageKey == "" {
		log.Error("Upload notification is missing required fields; dropping")
		return nil
	}
	ctx = appctx.SetTenantID(ctx, tenantID)

	file, err := s.RegisterFile(ctx, tenantID, models.RegisterFileRequest{
		Name:           notice.Name,
		StorageKey:     notice.StorageKey,
		AllowDuplicate: notice.AllowDuplicate,
	})
	if err != nil {
		if dropNotification(err) {
			log.WithError(err).Info("Registration rejected; dropping notification")
			return nil
		}
		return err
	}

	if notice.TargetTable == "" {
		return nil
	}

	async := true
	_, err = s.StartImport(ctx, tenantID, models.StartImportRequest{
		FileID:             file.ID,
		TargetTable:        notice.TargetTable,
		Mappings:           notice.Mappings,
		UniquenessSets:     notice.UniquenessSets,
		AllowDuplicateFile: notice.AllowDuplicate,
		CreateTable:        notice.CreateTable,
		Async:              &async,
	}, models.TriggerSourceKafka)
	if err != nil {
		if dropNotification(err) {
			log.WithError(err).WithFields(map[string]any{"file_id": file.ID}).Error("Import submission rejected; dropping notification")
			return nil
		}
		return err
	}
	return nil
}

// dropNotification reports whether a handler error is permanent. Client
// errors will fail identically on every redelivery, so the message is
// dropped; everything else is worth another attempt.
func dropNotification(err error) bool {
	if !httperror.IsHTTPError(err) {
		return false
	}
	code := httperror.GetStatusCode(err)
	return code >= http.StatusBadRequest && code < http.StatusInternalServerError
}
