package importer

import (
	"errors"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestTableLockKey(t *testing.T) {
	assert.Equal(t, "table:tenant-1:contacts", tableLockKey("tenant-1", "contacts"))
	assert.NotEqual(t, tableLockKey("tenant-1", "contacts"), tableLockKey("tenant-2", "contacts"))
}

func TestDropNotification(t *testing.T) {
	t.Run("client errors are dropped", func(t *testing.T) {
		assert.True(t, dropNotification(httperror.NewHTTPError(http.StatusBadRequest, "bad request")))
		assert.True(t, dropNotification(httperror.NewHTTPError(http.StatusConflict, "duplicate file")))
		assert.True(t, dropNotification(httperror.NewHTTPError(http.StatusNotFound, "no such table")))
	})

	t.Run("server errors are redelivered", func(t *testing.T) {
		assert.False(t, dropNotification(httperror.NewHTTPError(http.StatusInternalServerError, "db down")))
		assert.False(t, dropNotification(httperror.NewHTTPError(http.StatusServiceUnavailable, "storage down")))
	})

	t.Run("plain errors are redelivered", func(t *testing.T) {
		assert.False(t, dropNotification(errors.New("connection reset")))
	})
}

func TestEntryFailed(t *testing.T) {
	result := entryFailed("orders.csv", errors.New("parse error"))

	assert.Equal(t, "orders.csv", result.Name)
	assert.Equal(t, models.EntryOutcomeFailed, result.Outcome)
	assert.Equal(t, "parse error", result.Error)
	assert.False(t, result.CompletedAt.IsZero())
	assert.Nil(t, result.ImportRecordID)
}
