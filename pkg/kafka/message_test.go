package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileUploaded(t *testing.T) {
	msg := &IncomingMessage{
		Value: []byte(`{"type":"file.uploaded","tenant_id":"tenant-1","name":"orders.csv","storage_key":"uploads/orders.csv","target_table":"orders"}`),
	}

	require.NoError(t, msg.ParseFileUploaded())
	require.NotNil(t, msg.FileUploaded)
	assert.Equal(t, "tenant-1", msg.FileUploaded.TenantID)
	assert.Equal(t, "orders.csv", msg.FileUploaded.Name)
	assert.Equal(t, "orders", msg.FileUploaded.TargetTable)
}

func TestParseFileUploaded_InvalidJSON(t *testing.T) {
	msg := &IncomingMessage{Value: []byte("not json")}

	assert.Error(t, msg.ParseFileUploaded())
	assert.Nil(t, msg.FileUploaded)
}

func TestIsFileUploaded(t *testing.T) {
	t.Run("by header", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers: map[string]string{"type": "file.uploaded"},
			Value:   []byte(`{}`),
		}
		assert.True(t, msg.IsFileUploaded())
	})

	t.Run("by payload type", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers: map[string]string{},
			Value:   []byte(`{"type":"file.uploaded"}`),
		}
		assert.True(t, msg.IsFileUploaded())
	})

	t.Run("other message types", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers: map[string]string{},
			Value:   []byte(`{"type":"file.deleted"}`),
		}
		assert.False(t, msg.IsFileUploaded())
	})
}

func TestGetTenantID(t *testing.T) {
	t.Run("parsed payload wins", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers:      map[string]string{"tenant_id": "header-tenant"},
			FileUploaded: &FileUploadedMessage{TenantID: "payload-tenant"},
		}
		assert.Equal(t, "payload-tenant", msg.GetTenantID())
	})

	t.Run("header fallback", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers:      map[string]string{"tenant_id": "header-tenant"},
			FileUploaded: &FileUploadedMessage{},
		}
		assert.Equal(t, "header-tenant", msg.GetTenantID())
	})
}
