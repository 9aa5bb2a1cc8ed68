package kafka

import (
	"encoding/json"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// FileUploadedMessage is the notification an upstream system publishes when
// a file lands in object storage and should be imported
type FileUploadedMessage struct {
	Type           string                 `json:"type"` // "file.uploaded"
	TenantID       string                 `json:"tenant_id"`
	Name           string                 `json:"name"`
	StorageKey     string                 `json:"storage_key"`
	TargetTable    string                 `json:"target_table,omitempty"`
	Mappings       []models.ColumnMapping `json:"mappings,omitempty"`
	UniquenessSets [][]string             `json:"uniqueness_sets,omitempty"`
	AllowDuplicate bool                   `json:"allow_duplicate,omitempty"`
	CreateTable    bool                   `json:"create_table,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	FileUploaded *FileUploadedMessage
}

// ParseFileUploaded parses the message value as a file.uploaded notification
func (m *IncomingMessage) ParseFileUploaded() error {
	var msg FileUploadedMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return err
	}
	m.FileUploaded = &msg
	return nil
}

// IsFileUploaded checks whether the message is a file.uploaded notification
func (m *IncomingMessage) IsFileUploaded() bool {
	if msgType := m.Headers["type"]; msgType == "file.uploaded" {
		return true
	}

	var msg FileUploadedMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return false
	}
	return msg.Type == "file.uploaded"
}

// GetTenantID returns the tenant ID from the parsed message, falling back
// to the tenant_id header
func (m *IncomingMessage) GetTenantID() string {
	if m.FileUploaded != nil && m.FileUploaded.TenantID != "" {
		return m.FileUploaded.TenantID
	}
	return m.Headers["tenant_id"]
}
