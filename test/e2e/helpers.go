package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds test configuration
type Config struct {
	FernURL      string
	KafkaBrokers []string
	UploadsTopic string // file.uploaded notifications consumed by fern
	EventsTopic  string // import lifecycle events published by fern
	StorageDir   string // must be the same directory the service reads files from
	TestTenantID string
}

// DefaultConfig returns default test configuration
func DefaultConfig() Config {
	return Config{
		FernURL:      getEnv("FERN_URL", "http://localhost:3004"),
		KafkaBrokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
		UploadsTopic: getEnv("KAFKA_INPUT_TOPIC", "fern.files.uploaded"),
		EventsTopic:  getEnv("KAFKA_OUTPUT_TOPIC", "fern.imports"),
		StorageDir:   getEnv("STORAGE_BASE_PATH", "/var/lib/fern/files"),
		TestTenantID: getEnv("TEST_TENANT_ID", "test-tenant-e2e"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// HTTPClient wraps http.Client with helper methods
type HTTPClient struct {
	client   *http.Client
	baseURL  string
	tenantID string
}

// NewHTTPClient creates a new HTTP client for the service
func NewHTTPClient(baseURL, tenantID string) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:  baseURL,
		tenantID: tenantID,
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(path string) (*http.Response, error) {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// Put performs a PUT request with JSON body
func (c *HTTPClient) Put(path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("PUT", c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// Delete performs a DELETE request
func (c *HTTPClient) Delete(path string) (*http.Response, error) {
	req, err := http.NewRequest("DELETE", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.client.Do(req)
}

func (c *HTTPClient) addHeaders(req *http.Request) {
	req.Header.Set("X-Tenant-ID", c.tenantID)
	req.Header.Set("X-User-ID", "e2e-test-user")
}

// ParseResponse parses a JSON response into the given type
func ParseResponse[T any](resp *http.Response) (T, error) {
	var result T
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if err := json.Unmarshal(body, &result); err != nil {
		return result, fmt.Errorf("failed to parse response: %w (body: %s)", err, string(body))
	}
	return result, nil
}

// KafkaHelper provides Kafka testing utilities
type KafkaHelper struct {
	brokers []string
}

// NewKafkaHelper creates a new Kafka helper
func NewKafkaHelper(brokers []string) *KafkaHelper {
	return &KafkaHelper{brokers: brokers}
}

// ProduceMessage sends a message to a topic
func (k *KafkaHelper) ProduceMessage(ctx context.Context, topic string, key string, value []byte, headers map[string]string) error {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(k.brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	defer writer.Close()

	kafkaHeaders := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	return writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: kafkaHeaders,
	})
}

// ConsumeMessages consumes messages from a topic with a timeout
// Only returns messages published after 'afterTime' to filter out stale messages
func (k *KafkaHelper) ConsumeMessages(ctx context.Context, topic, groupID string, timeout time.Duration, maxMessages int) ([]kafka.Message, error) {
	return k.ConsumeMessagesAfter(ctx, topic, groupID, timeout, maxMessages, time.Time{})
}

// ConsumeMessagesAfter consumes messages from a topic, filtering for messages after a specific time
func (k *KafkaHelper) ConsumeMessagesAfter(ctx context.Context, topic, groupID string, timeout time.Duration, maxMessages int, afterTime time.Time) ([]kafka.Message, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	messages := make([]kafka.Message, 0, maxMessages)
	deadline := time.Now().Add(timeout)

	for len(messages) < maxMessages && time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
		msg, err := reader.FetchMessage(ctx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				continue // Timeout, try again
			}
			return messages, err
		}

		// Commit all messages to advance offset, but only keep recent ones
		reader.CommitMessages(context.Background(), msg)

		// Filter: only keep messages after the specified time
		if !afterTime.IsZero() && msg.Time.Before(afterTime) {
			continue // Skip old messages
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

// WaitForService waits for the service to be healthy
// Returns true if the service is available, false otherwise
func WaitForService(t *testing.T, url string, timeout time.Duration) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/api/v1/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return true
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}

	return false
}

// RequireService skips the test if the service is not available
// Waits up to 10 seconds for the service to become ready (handles 503 during startup)
func RequireService(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/api/v1/health")
		if err != nil {
			// Service not running at all
			t.Skipf("Skipping: fern at %s is not available. Start it with 'go run ./cmd/fern'", url)
			return
		}

		status := resp.StatusCode
		resp.Body.Close()

		if status == http.StatusOK {
			return // Service is ready
		}

		if status == http.StatusServiceUnavailable {
			// Service is starting up, wait and retry
			t.Logf("Service at %s is starting (503), waiting...", url)
			time.Sleep(1 * time.Second)
			continue
		}

		// Other error status
		t.Skipf("Skipping: service at %s returned status %d", url, status)
		return
	}

	t.Skipf("Skipping: service at %s did not become ready within 10s", url)
}

// ColumnMapping mirrors the service's wire shape for a column mapping
type ColumnMapping struct {
	SourceColumn string `json:"source_column"`
	TargetColumn string `json:"target_column"`
}

// FileUploadedMessage mirrors the notification fern consumes from the uploads topic
type FileUploadedMessage struct {
	Type           string          `json:"type"`
	TenantID       string          `json:"tenant_id"`
	Name           string          `json:"name"`
	StorageKey     string          `json:"storage_key"`
	TargetTable    string          `json:"target_table,omitempty"`
	Mappings       []ColumnMapping `json:"mappings,omitempty"`
	UniquenessSets [][]string      `json:"uniqueness_sets,omitempty"`
	AllowDuplicate bool            `json:"allow_duplicate,omitempty"`
	CreateTable    bool            `json:"create_table,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// CreateFileUploadedMessage creates a test upload notification
func CreateFileUploadedMessage(tenantID, name, storageKey, targetTable string, mappings []ColumnMapping) FileUploadedMessage {
	return FileUploadedMessage{
		Type:        "file.uploaded",
		TenantID:    tenantID,
		Name:        name,
		StorageKey:  storageKey,
		TargetTable: targetTable,
		Mappings:    mappings,
		CreateTable: true,
		Timestamp:   time.Now().UTC(),
	}
}

// ImportEvent mirrors the lifecycle events fern publishes to the events topic
type ImportEvent struct {
	EventType      string         `json:"event_type"`
	TenantID       string         `json:"tenant_id"`
	FileID         string         `json:"file_id,omitempty"`
	ImportRecordID string         `json:"import_record_id,omitempty"`
	JobID          string         `json:"job_id,omitempty"`
	TargetTable    string         `json:"target_table,omitempty"`
	Counts         map[string]int `json:"counts,omitempty"`
	Error          string         `json:"error,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// WriteStorageObject places a file where the service's object store can read it.
// The tests and the service must share STORAGE_BASE_PATH (a local volume in compose)
func WriteStorageObject(t *testing.T, cfg Config, key string, data []byte) {
	t.Helper()

	path := filepath.Join(cfg.StorageDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Skipf("Skipping: cannot write to storage dir %s: %v", cfg.StorageDir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Skipf("Skipping: cannot write storage object %s: %v", path, err)
	}
}

// cleanupOldFiles deletes all registered files for the test tenant
// This also releases their content fingerprints so reruns can register fresh copies
func cleanupOldFiles(t *testing.T, client *HTTPClient) {
	t.Helper()

	resp, err := client.Get("/api/v1/files?page_size=100")
	if err != nil {
		t.Logf("Warning: failed to list files for cleanup: %v", err)
		return
	}

	if resp.StatusCode != 200 {
		t.Logf("Warning: failed to list files, status: %d", resp.StatusCode)
		return
	}

	var list struct {
		Items []map[string]any `json:"items"`
	}
	if err := parseResponseBody(resp, &list); err != nil {
		t.Logf("Warning: failed to parse file list: %v", err)
		return
	}

	for _, file := range list.Items {
		id, ok := file["id"].(string)
		if !ok {
			continue
		}

		_, err := client.Delete(fmt.Sprintf("/api/v1/files/%s", id))
		if err != nil {
			t.Logf("Warning: failed to delete file %s: %v", id, err)
		}
	}

	if len(list.Items) > 0 {
		t.Logf("Cleaned up %d old files", len(list.Items))
	}
}

func parseResponseBody(resp *http.Response, v any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.Unmarshal(body, v)
}
