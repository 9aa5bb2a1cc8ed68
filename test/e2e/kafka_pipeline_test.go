package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

// TestKafkaUploadPipeline tests the uploads topic → fern → events topic pipeline
// This test simulates the uploader by publishing a file.uploaded notification
// and verifying fern registers the file, runs the import, and emits the
// lifecycle events. Fern must run with KAFKA_CONSUMER_ENABLED=true and
// WORKER_ENABLED=true
func TestKafkaUploadPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := DefaultConfig()

	// Quick check - skip if the service isn't running
	RequireService(t, cfg.FernURL)

	kafkaHelper := NewKafkaHelper(cfg.KafkaBrokers)
	client := NewHTTPClient(cfg.FernURL, cfg.TestTenantID)

	ctx := context.Background()

	t.Log("Fern is healthy")

	// Cleanup old test data first
	t.Log("Cleaning up old test files...")
	cleanupOldFiles(t, client)

	// Step 1: Seed a CSV into the shared storage directory
	nonce := time.Now().UnixNano()
	name := fmt.Sprintf("kafka-contacts-%d.csv", nonce)
	storageKey := fmt.Sprintf("e2e/kafka-%d.csv", nonce)
	csv := fmt.Sprintf("email,first_name\nvint-%d@example.com,Vint\nradia-%d@example.com,Radia\n", nonce, nonce)
	WriteStorageObject(t, cfg, storageKey, []byte(csv))

	// Step 2: Publish the upload notification
	t.Log("Producing upload notification to Kafka...")

	// Record time before publishing to filter out old messages
	publishTime := time.Now().Add(-1 * time.Second) // Small buffer for clock skew

	msg := CreateFileUploadedMessage(cfg.TestTenantID, name, storageKey, "e2e_kafka", []ColumnMapping{
		{SourceColumn: "email", TargetColumn: "email"},
		{SourceColumn: "first_name", TargetColumn: "first_name"},
	})

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal upload notification: %v", err)
	}

	headers := map[string]string{
		"tenant_id": cfg.TestTenantID,
	}

	err = kafkaHelper.ProduceMessage(ctx, cfg.UploadsTopic, cfg.TestTenantID, msgBytes, headers)
	if err != nil {
		t.Fatalf("Failed to produce message to Kafka: %v", err)
	}
	t.Log("Produced upload notification to Kafka")

	// Step 3: Consume the lifecycle events (filter for recent messages only)
	t.Log("Waiting for fern to import the file...")
	messages, err := kafkaHelper.ConsumeMessagesAfter(
		ctx,
		cfg.EventsTopic,
		fmt.Sprintf("e2e-test-%d", nonce),
		60*time.Second,
		2,
		publishTime,
	)
	if err != nil {
		t.Fatalf("Failed to consume messages: %v", err)
	}

	if len(messages) == 0 {
		t.Fatal("No messages received from the events topic")
	}

	// Step 4: Verify the lifecycle events
	var completed *ImportEvent
	for _, m := range messages {
		var event ImportEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			t.Logf("Skipping unparseable event: %v", err)
			continue
		}
		if event.TenantID != cfg.TestTenantID {
			continue
		}
		t.Logf("Observed event: %s (table %s)", event.EventType, event.TargetTable)

		if event.EventType == "import.failed" {
			t.Fatalf("Import failed: %s", event.Error)
		}
		if event.EventType == "import.completed" && event.TargetTable == "e2e_kafka" {
			completed = &event
		}
	}
	if completed == nil {
		t.Fatal("No import.completed event received")
	}
	if completed.Counts["rows_inserted"] != 2 {
		t.Errorf("Expected 2 rows inserted, got %d", completed.Counts["rows_inserted"])
	}

	// Give the job tracker time to record the terminal status
	time.Sleep(2 * time.Second)

	// Step 5: The file and its job are visible over HTTP
	resp, err := client.Get("/api/v1/files?page_size=100")
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	list, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse file list: %v", err)
	}

	var fileID string
	items, _ := list["items"].([]any)
	for _, item := range items {
		file, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if file["name"] == name {
			fileID = file["id"].(string)
			break
		}
	}
	if fileID == "" {
		t.Fatalf("File %s was not registered", name)
	}

	resp, err = client.Get(fmt.Sprintf("/api/v1/files/%s/jobs", fileID))
	if err != nil {
		t.Fatalf("Failed to get latest job: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Expected 200 fetching the latest job, got %d", resp.StatusCode)
	}
	job, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse job: %v", err)
	}
	if job["status"] != "succeeded" {
		t.Errorf("Expected job status 'succeeded', got '%v'", job["status"])
	}
	if job["trigger_source"] != "kafka" {
		t.Errorf("Expected trigger_source 'kafka', got '%v'", job["trigger_source"])
	}

	t.Log("E2E test passed! Upload notification was imported through the pipeline.")
}
