package e2e

import (
	"fmt"
	"testing"
	"time"
)

// TestImportPipeline walks the HTTP import path end to end:
// register a stored file, import it into a fresh table, and verify the
// ledger, the file status, and the file-level duplicate rejection
func TestImportPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := DefaultConfig()

	// Quick check - skip if the service isn't running
	RequireService(t, cfg.FernURL)

	client := NewHTTPClient(cfg.FernURL, cfg.TestTenantID)

	t.Log("Fern is healthy")

	// Cleanup old test data first
	t.Log("Cleaning up old test files...")
	cleanupOldFiles(t, client)

	// Step 1: Seed a CSV into the shared storage directory
	nonce := time.Now().UnixNano()
	storageKey := fmt.Sprintf("e2e/contacts-%d.csv", nonce)
	csv := fmt.Sprintf("email,first_name,last_name\n"+
		"ada-%d@example.com,Ada,Lovelace\n"+
		"grace-%d@example.com,Grace,Hopper\n"+
		"edsger-%d@example.com,Edsger,Dijkstra\n", nonce, nonce, nonce)
	WriteStorageObject(t, cfg, storageKey, []byte(csv))

	// Step 2: Register the file
	t.Log("Registering file...")
	resp, err := client.Post("/api/v1/files", map[string]any{
		"name":        "contacts.csv",
		"storage_key": storageKey,
	})
	if err != nil {
		t.Fatalf("Failed to register file: %v", err)
	}
	if resp.StatusCode != 201 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Failed to register file: %d - %v", resp.StatusCode, body)
	}

	file, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse file response: %v", err)
	}
	fileID := file["id"].(string)
	t.Logf("Registered file: %s", fileID)

	if file["format"] != "csv" {
		t.Errorf("Expected format 'csv', got '%v'", file["format"])
	}
	if file["status"] != "uploaded" {
		t.Errorf("Expected status 'uploaded', got '%v'", file["status"])
	}

	// Step 3: Import it synchronously into a new table
	t.Log("Starting import...")
	resp, err = client.Post(fmt.Sprintf("/api/v1/files/%s/import", fileID), map[string]any{
		"target_table": "e2e_contacts",
		"create_table": true,
		"uniqueness_sets": [][]string{
			{"email"},
		},
		"mappings": []map[string]any{
			{"source_column": "email", "target_column": "email"},
			{"source_column": "first_name", "target_column": "first_name"},
			{"source_column": "last_name", "target_column": "last_name"},
		},
	})
	if err != nil {
		t.Fatalf("Failed to start import: %v", err)
	}
	if resp.StatusCode != 200 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Failed to start import: %d - %v", resp.StatusCode, body)
	}

	result, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse import response: %v", err)
	}
	record, ok := result["record"].(map[string]any)
	if !ok {
		t.Fatalf("Import response missing 'record' field: %v", result)
	}
	recordID := record["id"].(string)
	t.Logf("Import finished, record: %s", recordID)

	if record["finalized_at"] == nil {
		t.Error("Expected the import record to be finalized")
	}
	if record["rows_processed"] != float64(3) {
		t.Errorf("Expected 3 rows processed, got %v", record["rows_processed"])
	}
	if record["rows_inserted"] != float64(3) {
		t.Errorf("Expected 3 rows inserted, got %v", record["rows_inserted"])
	}
	if record["duplicate_count"] != float64(0) {
		t.Errorf("Expected 0 duplicates, got %v", record["duplicate_count"])
	}

	// Step 4: The ledger and the file status reflect the import
	resp, err = client.Get(fmt.Sprintf("/api/v1/imports/%s", recordID))
	if err != nil {
		t.Fatalf("Failed to get import record: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Expected 200 fetching the import record, got %d", resp.StatusCode)
	}
	fetched, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse import record: %v", err)
	}
	if fetched["file_id"] != fileID {
		t.Errorf("Expected import record file_id '%s', got '%v'", fileID, fetched["file_id"])
	}

	resp, err = client.Get(fmt.Sprintf("/api/v1/files/%s", fileID))
	if err != nil {
		t.Fatalf("Failed to get file: %v", err)
	}
	fetchedFile, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse file: %v", err)
	}
	if fetchedFile["status"] != "mapped" {
		t.Errorf("Expected file status 'mapped', got '%v'", fetchedFile["status"])
	}

	// Step 5: Registering the same content again is rejected
	t.Log("Re-registering the same content...")
	resp, err = client.Post("/api/v1/files", map[string]any{
		"name":        "contacts-again.csv",
		"storage_key": storageKey,
	})
	if err != nil {
		t.Fatalf("Failed to re-register file: %v", err)
	}
	if resp.StatusCode != 409 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Expected 409 for duplicate content, got %d - %v", resp.StatusCode, body)
	}
	errBody, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse duplicate error: %v", err)
	}
	meta, _ := errBody["meta"].(map[string]any)
	if meta["existing_file_id"] != fileID {
		t.Errorf("Expected existing_file_id '%s', got '%v'", fileID, meta["existing_file_id"])
	}

	t.Log("E2E test passed! File was imported and deduplicated through the pipeline.")
}

// TestFileDuplicateOverride verifies that allow_duplicate lets the same
// content in twice, and that importing the override copy still needs the
// override restated
func TestFileDuplicateOverride(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := DefaultConfig()

	RequireService(t, cfg.FernURL)

	client := NewHTTPClient(cfg.FernURL, cfg.TestTenantID)

	cleanupOldFiles(t, client)

	nonce := time.Now().UnixNano()
	csv := fmt.Sprintf("email,city\nmargaret-%d@example.com,Boston\nkatherine-%d@example.com,Hampton\n", nonce, nonce)

	keyA := fmt.Sprintf("e2e/override-a-%d.csv", nonce)
	keyB := fmt.Sprintf("e2e/override-b-%d.csv", nonce)
	WriteStorageObject(t, cfg, keyA, []byte(csv))
	WriteStorageObject(t, cfg, keyB, []byte(csv))

	// First copy claims the content
	resp, err := client.Post("/api/v1/files", map[string]any{
		"name":        "override-a.csv",
		"storage_key": keyA,
	})
	if err != nil {
		t.Fatalf("Failed to register first copy: %v", err)
	}
	if resp.StatusCode != 201 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Failed to register first copy: %d - %v", resp.StatusCode, body)
	}
	fileA, _ := ParseResponse[map[string]any](resp)
	idA := fileA["id"].(string)

	// Second copy is rejected without the override
	resp, err = client.Post("/api/v1/files", map[string]any{
		"name":        "override-b.csv",
		"storage_key": keyB,
	})
	if err != nil {
		t.Fatalf("Failed to register second copy: %v", err)
	}
	if resp.StatusCode != 409 {
		t.Fatalf("Expected 409 for duplicate content, got %d", resp.StatusCode)
	}
	errBody, _ := ParseResponse[map[string]any](resp)
	meta, _ := errBody["meta"].(map[string]any)
	if meta["existing_file_id"] != idA {
		t.Errorf("Expected existing_file_id '%s', got '%v'", idA, meta["existing_file_id"])
	}

	// The override admits it
	resp, err = client.Post("/api/v1/files", map[string]any{
		"name":            "override-b.csv",
		"storage_key":     keyB,
		"allow_duplicate": true,
	})
	if err != nil {
		t.Fatalf("Failed to register with override: %v", err)
	}
	if resp.StatusCode != 201 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Failed to register with override: %d - %v", resp.StatusCode, body)
	}
	fileB, _ := ParseResponse[map[string]any](resp)
	idB := fileB["id"].(string)
	if idB == idA {
		t.Fatalf("Override registration returned the existing file id %s", idA)
	}

	// Importing the override copy needs the override restated
	importReq := map[string]any{
		"target_table": "e2e_override",
		"create_table": true,
		"mappings": []map[string]any{
			{"source_column": "email", "target_column": "email"},
			{"source_column": "city", "target_column": "city"},
		},
	}
	resp, err = client.Post(fmt.Sprintf("/api/v1/files/%s/import", idB), importReq)
	if err != nil {
		t.Fatalf("Failed to start import: %v", err)
	}
	if resp.StatusCode != 409 {
		t.Fatalf("Expected 409 importing the override copy without the flag, got %d", resp.StatusCode)
	}

	importReq["allow_duplicate_file"] = true
	resp, err = client.Post(fmt.Sprintf("/api/v1/files/%s/import", idB), importReq)
	if err != nil {
		t.Fatalf("Failed to start import with override: %v", err)
	}
	if resp.StatusCode != 200 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Failed to import with override: %d - %v", resp.StatusCode, body)
	}
	result, _ := ParseResponse[map[string]any](resp)
	record, ok := result["record"].(map[string]any)
	if !ok {
		t.Fatalf("Import response missing 'record' field: %v", result)
	}
	if record["rows_inserted"] != float64(2) {
		t.Errorf("Expected 2 rows inserted, got %v", record["rows_inserted"])
	}
}

// TestRowDuplicateResolution imports overlapping files and resolves the
// resulting duplicates through the single and bulk endpoints
func TestRowDuplicateResolution(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := DefaultConfig()

	RequireService(t, cfg.FernURL)

	client := NewHTTPClient(cfg.FernURL, cfg.TestTenantID)

	cleanupOldFiles(t, client)

	nonce := time.Now().UnixNano()
	emailA := fmt.Sprintf("alan-%d@example.com", nonce)
	emailB := fmt.Sprintf("barbara-%d@example.com", nonce)
	emailC := fmt.Sprintf("claude-%d@example.com", nonce)

	mappings := []map[string]any{
		{"source_column": "email", "target_column": "email"},
		{"source_column": "last_name", "target_column": "last_name"},
	}

	// First file seeds the table
	keyA := fmt.Sprintf("e2e/dupes-a-%d.csv", nonce)
	WriteStorageObject(t, cfg, keyA, []byte(fmt.Sprintf(
		"email,last_name\n%s,Turing\n%s,Liskov\n", emailA, emailB)))

	fileA := registerFile(t, client, "dupes-a.csv", keyA)
	recordA := importFile(t, client, fileA, map[string]any{
		"target_table": "e2e_dupes",
		"create_table": true,
		"mappings":     mappings,
	})
	if recordA["rows_inserted"] != float64(2) {
		t.Fatalf("Expected 2 rows inserted by the first import, got %v", recordA["rows_inserted"])
	}

	// Declare the uniqueness set on the table
	tableID := findTableID(t, client, "e2e_dupes")
	resp, err := client.Put(fmt.Sprintf("/api/v1/tables/%s/uniqueness", tableID), map[string]any{
		"uniqueness_sets": [][]string{{"email"}},
	})
	if err != nil {
		t.Fatalf("Failed to update uniqueness sets: %v", err)
	}
	if resp.StatusCode != 200 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Failed to update uniqueness sets: %d - %v", resp.StatusCode, body)
	}

	// Second file overlaps on two emails
	keyB := fmt.Sprintf("e2e/dupes-b-%d.csv", nonce)
	WriteStorageObject(t, cfg, keyB, []byte(fmt.Sprintf(
		"email,last_name\n%s,Turing-Smith\n%s,Liskov-Jones\n%s,Shannon\n", emailA, emailB, emailC)))

	fileB := registerFile(t, client, "dupes-b.csv", keyB)
	recordB := importFile(t, client, fileB, map[string]any{
		"target_table": "e2e_dupes",
		"mappings":     mappings,
	})
	if recordB["rows_processed"] != float64(3) {
		t.Errorf("Expected 3 rows processed, got %v", recordB["rows_processed"])
	}
	if recordB["rows_inserted"] != float64(1) {
		t.Errorf("Expected 1 row inserted, got %v", recordB["rows_inserted"])
	}
	if recordB["duplicate_count"] != float64(2) {
		t.Errorf("Expected 2 duplicates, got %v", recordB["duplicate_count"])
	}

	// The duplicates are parked on the import record
	resp, err = client.Get(fmt.Sprintf("/api/v1/imports/%s/duplicates", recordB["id"]))
	if err != nil {
		t.Fatalf("Failed to list duplicates: %v", err)
	}
	dupes, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse duplicates: %v", err)
	}
	items, _ := dupes["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("Expected 2 parked duplicates, got %d", len(items))
	}

	first := items[0].(map[string]any)
	second := items[1].(map[string]any)
	if first["existing_row_id"] == "" {
		t.Error("Expected the duplicate to reference the existing row")
	}

	// Resolve one by keeping the existing row
	resp, err = client.Post(fmt.Sprintf("/api/v1/duplicates/%s/resolve", first["id"]), map[string]any{
		"strategy": "keep_existing",
	})
	if err != nil {
		t.Fatalf("Failed to resolve duplicate: %v", err)
	}
	if resp.StatusCode != 200 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Failed to resolve duplicate: %d - %v", resp.StatusCode, body)
	}
	resolved, _ := ParseResponse[map[string]any](resp)
	if resolved["resolution"] != "keep_existing" {
		t.Errorf("Expected resolution 'keep_existing', got '%v'", resolved["resolution"])
	}
	if resolved["resolved_at"] == nil {
		t.Error("Expected resolved_at to be set")
	}

	// Resolve the other through the bulk endpoint
	resp, err = client.Post("/api/v1/duplicates/resolve", map[string]any{
		"ids":      []string{second["id"].(string)},
		"strategy": "create_new",
	})
	if err != nil {
		t.Fatalf("Failed to bulk resolve: %v", err)
	}
	if resp.StatusCode != 200 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Failed to bulk resolve: %d - %v", resp.StatusCode, body)
	}
	bulk, _ := ParseResponse[map[string]any](resp)
	if bulk["resolved"] != float64(1) {
		t.Errorf("Expected 1 resolved, got %v", bulk["resolved"])
	}

	// Resolutions are terminal
	resp, err = client.Post(fmt.Sprintf("/api/v1/duplicates/%s/resolve", first["id"]), map[string]any{
		"strategy": "create_new",
	})
	if err != nil {
		t.Fatalf("Failed to re-resolve duplicate: %v", err)
	}
	if resp.StatusCode != 409 {
		t.Errorf("Expected 409 re-resolving a duplicate, got %d", resp.StatusCode)
	}
}

// TestHealthEndpoints verifies health endpoints are working
func TestHealthEndpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := DefaultConfig()

	RequireService(t, cfg.FernURL)

	client := NewHTTPClient(cfg.FernURL, cfg.TestTenantID)

	resp, err := client.Get("/api/v1/health")
	if err != nil {
		t.Fatalf("Failed to get health: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected health status 200, got %d", resp.StatusCode)
	}

	resp, err = client.Get("/api/v1/health/live")
	if err != nil {
		t.Fatalf("Failed to get liveness: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected liveness status 200, got %d", resp.StatusCode)
	}

	resp, err = client.Get("/api/v1/health/ready")
	if err != nil {
		t.Fatalf("Failed to get readiness: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected readiness status 200, got %d", resp.StatusCode)
	}
}

// registerFile registers a stored object and returns its id
func registerFile(t *testing.T, client *HTTPClient, name, storageKey string) string {
	t.Helper()

	resp, err := client.Post("/api/v1/files", map[string]any{
		"name":        name,
		"storage_key": storageKey,
	})
	if err != nil {
		t.Fatalf("Failed to register %s: %v", name, err)
	}
	if resp.StatusCode != 201 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Failed to register %s: %d - %v", name, resp.StatusCode, body)
	}
	file, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse file response: %v", err)
	}
	return file["id"].(string)
}

// importFile runs a synchronous import and returns the finalized record
func importFile(t *testing.T, client *HTTPClient, fileID string, req map[string]any) map[string]any {
	t.Helper()

	resp, err := client.Post(fmt.Sprintf("/api/v1/files/%s/import", fileID), req)
	if err != nil {
		t.Fatalf("Failed to import file %s: %v", fileID, err)
	}
	if resp.StatusCode != 200 {
		body, _ := ParseResponse[map[string]any](resp)
		t.Fatalf("Failed to import file %s: %d - %v", fileID, resp.StatusCode, body)
	}
	result, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse import response: %v", err)
	}
	record, ok := result["record"].(map[string]any)
	if !ok {
		t.Fatalf("Import response missing 'record' field: %v", result)
	}
	return record
}

// findTableID looks up a target table by key
func findTableID(t *testing.T, client *HTTPClient, key string) string {
	t.Helper()

	resp, err := client.Get("/api/v1/tables?page_size=100")
	if err != nil {
		t.Fatalf("Failed to list tables: %v", err)
	}
	list, err := ParseResponse[map[string]any](resp)
	if err != nil {
		t.Fatalf("Failed to parse table list: %v", err)
	}
	items, _ := list["items"].([]any)
	for _, item := range items {
		table, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if table["key"] == key {
			return table["id"].(string)
		}
	}
	t.Fatalf("Table %s not found", key)
	return ""
}
