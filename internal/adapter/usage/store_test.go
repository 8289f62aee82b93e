package usage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/thushan/llmrelay/internal/core/domain"
)

func TestStore_RecordCreatesFileSkeleton(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.json")
	store := New(path)

	err := store.Record("claude-3-opus", domain.UsageRecord{Requests: 1, InputTokens: 10, OutputTokens: 20, TotalTokens: 30})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}

	var file domain.UsageFile
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if file.Summary.Requests != 1 {
		t.Errorf("expected summary requests 1, got %d", file.Summary.Requests)
	}
	if file.ByModel["claude-3-opus"].TotalTokens != 30 {
		t.Errorf("expected 30 total tokens, got %d", file.ByModel["claude-3-opus"].TotalTokens)
	}
}

func TestStore_RecordAccumulates(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "usage.json"))

	for i := 0; i < 3; i++ {
		if err := store.Record("m1", domain.UsageRecord{Requests: 1, TotalTokens: 5}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	file, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if file.Summary.Requests != 3 {
		t.Errorf("expected 3 requests accumulated, got %d", file.Summary.Requests)
	}
	if file.ByModel["m1"].TotalTokens != 15 {
		t.Errorf("expected 15 total tokens, got %d", file.ByModel["m1"].TotalTokens)
	}
}

func TestStore_ConcurrentRecordsNeverTornWrite(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "usage.json"))

	var wg sync.WaitGroup
	const n = 25
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Record("concurrent-model", domain.UsageRecord{Requests: 1})
		}()
	}
	wg.Wait()

	file, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if file.Summary.Requests != n {
		t.Errorf("expected %d accumulated requests, got %d", n, file.Summary.Requests)
	}
}
