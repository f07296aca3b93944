package history

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndGet(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rec := Record{
		QueryID:    "q-1",
		QueryText:  "Hi, how are you?",
		Path:       "local",
		Confidence: 0.8,
		Strategy:   "single",
		Response:   "Doing well, thanks for asking.",
		Sources:    []string{"local"},
		CreatedAt:  time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
	}

	hash, err := store.Append(rec)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("expected sha256 hex hash, got %q", hash)
	}

	// Object lands in a shard named by the hash prefix.
	path := filepath.Join(store.BasePath, "objects", hash[:2], hash+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("object file not written: %v", err)
	}

	got, err := store.Get(hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.QueryID != rec.QueryID || got.Response != rec.Response || got.Path != rec.Path {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for i := 0; i < 5; i++ {
		_, err := store.Append(Record{
			QueryID:   fmt.Sprintf("q-%d", i),
			QueryText: fmt.Sprintf("query %d", i),
			Response:  fmt.Sprintf("answer %d", i),
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	records, err := store.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		want := fmt.Sprintf("q-%d", i+2)
		if rec.QueryID != want {
			t.Fatalf("record %d: expected %s, got %s", i, want, rec.QueryID)
		}
	}
}

func TestRecentEmptyStore(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	records, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent on empty store: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestAppendSetsTimestamp(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	hash, err := store.Append(Record{QueryID: "q-ts", Response: "ok"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	rec, err := store.Get(hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be filled in")
	}
}
