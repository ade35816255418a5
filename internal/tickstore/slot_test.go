package tickstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gascap/internal/models"
)

func TestFileSlotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ticks.json")
	slot, err := NewFileSlot(path)
	if err != nil {
		t.Fatalf("new file slot: %v", err)
	}

	want := []models.Tick{{Price: 42.5, Time: 100}, {Price: 43, Time: 120}}
	if err := slot.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := slot.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("round trip mismatch: %#v", got)
	}
}

func TestFileSlotLoadMissingFile(t *testing.T) {
	ctx := context.Background()
	slot, err := NewFileSlot(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("new file slot: %v", err)
	}

	ticks, err := slot.Load(ctx)
	if err != nil {
		t.Fatalf("missing file must read as empty history: %v", err)
	}
	if len(ticks) != 0 {
		t.Fatalf("expected no ticks, got %d", len(ticks))
	}
}

func TestFileSlotLoadCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ticks.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	slot, err := NewFileSlot(path)
	if err != nil {
		t.Fatalf("new file slot: %v", err)
	}
	if _, err := slot.Load(ctx); err == nil {
		t.Fatalf("expected decode error for corrupt slot")
	}
}

func TestFileSlotClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ticks.json")
	slot, err := NewFileSlot(path)
	if err != nil {
		t.Fatalf("new file slot: %v", err)
	}

	if err := slot.Save(ctx, []models.Tick{{Price: 42, Time: 100}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := slot.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	// Clearing an already-empty slot is not an error.
	if err := slot.Clear(ctx); err != nil {
		t.Fatalf("second clear: %v", err)
	}

	ticks, err := slot.Load(ctx)
	if err != nil || len(ticks) != 0 {
		t.Fatalf("expected empty slot after clear: %v %#v", err, ticks)
	}
}

func TestNewFileSlotRequiresPath(t *testing.T) {
	if _, err := NewFileSlot(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
