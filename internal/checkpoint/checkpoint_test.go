package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestFileManagerSaveLoad(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()

	if _, err := mgr.Load(ctx, "split-0"); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}

	cp := &Checkpoint{
		RunID:     "run-1",
		Split:     "split-0",
		SplitFile: "splits.yaml",
		FrameDB:   "frames.db",
		UpdatedAt: time.Now().UTC(),
	}
	cp.MarkDone("b")
	cp.MarkDone("a")
	cp.MarkDone("b")

	if err := mgr.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "checkpoint_split-0.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should not remain after Save")
	}

	loaded, err := mgr.Load(ctx, "split-0")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded.Completed, []string{"a", "b"}) {
		t.Errorf("completed = %v, want [a b]", loaded.Completed)
	}
	if !loaded.Done()["a"] || loaded.Done()["c"] {
		t.Errorf("Done() = %v", loaded.Done())
	}

	// Other splits are independent.
	if _, err := mgr.Load(ctx, "split-1"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint for split-1, got %v", err)
	}
}

func TestFileManagerCorrupt(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "checkpoint_split-0.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err = mgr.Load(context.Background(), "split-0")
	if err == nil || errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestNoopManager(t *testing.T) {
	mgr, err := NewManager(Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := mgr.Save(ctx, &Checkpoint{Split: "split-0"}); err != nil {
		t.Errorf("noop Save should not fail: %v", err)
	}
	if _, err := mgr.Load(ctx, "split-0"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestNewManager_NoDir(t *testing.T) {
	if _, err := NewManager(Config{Enabled: true}); err == nil {
		t.Error("expected error without directory")
	}
}
