// internal/broker/offsets/offsets_test.go
package offsets_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/YaganovValera/collab-monolith/internal/broker/offsets"
)

func stores(t *testing.T) map[string]offsets.Store {
	return map[string]offsets.Store{
		"file":   offsets.NewFileStore(filepath.Join(t.TempDir(), "offsets")),
		"memory": offsets.NewMemoryStore(),
	}
}

func TestStore_CommitLoad(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Load("g1"); ok || err != nil {
				t.Fatalf("Load on empty = %v, %v", ok, err)
			}
			for _, off := range []uint64{0, 7, 12} {
				if err := s.Commit("g1", off); err != nil {
					t.Fatalf("Commit(%d): %v", off, err)
				}
				got, ok, err := s.Load("g1")
				if err != nil || !ok || got != off {
					t.Fatalf("Load = %d, %v, %v; want %d", got, ok, err, off)
				}
			}
			if err := s.Commit("g2", 1); err != nil {
				t.Fatal(err)
			}
			groups, err := s.Groups()
			if err != nil || len(groups) != 2 || groups[0] != "g1" || groups[1] != "g2" {
				t.Fatalf("Groups = %v, %v", groups, err)
			}
			if err := s.Delete("g1"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := s.Load("g1"); ok {
				t.Error("g1 still present after Delete")
			}
		})
	}
}

func TestFileStore_Format(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "offsets")
	s := offsets.NewFileStore(dir)
	if err := s.Commit("readers", 42); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "readers"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "42" {
		t.Errorf("file content = %q; want 42", b)
	}
	if _, err := os.Stat(filepath.Join(dir, "readers.tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Error("temp file left behind")
	}
}

func TestFileStore_BadGroupName(t *testing.T) {
	s := offsets.NewFileStore(t.TempDir())
	for _, g := range []string{"", "../escape", "a/b", "x.tmp"} {
		if err := s.Commit(g, 1); err == nil {
			t.Errorf("Commit(%q) expected error", g)
		}
	}
}

func TestFileStore_GarbageOffset(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "g"), []byte("not-a-number"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := offsets.NewFileStore(dir).Load("g"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestManager_Lifecycle(t *testing.T) {
	store := offsets.NewMemoryStore()
	m := offsets.NewManager(store)

	if _, ok := m.MinCommitted(); ok {
		t.Fatal("MinCommitted with no groups must report ok=false")
	}

	committed, err := m.Attach("a", false, 10)
	if err != nil || committed != 0 {
		t.Fatalf("Attach(a) = %d, %v; want 0", committed, err)
	}
	if off, ok, _ := store.Load("a"); !ok || off != 0 {
		t.Error("initial position must be persisted")
	}
	if _, err := m.Attach("a", false, 10); !errors.Is(err, offsets.ErrAlreadyAttached) {
		t.Fatalf("second Attach err = %v; want ErrAlreadyAttached", err)
	}

	committed, err = m.Attach("b", true, 10)
	if err != nil || committed != 10 {
		t.Fatalf("Attach(b, latest) = %d, %v; want 10", committed, err)
	}

	tests := []struct {
		offset      uint64
		wantChanged bool
		wantCursor  uint64
	}{
		{5, true, 5},
		{3, false, 5},
		{5, false, 5},
		{8, true, 8},
	}
	for _, tt := range tests {
		changed, err := m.Commit("a", tt.offset)
		if err != nil {
			t.Fatalf("Commit(%d): %v", tt.offset, err)
		}
		if changed != tt.wantChanged {
			t.Errorf("Commit(%d) changed = %v; want %v", tt.offset, changed, tt.wantChanged)
		}
		if got, _ := m.Cursor("a"); got != tt.wantCursor {
			t.Errorf("Cursor after Commit(%d) = %d; want %d", tt.offset, got, tt.wantCursor)
		}
	}

	if low, ok := m.MinCommitted(); !ok || low != 8 {
		t.Errorf("MinCommitted = %d, %v; want 8", low, ok)
	}

	if err := m.Remove("a"); !errors.Is(err, offsets.ErrAlreadyAttached) {
		t.Fatalf("Remove attached err = %v", err)
	}
	m.Detach("a")
	committed, err = m.Attach("a", true, 99)
	if err != nil || committed != 8 {
		t.Fatalf("re-Attach = %d, %v; fromLatest must not move an existing group", committed, err)
	}
	m.Detach("a")
	if err := m.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := m.Cursor("a"); ok {
		t.Error("group a still known after Remove")
	}
	if err := m.Remove("a"); !errors.Is(err, offsets.ErrUnknownGroup) {
		t.Errorf("Remove unknown err = %v", err)
	}
	if _, err := m.Commit("zzz", 1); !errors.Is(err, offsets.ErrUnknownGroup) {
		t.Errorf("Commit unknown err = %v", err)
	}
}

func TestManager_LoadClampsToHead(t *testing.T) {
	store := offsets.NewFileStore(filepath.Join(t.TempDir(), "offsets"))
	if err := store.Commit("ahead", 50); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit("behind", 3); err != nil {
		t.Fatal(err)
	}

	m := offsets.NewManager(store)
	if err := m.Load(20); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Cursor("ahead"); got != 20 {
		t.Errorf("ahead = %d; want 20", got)
	}
	if got, _ := m.Cursor("behind"); got != 3 {
		t.Errorf("behind = %d; want 3", got)
	}
	if off, _, _ := store.Load("ahead"); off != 20 {
		t.Errorf("clamped offset not persisted: %d", off)
	}
	if gs := m.Groups(); len(gs) != 2 || gs[0].Group != "ahead" || gs[0].Attached {
		t.Errorf("Groups = %+v", gs)
	}
}
