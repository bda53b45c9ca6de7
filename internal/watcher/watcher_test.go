package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.log", "b.log", "sub/c.log", "sub/d.txt"} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got := Expand([]string{
		filepath.Join(dir, "**", "*.log"),
		filepath.Join(dir, "a.log"),
		filepath.Join(dir, "missing.log"),
	}, nil)

	want := map[string]bool{
		filepath.Join(dir, "a.log"):        true,
		filepath.Join(dir, "b.log"):        true,
		filepath.Join(dir, "sub", "c.log"): true,
		filepath.Join(dir, "missing.log"):  true,
	}
	if len(got) != len(want) {
		t.Fatalf("Expand = %v", got)
	}
	for _, p := range got {
		if !want[p] {
			t.Errorf("unexpected path %s", p)
		}
	}
}

func TestWakeOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	wake := w.Add(path)
	other := w.Add(filepath.Join(dir, "other.log"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	if err := os.WriteFile(path, []byte("line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-wake:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for wake-up")
	}
	select {
	case <-other:
		t.Error("unrelated path woken")
	default:
	}
}

func TestWakeOnRecreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")

	w, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	wake := w.Add(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-wake:
	case <-time.After(3 * time.Second):
		t.Fatal("file created after Add should wake")
	}
}
