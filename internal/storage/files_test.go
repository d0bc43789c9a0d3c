package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveAndOpen(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "solutions"))
	if err != nil {
		t.Fatal(err)
	}
	name, err := store.Save(7, "my solution.zip", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(name, "task_7_") {
		t.Fatalf("stored name: %s", name)
	}
	// spaces are not part of the allowlist
	if strings.Contains(name, " ") {
		t.Fatalf("unsanitized name: %s", name)
	}
	f, err := store.Open(name)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "payload" {
		t.Fatalf("content: %q", data)
	}
}

func TestOpenStripsDirectories(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "solutions"))
	if err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(dir, "secret.txt")
	if err := os.WriteFile(secret, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Open("../secret.txt"); err == nil {
		t.Fatal("escaped the storage dir")
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "solutions"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Remove("never-existed"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
}

func TestSanitizeFallback(t *testing.T) {
	if got := sanitize(""); got != "artifact" {
		t.Fatalf("sanitize: %s", got)
	}
	if got := sanitize("my solution.zip"); got != "my_solution.zip" {
		t.Fatalf("sanitize: %s", got)
	}
	if got := sanitize("report-v2.pdf"); got != "report-v2.pdf" {
		t.Fatalf("sanitize kept name: %s", got)
	}
}
