package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.mp4")

	if err := EnsureParentDir(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Errorf("expected parent directory to exist, got err=%v", err)
	}

	if err := EnsureParentDir("out.mp4"); err != nil {
		t.Errorf("expected no-op for bare file name, got %v", err)
	}
}

func TestNonEmptyFile(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.mp4")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	full := filepath.Join(dir, "full.mp4")
	if err := os.WriteFile(full, []byte{0}, 0644); err != nil {
		t.Fatal(err)
	}

	if NonEmptyFile(empty) {
		t.Error("expected empty file to be rejected")
	}
	if !NonEmptyFile(full) {
		t.Error("expected non-empty file to be accepted")
	}
	if NonEmptyFile(dir) {
		t.Error("expected directory to be rejected")
	}
	if NonEmptyFile(filepath.Join(dir, "missing")) {
		t.Error("expected missing file to be rejected")
	}
}

func TestExtension(t *testing.T) {
	if got := Extension("/x/Clip.MOV"); got != ".mov" {
		t.Errorf("expected .mov, got %q", got)
	}
	if got := Extension("noext"); got != "" {
		t.Errorf("expected empty extension, got %q", got)
	}
}
