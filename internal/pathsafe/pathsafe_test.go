package pathsafe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveAcceptsFileInsideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "page1.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	got, err := Resolve(dir, "page1.png")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if filepath.Base(got) != "page1.png" {
		t.Fatalf("unexpected target %s", got)
	}
}

func TestResolveAcceptsNestedPath(t *testing.T) {
	dir := t.TempDir()
	if _, err := Resolve(dir, "pages/page-01.png"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{
		"../../etc/passwd",
		"..",
		"pages/../../secret",
		"/etc/passwd",
		"",
	} {
		if _, err := Resolve(dir, rel); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Resolve(%q) error = %v, want ErrInvalidPath", rel, err)
		}
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("s"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	dir := t.TempDir()
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := Resolve(dir, "link.txt"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidPath", err)
	}
}
