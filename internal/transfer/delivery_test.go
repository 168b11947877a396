package transfer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskDeliveryDoesNotClobber(t *testing.T) {
	dir := t.TempDir()
	d := NewDiskDelivery(dir)

	first, err := d.Deliver("notes.txt", []byte("one"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	second, err := d.Deliver("notes.txt", []byte("two"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if first != filepath.Join(dir, "notes.txt") {
		t.Errorf("unexpected first path %q", first)
	}
	if second != filepath.Join(dir, "notes (1).txt") {
		t.Errorf("unexpected second path %q", second)
	}

	data, err := os.ReadFile(first)
	if err != nil || string(data) != "one" {
		t.Errorf("first file overwritten: %q, %v", data, err)
	}
}

func TestDiskDeliveryStripsDirectories(t *testing.T) {
	dir := t.TempDir()
	d := NewDiskDelivery(dir)

	path, err := d.Deliver("../../etc/passwd", []byte("x"))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("file escaped download dir: %q", path)
	}
}

func TestDiskDeliveryRejectsEmptyName(t *testing.T) {
	d := NewDiskDelivery(t.TempDir())
	if _, err := d.Deliver("", nil); err == nil {
		t.Error("expected error for empty name")
	}
}
