package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStatm(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "self"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "self", "statm"), []byte(content), 0644); err != nil {
		t.Fatalf("write statm: %v", err)
	}
	return root
}

func TestResidentMemory(t *testing.T) {
	t.Run("resident pages times page size", func(t *testing.T) {
		root := writeStatm(t, "5000 1200 300 10 0 900 0\n")
		want := int64(1200 * os.Getpagesize())
		if got := ResidentMemory(root); got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if got := ResidentMemory(t.TempDir()); got != -1 {
			t.Errorf("got %d, want -1", got)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		root := writeStatm(t, "5000 lots\n")
		if got := ResidentMemory(root); got != -1 {
			t.Errorf("got %d, want -1", got)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		root := writeStatm(t, "5000")
		if got := ResidentMemory(root); got != -1 {
			t.Errorf("got %d, want -1", got)
		}
	})
}
