package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bobarin/reelforge/internal/job"
)

func TestWriteASSProducesDialogueLines(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.ass")

	overlays := []job.TextOverlay{
		{Text: "hello world", Start: 0, End: 1.2},
		{Text: "second span", Start: 1.2, End: 2.5, Position: "top", Color: "#FF0000"},
	}
	if err := writeASS(overlays, out, 1080, 1920); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read ass file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "[Events]") {
		t.Error("expected an Events section")
	}
	if strings.Count(content, "Dialogue:") != 2 {
		t.Errorf("expected 2 dialogue lines, got content: %s", content)
	}
}

func TestFormatASSTime(t *testing.T) {
	got := formatASSTime(65.5)
	want := "0:01:05.50"
	if got != want {
		t.Errorf("formatASSTime(65.5) = %q, want %q", got, want)
	}
}
