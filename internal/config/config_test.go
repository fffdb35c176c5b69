package config

import "testing"

func TestGetEnvDefaults(t *testing.T) {
	if got := getEnv("REELFORGE_UNSET_KEY", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %v", got)
	}
	if got := getEnvInt("REELFORGE_UNSET_KEY", 7); got != 7 {
		t.Errorf("expected 7, got %v", got)
	}
	if got := getEnvBool("REELFORGE_UNSET_KEY", true); got != true {
		t.Errorf("expected true, got %v", got)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("REELFORGE_LIST_KEY", "image/png,image/jpeg,")
	got := getEnvList("REELFORGE_LIST_KEY", nil)
	want := []string{"image/png", "image/jpeg"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestLoadRejectsMissingUploadTarget(t *testing.T) {
	t.Setenv("UPLOAD_ENABLED", "true")
	t.Setenv("BLOB_SINK_BASE_URL", "")
	t.Setenv("ALIGNMENT_ENABLED", "false")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when UPLOAD_ENABLED is true but BLOB_SINK_BASE_URL is unset")
	}
}
