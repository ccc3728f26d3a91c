package daemon

import (
	"slices"
	"testing"

	"sequentier/internal/config"
)

func TestConfigChangesNamesDifferingSettings(t *testing.T) {
	old := config.Default()
	old.Mapping = map[string]config.Mapping{
		"signer": {ExecutablePath: "/opt/signer", OutputDirectory: "/out/{USER}"},
		"zip":    {ExecutablePath: "/usr/bin/zip", OutputDirectory: "/out/{USER}"},
	}
	updated := old.Clone()
	updated.TimeoutSeconds = old.TimeoutSeconds + 30
	updated.Mapping = map[string]config.Mapping{
		"signer": {ExecutablePath: "/opt/signer-v2", OutputDirectory: "/out/{USER}"},
		"ocr":    {ExecutablePath: "/opt/ocr", OutputDirectory: "/out/{USER}"},
	}
	updated.Engine.MaxConcurrentJobs = 2

	got := configChanges(&old, updated)
	want := []string{"TimeoutSeconds", "Mapping.ocr", "Mapping.signer", "Mapping.zip", "Engine.MaxConcurrentJobs"}
	if !slices.Equal(got, want) {
		t.Fatalf("configChanges() = %v, want %v", got, want)
	}

	if same := configChanges(&old, old.Clone()); len(same) != 0 {
		t.Fatalf("expected no changes for an identical snapshot, got %v", same)
	}
}
