package version

import (
	"strings"
	"testing"
)

func TestInfo_UsesEmbeddedVersionByDefault(t *testing.T) {
	oldVersion := Version
	t.Cleanup(func() { Version = oldVersion })

	Version = "dev"
	got := Info()

	if got.Version != "dev" {
		t.Fatalf("Version mismatch: got=%q want=%q", got.Version, "dev")
	}
	if !strings.HasPrefix(got.GoVersion, "go") {
		t.Fatalf("GoVersion mismatch: got=%q want go* prefix", got.GoVersion)
	}
}

func TestInfo_VersionOverride(t *testing.T) {
	oldVersion := Version
	t.Cleanup(func() { Version = oldVersion })

	Version = "2.1.0"
	got := Info()
	if got.Version != "2.1.0" {
		t.Fatalf("Version mismatch: got=%q want=%q", got.Version, "2.1.0")
	}
}
