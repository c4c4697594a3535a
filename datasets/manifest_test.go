package datasets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const testManifest = `files:
  - field: dm
    z: 0.0
    file_100: dm_z0.0_100.npy
    file_150: dm_z0.0_150.npy
    mean_100: 1.5
    mean_150: 0.5
    var_100: 0.25
    var_150: 0.75
  - field: pressure
    z: 0.0
    file_100: pressure_z0.0_100.npy
    file_150: pressure_z0.0_150.npy
    mean_100: 2.0
    mean_150: 1.0
    var_100: 0.5
    var_150: 0.5
`

func TestLoadManifest(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "stacks.yaml")
	if err := os.WriteFile(path, []byte(testManifest), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	records, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	want := FileRecord{
		Field: "dm", Z: 0.0,
		File100: "dm_z0.0_100.npy", File150: "dm_z0.0_150.npy",
		Mean100: 1.5, Mean150: 0.5, Var100: 0.25, Var150: 0.75,
	}
	if records[0] != want {
		t.Fatalf("record 0: got %+v, want %+v", records[0], want)
	}
}

func TestLoadManifest_Errors(t *testing.T) {
	tmp := t.TempDir()

	if _, err := LoadManifest(filepath.Join(tmp, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing manifest")
	}

	bad := filepath.Join(tmp, "bad.yaml")
	if err := os.WriteFile(bad, []byte(":\n  - not yaml: ["), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if _, err := LoadManifest(bad); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for malformed yaml, got %v", err)
	}

	empty := filepath.Join(tmp, "empty.yaml")
	if err := os.WriteFile(empty, []byte("files: []\n"), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if _, err := LoadManifest(empty); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty manifest, got %v", err)
	}

	incomplete := filepath.Join(tmp, "incomplete.yaml")
	manifest := "files:\n  - field: dm\n    z: 0.0\n    file_100: only_one.npy\n"
	if err := os.WriteFile(incomplete, []byte(manifest), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if _, err := LoadManifest(incomplete); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for incomplete record, got %v", err)
	}
}
