package datasets

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileRecord describes one (field, redshift) pair of stack files: the two
// family resources plus their precomputed aggregate statistics. Paths are
// resolved relative to the root path option at construction.
type FileRecord struct {
	Field   string  `yaml:"field"`
	Z       float64 `yaml:"z"`
	File100 string  `yaml:"file_100"`
	File150 string  `yaml:"file_150"`
	Mean100 float64 `yaml:"mean_100"`
	Mean150 float64 `yaml:"mean_150"`
	Var100  float64 `yaml:"var_100"`
	Var150  float64 `yaml:"var_150"`
}

func (r FileRecord) validate() error {
	if r.Field == "" {
		return fmt.Errorf("files entry has no field name: %w", ErrConfiguration)
	}
	if r.File100 == "" || r.File150 == "" {
		return fmt.Errorf("files entry for field %q z=%g names %d of 2 stack files: %w",
			r.Field, r.Z, countNonEmpty(r.File100, r.File150), ErrConfiguration)
	}
	return nil
}

func countNonEmpty(ss ...string) int {
	n := 0
	for _, s := range ss {
		if s != "" {
			n++
		}
	}
	return n
}

type manifest struct {
	Files []FileRecord `yaml:"files"`
}

// LoadManifest reads a YAML manifest listing the construction records.
//
// Expected layout:
//
//	files:
//	  - field: dm
//	    z: 0.0
//	    file_100: dm_z0.0_100.npy
//	    file_150: dm_z0.0_150.npy
//	    mean_100: 1.2
//	    mean_150: 0.9
//	    var_100: 0.5
//	    var_150: 0.4
func LoadManifest(path string) ([]FileRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %v: %w", path, err, ErrConfiguration)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("manifest %s lists no files: %w", path, ErrConfiguration)
	}
	for _, rec := range m.Files {
		if err := rec.validate(); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
	}
	return m.Files, nil
}
