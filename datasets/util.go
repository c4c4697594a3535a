package datasets

import (
	"fmt"
	"os"
	"path/filepath"
)

// manifestNames are tried in order when resolving a manifest inside a
// directory.
var manifestNames = []string{"stacks.yaml", "stacks.yml", "manifest.yaml", "manifest.yml"}

// FindManifest locates a manifest file inside dir. Well-known names are tried
// first, then any single *.yaml file in the directory.
func FindManifest(dir string) (string, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no manifest found in %s", ErrConfiguration, dir)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("%w: multiple candidate manifests in %s: %v", ErrConfiguration, dir, matches)
	}
	return matches[0], nil
}

// ResolveManifest accepts either a manifest path or a directory containing
// one and returns the manifest path.
func ResolveManifest(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if info.IsDir() {
		return FindManifest(path)
	}
	return path, nil
}
