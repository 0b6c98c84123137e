package agents

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed defaults/*.lua
var defaultFS embed.FS

// DefaultScripts returns the stock crew, filename → source.
func DefaultScripts() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := fs.WalkDir(defaultFS, "defaults", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !strings.HasSuffix(p, ".lua") {
			return nil
		}
		data, err := defaultFS.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.Base(p)] = data
		return nil
	})
	return out, err
}

// InstallDefaults writes the stock crew into dir when dir holds no agent
// scripts yet. It reports how many files were written.
func InstallDefaults(dir string) (int, error) {
	existing, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	scripts, err := DefaultScripts()
	if err != nil {
		return 0, err
	}
	for name, data := range scripts {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return 0, fmt.Errorf("write %s: %w", name, err)
		}
	}
	return len(scripts), nil
}
