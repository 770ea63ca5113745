package wan2gp

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/seantiz/kiln/internal/engine"
)

// Probe checks that the Wan2GP installation is usable without importing it:
// the install directory must exist and contain wgp.py. The engine itself is
// only loaded on the first generation.
func (b *Bridge) Probe() engine.Health {
	info, err := os.Stat(b.installDir)
	if err != nil || !info.IsDir() {
		return engine.Health{
			Path: b.installDir,
			Err:  "Wan2GP path does not exist",
		}
	}

	if _, err := os.Stat(filepath.Join(b.installDir, "wgp.py")); err != nil {
		return engine.Health{
			Path: b.installDir,
			Err:  "wgp.py not found in Wan2GP directory",
		}
	}

	return engine.Health{Healthy: true, Path: b.installDir}
}

// OutputDir returns where the engine saves generated files: the save_path
// from wgp_config.json, or "outputs" when unset. Relative paths resolve
// against the install directory, which is the engine's working directory.
func (b *Bridge) OutputDir() string {
	dir := "outputs"

	raw, err := os.ReadFile(filepath.Join(b.installDir, "wgp_config.json"))
	if err == nil {
		var cfg struct {
			SavePath string `json:"save_path"`
		}
		if json.Unmarshal(raw, &cfg) == nil && cfg.SavePath != "" {
			dir = cfg.SavePath
		}
	}

	if !filepath.IsAbs(dir) {
		dir = filepath.Join(b.installDir, dir)
	}
	return dir
}
