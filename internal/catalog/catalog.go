// Package catalog inventories the assets of a Wan2GP installation: model
// checkpoints, raw model weights, bundled generation presets, and loras.
package catalog

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Entry describes one discoverable asset. Weight files carry a path
// relative to their scan root; presets carry the model declaration from
// their defaults document instead.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Type  string `json:"type"`
	Model any    `json:"model,omitempty"`
}

// Models lists the model assets under installDir. Checkpoints and raw
// weights are found by extension under ckpts/ and models/; presets are
// defaults/ JSON documents that declare a model.
func Models(installDir string) []Entry {
	entries := make([]Entry, 0, 8)
	entries = scanWeights(entries, filepath.Join(installDir, "ckpts"), "checkpoint")
	entries = scanWeights(entries, filepath.Join(installDir, "models"), "model")
	entries = scanPresets(entries, filepath.Join(installDir, "defaults"))
	return entries
}

// Loras lists the lora weights under installDir.
func Loras(installDir string) []Entry {
	return scanWeights(make([]Entry, 0, 8), filepath.Join(installDir, "loras"), "lora")
}

// scanWeights appends every .safetensors file under root, recursively.
func scanWeights(entries []Entry, root, kind string) []Entry {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(d.Name()) != ".safetensors" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		entries = append(entries, Entry{
			Name: stem(d.Name()),
			Path: rel,
			Type: kind,
		})
		return nil
	})
	return entries
}

// scanPresets appends every JSON document under root that declares a
// model. Documents that cannot be read or parsed are skipped.
func scanPresets(entries []Entry, root string) []Entry {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(d.Name()) != ".json" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil
		}
		model, ok := data["model"]
		if !ok {
			return nil
		}
		name := stem(d.Name())
		if s, ok := data["name"].(string); ok {
			name = s
		}
		entries = append(entries, Entry{Name: name, Type: "preset", Model: model})
		return nil
	})
	return entries
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
