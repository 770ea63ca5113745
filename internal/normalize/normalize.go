// Package normalize expands a compact external generation request into the
// engine's full parameter set. Defaults come from one table, recognized keys
// overlay it, and everything else rides along untouched.
package normalize

import (
	"encoding/json"

	"github.com/seantiz/kiln/internal/engine"
)

// modeCodes maps the symbolic image modes accepted on the wire to the
// engine's numeric mode codes. Anything outside this table means plain
// text-to-video.
var modeCodes = map[string]int{
	"T2V":     0,
	"I2V":     1,
	"T2I":     1,
	"inpaint": 2,
}

// Request builds the engine parameters for one submission. raw is the
// decoded request object; it is never rejected, only interpreted. Fields the
// engine does not name are collected for verbatim passthrough.
func Request(taskID string, raw map[string]any) engine.Params {
	params := engine.Defaults(taskID)

	overlay := make(map[string]any, len(raw))
	for key, value := range raw {
		switch key {
		case "image_mode":
			params.ImageMode = modeCode(value)
		case "resolution":
			if s, ok := resolutionValue(value); ok {
				params.Resolution = s
			}
		default:
			if engine.Known(key) {
				overlay[key] = value
				continue
			}
			if params.Extra == nil {
				params.Extra = make(map[string]any)
			}
			params.Extra[key] = value
		}
	}

	applyOverlay(&params, overlay)

	if params.OutputFilename == "" {
		params.OutputFilename = "proxy_" + taskID
	}
	return params
}

// Snapshot returns the compact submission echo stored on the task record.
func Snapshot(params engine.Params) map[string]any {
	return map[string]any{
		"prompt":     params.Prompt,
		"resolution": params.Resolution,
		"model_type": params.ModelType,
	}
}

// applyOverlay decodes the recognized request fields onto the defaults. The
// decoder skips any value that does not fit its field, so a bad type keeps
// the default rather than failing the request.
func applyOverlay(params *engine.Params, overlay map[string]any) {
	if len(overlay) == 0 {
		return
	}
	raw, err := json.Marshal(overlay)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, params)
}

// modeCode resolves an image_mode value. Symbolic names go through the mode
// table, numbers pass straight through, anything else is text-to-video.
func modeCode(v any) int {
	switch m := v.(type) {
	case string:
		return modeCodes[m]
	case float64:
		return int(m)
	case int:
		return m
	default:
		return 0
	}
}

// resolutionValue accepts either a plain "WxH" string or a wrapper object
// carrying the string under "value".
func resolutionValue(v any) (string, bool) {
	switch r := v.(type) {
	case string:
		return r, true
	case map[string]any:
		if inner, ok := r["value"].(string); ok {
			return inner, true
		}
	}
	return "", false
}
