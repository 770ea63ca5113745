package engine

import "context"

// ProgressFunc receives progress reports while a generation runs. percent is
// in [0,100]; status is a free-form phase description. Implementations must
// tolerate being called from the engine's goroutine at any rate, including
// not at all.
type ProgressFunc func(percent float64, status string)

// Call carries everything one generation needs. A Call is used once.
type Call struct {
	Params Params

	// Progress is invoked as the engine reports advancement. May be nil.
	Progress ProgressFunc

	// Session is the per-call scratch state handed to the engine. Built
	// fresh by NewSession for every call, never shared between calls.
	Session *Session
}

// Session mirrors the mutable state block the engine threads through a
// generation. Every call gets its own zero-history instance.
type Session struct {
	Queue           []any    `json:"queue"`
	InProgress      bool     `json:"in_progress"`
	Phase           string   `json:"progress_phase"`
	PhaseStep       int      `json:"progress_phase_step"`
	FileList        []string `json:"file_list"`
	Selected        int      `json:"selected"`
	PromptNo        int      `json:"prompt_no"`
	PromptsMax      int      `json:"prompts_max"`
	RepeatNo        int      `json:"repeat_no"`
	TotalGeneration int      `json:"total_generation"`
	WindowNo        int      `json:"window_no"`
	TotalWindows    int      `json:"total_windows"`
	ProgressStatus  string   `json:"progress_status"`
	ProcessStatus   string   `json:"process_status"`
}

// NewSession returns the initial state for a single generation call.
func NewSession() *Session {
	return &Session{
		Queue:           []any{},
		Phase:           "Initializing",
		FileList:        []string{},
		TotalGeneration: 1,
		ProcessStatus:   "process:main",
	}
}

// Engine runs one blocking generation per call. Implementations must honor
// ctx cancellation and report failures as errors rather than panics.
type Engine interface {
	Generate(ctx context.Context, call *Call) error
}

// Host supplies the capabilities the engine expects from its embedding
// application. The engine consults it for data hooks around configuration.
type Host interface {
	// RunDataHooks gives the host a chance to rewrite hook configuration.
	// Implementations return the configs, modified or not.
	RunDataHooks(hook string, configs map[string]any) map[string]any
}

// NopHost is a Host that passes every hook through unchanged. It stands in
// when no richer host is attached, which is the normal production case.
type NopHost struct{}

// RunDataHooks returns configs unchanged, or an empty map when configs is nil.
func (NopHost) RunDataHooks(_ string, configs map[string]any) map[string]any {
	if configs == nil {
		return map[string]any{}
	}
	return configs
}

// HostAware is implemented by engines that need a Host installed before
// their first Generate call.
type HostAware interface {
	InstallHost(Host)
}

// Health reports whether the engine's prerequisites are in place. An
// unhealthy result is data, not an error.
type Health struct {
	Healthy bool
	// Path is the engine installation directory that was probed.
	Path string
	// Err describes what is missing when Healthy is false.
	Err string
}

// Prober checks engine prerequisites without starting a generation.
type Prober interface {
	Probe() Health
}
