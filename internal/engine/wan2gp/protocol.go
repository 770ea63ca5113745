package wan2gp

import "github.com/seantiz/kiln/internal/engine"

// Runner→bridge message types. The runner streams progress and status while
// the generation runs, then exactly one result message before exiting.
const (
	msgProgress = "progress"
	msgStatus   = "status"
	msgResult   = "result"
)

// maxLineSize bounds a single runner message line. Failure traces are the
// largest payload and stay well under this.
const maxLineSize = 1 << 20

// runnerRequest is the JSON document written to the runner's stdin.
type runnerRequest struct {
	Params  map[string]any  `json:"params"`
	Session *engine.Session `json:"session"`
}

// runnerMessage is the envelope for runner→bridge messages, one JSON object
// per stdout line.
type runnerMessage struct {
	Type    string  `json:"type"`
	Percent float64 `json:"percent,omitempty"`
	Status  string  `json:"status,omitempty"`
	Error   string  `json:"error,omitempty"`
	Trace   string  `json:"trace,omitempty"`
}

// RunError is a generation failure reported by the engine process, carrying
// whatever diagnostic detail the runner could collect.
type RunError struct {
	Message string
	Detail  string
}

func (e *RunError) Error() string {
	return e.Message
}

// Trace returns the engine-side diagnostic detail for the failure record.
func (e *RunError) Trace() string {
	return e.Detail
}
