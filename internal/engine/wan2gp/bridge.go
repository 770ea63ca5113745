// Package wan2gp drives the Wan2GP generation engine. Each call runs the
// embedded Python runner as a subprocess: the request goes in as one JSON
// document on stdin, progress comes back as newline-delimited JSON on
// stdout, and stderr is kept for failure diagnostics.
package wan2gp

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/seantiz/kiln/internal/engine"
)

//go:embed runner.py
var runnerScript []byte

// hookGenerationSettings is the host hook consulted before every call.
const hookGenerationSettings = "generation_settings"

// stderrTailLines is how many trailing engine stderr lines are kept for the
// failure trace when the process dies without reporting a result.
const stderrTailLines = 64

// Bridge is the production engine.Engine. Safe for concurrent Generate
// calls; each call owns its own subprocess.
type Bridge struct {
	installDir string
	python     string
	logger     *slog.Logger

	mu   sync.Mutex
	host engine.Host

	runnerOnce sync.Once
	runnerPath string
	runnerErr  error
}

// New creates a bridge for the Wan2GP installation at installDir, launched
// with the given python interpreter.
func New(installDir, python string, logger *slog.Logger) *Bridge {
	return &Bridge{
		installDir: installDir,
		python:     python,
		logger:     logger,
	}
}

// InstallHost attaches the host capabilities consulted around each call.
func (b *Bridge) InstallHost(h engine.Host) {
	b.mu.Lock()
	b.host = h
	b.mu.Unlock()
}

func (b *Bridge) currentHost() engine.Host {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.host == nil {
		return engine.NopHost{}
	}
	return b.host
}

// Generate runs one generation to completion. It returns nil when the
// runner reports success, a *RunError when the engine itself failed, and a
// plain error for process-level faults.
func (b *Bridge) Generate(ctx context.Context, call *engine.Call) error {
	runner, err := b.runner()
	if err != nil {
		return err
	}

	payload, err := call.Params.Payload()
	if err != nil {
		return err
	}
	payload = b.currentHost().RunDataHooks(hookGenerationSettings, payload)

	body, err := json.Marshal(runnerRequest{Params: payload, Session: call.Session})
	if err != nil {
		return fmt.Errorf("marshal runner request: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.python, "-u", runner, b.installDir)
	cmd.Dir = b.installDir
	cmd.Stdin = bytes.NewReader(body)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine runner: %w", err)
	}

	tail := newTail(stderrTailLines)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := scanner.Text()
			tail.add(line)
			b.logger.Debug("engine stderr", "line", line)
		}
	}()

	var result *runnerMessage
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var msg runnerMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			// The engine prints freely before the runner takes over stdout.
			b.logger.Debug("engine stdout", "line", scanner.Text())
			continue
		}
		switch msg.Type {
		case msgProgress:
			if call.Progress != nil {
				call.Progress(msg.Percent, msg.Status)
			}
		case msgStatus:
			b.logger.Info("engine status", "status", msg.Status)
		case msgResult:
			m := msg
			result = &m
		}
	}

	<-stderrDone
	waitErr := cmd.Wait()

	switch {
	case result != nil && result.Error != "":
		return &RunError{Message: result.Error, Detail: result.Trace}
	case result != nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		return &RunError{
			Message: fmt.Sprintf("engine runner exited: %v", waitErr),
			Detail:  tail.String(),
		}
	default:
		return &RunError{
			Message: "engine runner exited without reporting a result",
			Detail:  tail.String(),
		}
	}
}

// runner materializes the embedded runner script once per process.
func (b *Bridge) runner() (string, error) {
	b.runnerOnce.Do(func() {
		dir, err := os.MkdirTemp("", "kiln-runner-")
		if err != nil {
			b.runnerErr = fmt.Errorf("create runner dir: %w", err)
			return
		}
		path := filepath.Join(dir, "runner.py")
		if err := os.WriteFile(path, runnerScript, 0o644); err != nil {
			b.runnerErr = fmt.Errorf("write runner script: %w", err)
			return
		}
		b.runnerPath = path
	})
	return b.runnerPath, b.runnerErr
}

// tail keeps the last n lines written to it.
type tail struct {
	lines []string
	max   int
}

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) add(line string) {
	if len(t.lines) == t.max {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.max-1]
	}
	t.lines = append(t.lines, line)
}

func (t *tail) String() string {
	return strings.Join(t.lines, "\n")
}
