// Package executor runs generation tasks in the background. It owns the
// worker pool bound, the task lifecycle transitions, and the discovery of
// output files after a successful generation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/seantiz/kiln/internal/engine"
	"github.com/seantiz/kiln/internal/model"
	"github.com/seantiz/kiln/internal/registry"
)

// mediaExtensions are the fallback output types searched when no file
// matches the task's output filename.
var mediaExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".avi":  true,
}

// Executor dispatches tasks to the engine, at most maxConcurrent at a time.
// Dispatch never blocks the caller; excess tasks stay queued until a worker
// slot frees up.
type Executor struct {
	registry  *registry.Registry
	engine    engine.Engine
	outputDir string
	logger    *slog.Logger
	slots     *semaphore.Weighted
	wg        sync.WaitGroup
	hostOnce  sync.Once
}

// New creates an executor running at most maxConcurrent generations at once.
// outputDir is where finished files are searched for; empty disables output
// discovery.
func New(reg *registry.Registry, eng engine.Engine, outputDir string, maxConcurrent int, logger *slog.Logger) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{
		registry:  reg,
		engine:    eng,
		outputDir: outputDir,
		logger:    logger,
		slots:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Dispatch launches asynchronous execution of an already-registered task and
// returns immediately. The task stays queued until a worker slot is acquired.
func (e *Executor) Dispatch(taskID string, params engine.Params) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(taskID, params)
	}()
}

// Wait blocks until all in-flight task goroutines complete.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// run owns one task from slot acquisition to its terminal status.
func (e *Executor) run(taskID string, params engine.Params) {
	waitingTasks.Inc()
	err := e.slots.Acquire(context.Background(), 1)
	waitingTasks.Dec()
	if err != nil {
		e.fail(taskID, fmt.Sprintf("acquire worker slot: %v", err), "")
		return
	}
	defer e.slots.Release(1)

	// The engine may expect host capabilities before its first call.
	e.hostOnce.Do(func() {
		if aware, ok := e.engine.(engine.HostAware); ok {
			aware.InstallHost(engine.NopHost{})
		}
	})

	started := time.Now().UTC()
	if err := e.registry.Update(taskID, func(t *model.Task) {
		t.Status = model.StatusProcessing
		t.StartedAt = &started
	}); err != nil {
		e.logger.Error("failed to transition task to processing", "task_id", taskID, "error", err)
		return
	}

	activeGenerations.Inc()
	start := time.Now()
	genErr := e.generate(taskID, params)
	generationDuration.Observe(time.Since(start).Seconds())
	activeGenerations.Dec()

	if genErr != nil {
		e.fail(taskID, genErr.Error(), traceOf(genErr))
		return
	}
	e.complete(taskID, params)
}

// generate performs the blocking engine call. A panic inside the engine is
// contained here and surfaced as this task's error, so one faulty generation
// can never take the process or its sibling tasks down.
func (e *Executor) generate(taskID string, params engine.Params) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	call := &engine.Call{
		Params:  params,
		Session: engine.NewSession(),
		Progress: func(percent float64, status string) {
			e.progress(taskID, percent, status)
		},
	}
	return e.engine.Generate(context.Background(), call)
}

// progress records an engine progress report. Values are clamped to [0,100]
// and a report can never move a task's progress backwards.
func (e *Executor) progress(taskID string, percent float64, status string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	if err := e.registry.Update(taskID, func(t *model.Task) {
		if percent > t.Progress {
			t.Progress = percent
		}
	}); err != nil {
		e.logger.Error("failed to record progress", "task_id", taskID, "error", err)
		return
	}
	if status != "" {
		e.logger.Debug("generation progress", "task_id", taskID, "percent", percent, "status", status)
	}
}

func (e *Executor) complete(taskID string, params engine.Params) {
	outputPath := e.resolveOutput(params.OutputFilename)

	now := time.Now().UTC()
	if err := e.registry.Update(taskID, func(t *model.Task) {
		t.Status = model.StatusCompleted
		t.Progress = 100
		t.CompletedAt = &now
		t.OutputPath = outputPath
	}); err != nil {
		e.logger.Error("failed to record task completion", "task_id", taskID, "error", err)
		return
	}

	tasksTotal.WithLabelValues(statusCompleted).Inc()
	e.logger.Info("task completed", "task_id", taskID, "output_path", outputPath)
}

func (e *Executor) fail(taskID, message, trace string) {
	now := time.Now().UTC()
	if err := e.registry.Update(taskID, func(t *model.Task) {
		t.Status = model.StatusFailed
		t.Error = message
		t.Trace = trace
		t.CompletedAt = &now
	}); err != nil {
		e.logger.Error("failed to record task failure", "task_id", taskID, "error", err)
		return
	}

	tasksTotal.WithLabelValues(statusFailed).Inc()
	e.logger.Error("task failed", "task_id", taskID, "error", message)
}

// resolveOutput finds the generated file for a finished task: the newest
// file whose name contains the output filename, falling back to the newest
// file with a known media extension. Empty when nothing matches.
func (e *Executor) resolveOutput(pattern string) string {
	if e.outputDir == "" {
		return ""
	}

	var matchPath, mediaPath string
	var matchTime, mediaTime time.Time

	_ = filepath.WalkDir(e.outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		name := d.Name()
		if strings.Contains(name, pattern) && info.ModTime().After(matchTime) {
			matchPath, matchTime = path, info.ModTime()
		}
		if mediaExtensions[strings.ToLower(filepath.Ext(name))] && info.ModTime().After(mediaTime) {
			mediaPath, mediaTime = path, info.ModTime()
		}
		return nil
	})

	if matchPath != "" {
		return matchPath
	}
	return mediaPath
}

// traceOf extracts diagnostic detail from errors that carry it.
func traceOf(err error) string {
	var traced interface{ Trace() string }
	if errors.As(err, &traced) {
		return traced.Trace()
	}
	return ""
}

// panicError wraps a recovered panic value with the goroutine stack.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic during generation: %v", p.value)
}

func (p *panicError) Trace() string {
	return string(p.stack)
}
