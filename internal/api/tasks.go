package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/kiln/internal/model"
	"github.com/seantiz/kiln/internal/normalize"
	"github.com/seantiz/kiln/internal/registry"
)

const maxBodySize = 1 << 20 // 1 MB

// generateResponse acknowledges an accepted generation task.
type generateResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// queueResponse wraps the task listing. Count is the total number of
// tasks, independent of any limit/offset window.
type queueResponse struct {
	Tasks []model.Task `json:"tasks"`
	Count int          `json:"count"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := model.NewID()
	params := normalize.Request(id, raw)

	task := &model.Task{
		ID:        id,
		Status:    model.StatusQueued,
		CreatedAt: time.Now().UTC(),
		Params:    normalize.Snapshot(params),
	}
	if err := s.registry.Create(task); err != nil {
		s.logger.Error("create task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	s.executor.Dispatch(id, params)
	s.logger.Info("task queued", "task_id", id, "prompt", truncate(params.Prompt, 50))

	s.writeJSON(w, http.StatusAccepted, generateResponse{
		TaskID:  id,
		Status:  model.StatusQueued,
		Message: "Task queued successfully",
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")

	task, err := s.registry.Get(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 0)
	offset := parseIntQuery(r, "offset", 0)

	tasks := s.registry.List()
	total := len(tasks)

	if offset > 0 {
		if offset > total {
			offset = total
		}
		tasks = tasks[offset:]
	}
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}

	s.writeJSON(w, http.StatusOK, queueResponse{
		Tasks: tasks,
		Count: total,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
// Negative values fall back to the default.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}

// truncate shortens a string for log lines.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
