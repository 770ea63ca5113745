package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func submitTask(t *testing.T, baseURL, body string) string {
	t.Helper()
	resp, err := http.Post(baseURL+"/generate", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /generate: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 202\nbody: %s", resp.StatusCode, raw)
	}

	var ack struct {
		TaskID  string `json:"task_id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "queued" || ack.Message != "Task queued successfully" {
		t.Errorf("ack = %+v", ack)
	}
	return ack.TaskID
}

func pollTask(t *testing.T, baseURL, id, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	var task map[string]any
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/status/" + id)
		if err != nil {
			t.Fatalf("GET /status/%s: %v", id, err)
		}
		task = map[string]any{}
		err = json.NewDecoder(resp.Body).Decode(&task)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode status: %v", err)
		}
		status, _ := task["status"].(string)
		if status == want {
			return task
		}
		if status == "completed" || status == "failed" {
			t.Fatalf("task %s reached %q (error: %v), want %q", id, status, task["error"], want)
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("task %s never reached %q; last: %v", id, want, task)
	return nil
}

func TestServerStartsHealthy(t *testing.T) {
	sp, installDir := startHealthyServer(t)

	var h map[string]any
	resp := getJSON(t, sp.url+"/health", &h)
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if h["status"] != "healthy" {
		t.Errorf("health = %v", h)
	}
	if h["wan2gp_path"] != installDir {
		t.Errorf("wan2gp_path = %v, want %s", h["wan2gp_path"], installDir)
	}
}

func TestHealthUnhealthyWithoutEntryPoint(t *testing.T) {
	installDir := fakeInstall(t, false)
	sp := startServer(t, installDir, succeedingInterpreter(t), "/")

	resp, err := http.Get(sp.url + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	var h map[string]any
	json.NewDecoder(resp.Body).Decode(&h)
	if h["status"] != "unhealthy" {
		t.Errorf("health = %v", h)
	}
	errStr, _ := h["error"].(string)
	if !strings.Contains(errStr, "wgp.py") {
		t.Errorf("error = %q, want wgp.py mention", errStr)
	}
}

func TestIndexDescribesAPI(t *testing.T) {
	sp, _ := startHealthyServer(t)

	var idx struct {
		Name      string            `json:"name"`
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}
	getJSON(t, sp.url+"/", &idx)

	if idx.Name != "kiln" || idx.Version == "" {
		t.Errorf("index = %+v", idx)
	}
	if idx.Endpoints["POST /generate"] == "" {
		t.Errorf("endpoints = %v", idx.Endpoints)
	}
}

func TestGenerateLifecycle(t *testing.T) {
	sp, installDir := startHealthyServer(t)

	id := submitTask(t, sp.url, `{"prompt":"A cat on a roof","resolution":"832x480","steps":5}`)
	task := pollTask(t, sp.url, id, "completed")

	if task["progress"] != float64(100) {
		t.Errorf("progress = %v, want 100", task["progress"])
	}

	outputPath, _ := task["output_path"].(string)
	if outputPath == "" {
		t.Fatal("output_path is empty")
	}
	if !strings.HasPrefix(outputPath, filepath.Join(installDir, "outputs")) {
		t.Errorf("output_path = %q, want under %s/outputs", outputPath, installDir)
	}
	if _, err := os.Stat(outputPath); err != nil {
		t.Errorf("output file missing: %v", err)
	}

	params, _ := task["params"].(map[string]any)
	if params["prompt"] != "A cat on a roof" || params["resolution"] != "832x480" {
		t.Errorf("params snapshot = %v", params)
	}
	if task["started_at"] == nil || task["completed_at"] == nil {
		t.Error("timestamps missing")
	}
}

func TestGenerateFailureIsContained(t *testing.T) {
	installDir := fakeInstall(t, true)
	sp := startServer(t, installDir, failingInterpreter(t), "/health")

	id := submitTask(t, sp.url, `{"prompt":"too big"}`)

	deadline := time.Now().Add(15 * time.Second)
	for {
		var task map[string]any
		getJSON(t, sp.url+"/status/"+id, &task)
		if task["status"] == "failed" {
			if task["error"] != "CUDA out of memory" {
				t.Errorf("error = %v", task["error"])
			}
			trace, _ := task["trace"].(string)
			if !strings.Contains(trace, "Traceback") {
				t.Errorf("trace = %q", trace)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never failed; last: %v", task)
		}
		time.Sleep(pollInterval)
	}

	// The serving process survives the engine failure.
	var h map[string]any
	resp := getJSON(t, sp.url+"/health", &h)
	if resp.StatusCode != 200 {
		t.Errorf("health after failure = %d, want 200", resp.StatusCode)
	}
}

func TestStatusUnknownTask(t *testing.T) {
	sp, _ := startHealthyServer(t)

	resp, err := http.Get(sp.url + "/status/01HZXW4N9GQR8TBKJ5M2C3V7YD")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] != "Task not found" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestQueueListsSubmissions(t *testing.T) {
	sp, _ := startHealthyServer(t)

	var ids []string
	for _, prompt := range []string{"first", "second", "third"} {
		ids = append(ids, submitTask(t, sp.url, `{"prompt":"`+prompt+`"}`))
	}

	var q struct {
		Tasks []map[string]any `json:"tasks"`
		Count int              `json:"count"`
	}
	getJSON(t, sp.url+"/queue", &q)

	if q.Count != 3 || len(q.Tasks) != 3 {
		t.Fatalf("queue = %d tasks, count %d, want 3/3", len(q.Tasks), q.Count)
	}
	for i, task := range q.Tasks {
		if task["task_id"] != ids[i] {
			t.Errorf("tasks[%d] = %v, want %s", i, task["task_id"], ids[i])
		}
	}
}

func TestMalformedSubmission(t *testing.T) {
	sp, _ := startHealthyServer(t)

	resp, err := http.Post(sp.url+"/generate", "application/json", bytes.NewBufferString("not json"))
	if err != nil {
		t.Fatalf("POST /generate: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	sp, _ := startHealthyServer(t)

	var models struct {
		Models []map[string]any `json:"models"`
		Count  int              `json:"count"`
	}
	getJSON(t, sp.url+"/models", &models)
	if models.Count != 2 || len(models.Models) != 2 {
		t.Fatalf("models = %+v, want checkpoint and preset", models)
	}

	var loras struct {
		Loras []map[string]any `json:"loras"`
		Count int              `json:"count"`
	}
	getJSON(t, sp.url+"/loras", &loras)
	if loras.Count != 1 || loras.Loras[0]["name"] != "detail_enhancer" {
		t.Fatalf("loras = %+v", loras)
	}
}

func TestMetricsExposed(t *testing.T) {
	sp, _ := startHealthyServer(t)

	// Generate some traffic first.
	id := submitTask(t, sp.url, `{"prompt":"metrics run"}`)
	pollTask(t, sp.url, id, "completed")

	resp, err := http.Get(sp.url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	for _, metric := range []string{
		"kiln_http_requests_total",
		"kiln_http_request_duration_seconds",
		"kiln_tasks_total",
		"kiln_generation_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("metrics output missing %s", metric)
		}
	}
}
