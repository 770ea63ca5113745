package e2e

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "kiln-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "kiln")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/kiln")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

// fakeInstall fabricates a Wan2GP installation directory: the wgp.py entry
// point (unless withEntryPoint is false), the outputs directory, and a
// small asset catalog.
func fakeInstall(t *testing.T, withEntryPoint bool) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		filepath.Join("ckpts", "wan2.1_text2video_14B.safetensors"): "weights",
		filepath.Join("loras", "detail_enhancer.safetensors"):       "weights",
		filepath.Join("defaults", "t2v.json"):                       `{"name": "Wan2.1 text2video 14B", "model": {"architecture": "t2v"}}`,
	}
	if withEntryPoint {
		files["wgp.py"] = "# engine entry point"
	}
	for rel, body := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "outputs"), 0o755); err != nil {
		t.Fatalf("mkdir outputs: %v", err)
	}
	return dir
}

// fakeInterpreter writes a shell script standing in for the python binary
// the server launches per generation.
func fakeInterpreter(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "python3")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake interpreter: %v", err)
	}
	return path
}

// succeedingInterpreter completes every generation: it writes the expected
// output file into outputs/ and reports progress before the result.
func succeedingInterpreter(t *testing.T) string {
	return fakeInterpreter(t, `input=$(cat)
name=$(printf '%s' "$input" | sed -n 's/.*"output_filename":"\([^"]*\)".*/\1/p')
mkdir -p outputs
printf 'stub video' > "outputs/${name}.mp4"
printf '%s\n' '{"type":"progress","percent":50,"status":"denoising"}'
printf '%s\n' '{"type":"result"}'`)
}

// failingInterpreter reports an engine failure for every generation.
func failingInterpreter(t *testing.T) string {
	return fakeInterpreter(t, `cat > /dev/null
printf '%s\n' '{"type":"result","error":"CUDA out of memory","trace":"Traceback: boom"}'`)
}

// startServer launches the built binary against the given installation and
// interpreter, then waits for readyPath to answer 200.
func startServer(t *testing.T, installDir, interpreter, readyPath string) *serverProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	stdout := &lockedBuffer{}
	cmd := exec.Command(getBinary(t))
	cmd.Env = append(os.Environ(),
		"KILN_LISTEN_ADDR="+addr,
		"KILN_WAN2GP_PATH="+installDir,
		"KILN_PYTHON="+interpreter,
		"KILN_MAX_CONCURRENT=2",
		"KILN_LOG_LEVEL=info",
	)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + readyPath)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// startHealthyServer is the common case: full installation, succeeding
// engine, ready when /health answers.
func startHealthyServer(t *testing.T) (*serverProc, string) {
	t.Helper()
	installDir := fakeInstall(t, true)
	sp := startServer(t, installDir, succeedingInterpreter(t), "/health")
	return sp, installDir
}
