// testserver starts a kiln API server with a stub generation engine for
// E2E testing. Usage: go run ./cmd/testserver
//
// Knobs: KILN_LISTEN_ADDR (default :7861), KILN_TEST_DELAY_MS per-generation
// delay (default 200). Prompts containing "FAIL" make the stub engine fail.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/kiln/internal/api"
	"github.com/seantiz/kiln/internal/engine"
	"github.com/seantiz/kiln/internal/executor"
	"github.com/seantiz/kiln/internal/registry"
)

// stubEngine fakes a generation run: staged progress, a scripted failure
// hook, and a real output file for discovery.
type stubEngine struct {
	delay     time.Duration
	outputDir string
}

func (s *stubEngine) Generate(_ context.Context, call *engine.Call) error {
	steps := []struct {
		percent float64
		status  string
	}{
		{25, "Loading model"},
		{50, "Denoising"},
		{75, "Rendering frames"},
	}

	for _, step := range steps {
		time.Sleep(s.delay / 4)
		if call.Progress != nil {
			call.Progress(step.percent, step.status)
		}
	}
	time.Sleep(s.delay / 4)

	if strings.Contains(call.Params.Prompt, "FAIL") {
		return errors.New("scripted generation failure")
	}

	name := call.Params.OutputFilename + ".mp4"
	return os.WriteFile(filepath.Join(s.outputDir, name), []byte("stub video"), 0o644)
}

type stubProber struct {
	path string
}

func (p stubProber) Probe() engine.Health {
	return engine.Health{Healthy: true, Path: p.path}
}

func main() {
	addr := ":7861"
	if v := os.Getenv("KILN_LISTEN_ADDR"); v != "" {
		addr = v
	}

	delay := 200 * time.Millisecond
	if v := os.Getenv("KILN_TEST_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			delay = time.Duration(ms) * time.Millisecond
		}
	}

	installDir, err := os.MkdirTemp("", "kiln-testserver-")
	if err != nil {
		log.Fatalf("create install dir: %v", err)
	}
	outputDir := filepath.Join(installDir, "outputs")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}
	seedCatalog(installDir)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	reg := registry.New()
	eng := &stubEngine{delay: delay, outputDir: outputDir}
	exec := executor.New(reg, eng, outputDir, 2, logger)
	srv := api.NewServer(addr, reg, exec, stubProber{installDir}, installDir, logger)

	logger.Info("testserver: starting", "addr", addr, "install_dir", installDir)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// seedCatalog gives the models/loras endpoints something to find.
func seedCatalog(installDir string) {
	files := map[string]string{
		filepath.Join("ckpts", "wan2.1_text2video_14B.safetensors"): "stub weights",
		filepath.Join("loras", "detail_enhancer.safetensors"):       "stub weights",
		filepath.Join("defaults", "t2v.json"):                       `{"name": "Wan2.1 text2video 14B", "model": {"architecture": "t2v"}}`,
	}
	for rel, body := range files {
		path := filepath.Join(installDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Fatalf("seed catalog: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			log.Fatalf("seed catalog: %v", err)
		}
	}
}
