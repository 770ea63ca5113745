package main

import (
	"log"
	"os"

	"github.com/seantiz/kiln/internal/api"
	"github.com/seantiz/kiln/internal/config"
	"github.com/seantiz/kiln/internal/engine/wan2gp"
	"github.com/seantiz/kiln/internal/executor"
	"github.com/seantiz/kiln/internal/registry"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("kiln: starting",
		"listen_addr", cfg.ListenAddr,
		"wan2gp_path", cfg.EnginePath,
		"max_concurrent", cfg.MaxConcurrent,
	)

	if _, err := os.Stat(cfg.EnginePath); err != nil {
		logger.Error("Wan2GP path does not exist", "path", cfg.EnginePath)
		logger.Error("set KILN_WAN2GP_PATH to the Wan2GP installation directory")
		os.Exit(1)
	}

	bridge := wan2gp.New(cfg.EnginePath, cfg.Python, logger)
	if h := bridge.Probe(); !h.Healthy {
		logger.Warn("engine prerequisites incomplete", "reason", h.Err)
	}

	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = bridge.OutputDir()
	}
	logger.Info("resolving generated files", "output_dir", outputDir)

	reg := registry.New()
	exec := executor.New(reg, bridge, outputDir, cfg.MaxConcurrent, logger)
	srv := api.NewServer(cfg.ListenAddr, reg, exec, bridge, cfg.EnginePath, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
