package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/klauspost/cpuid/v2"
)

// Cfg holds all runtime configuration loaded from environment variables.
type Cfg struct {
	// Model files. Relative paths are resolved against ModelDir.
	ModelDir    string // CXR_MODEL_DIR=models
	Backbone    string // CXR_BACKBONE=backbone.onnx
	HeadWeights string // CXR_HEAD_WEIGHTS=head.safetensors
	Metadata    string // CXR_METADATA=model_metadata.json

	// ONNX Runtime
	OrtLibrary string // CXR_ORT_LIB=/usr/lib/libonnxruntime.so
	Threads    int    // CXR_THREADS, defaults to the physical core count

	// Server
	ListenAddr     string // PORT=8080
	MaxUploadBytes int64  // CXR_MAX_UPLOAD_MB=10

	Debug bool // CXR_DEBUG=true
}

// Load reads .env (if present) then environment variables and returns Cfg.
func Load() (*Cfg, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	modelDir := envOr("CXR_MODEL_DIR", "models")

	threads := cpuid.CPU.PhysicalCores
	if threads <= 0 {
		threads = 1
	}
	if raw := strings.TrimSpace(os.Getenv("CXR_THREADS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CXR_THREADS must be a positive integer, got %q", raw)
		}
		threads = n
	}

	maxUploadMB := int64(10)
	if raw := strings.TrimSpace(os.Getenv("CXR_MAX_UPLOAD_MB")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CXR_MAX_UPLOAD_MB must be a positive integer, got %q", raw)
		}
		maxUploadMB = n
	}

	port := envOr("PORT", "8080")

	debugRaw := strings.TrimSpace(os.Getenv("CXR_DEBUG"))
	debug := debugRaw == "1" || strings.EqualFold(debugRaw, "true")

	return &Cfg{
		ModelDir:       modelDir,
		Backbone:       resolve(modelDir, envOr("CXR_BACKBONE", "backbone.onnx")),
		HeadWeights:    resolve(modelDir, envOr("CXR_HEAD_WEIGHTS", "head.safetensors")),
		Metadata:       resolve(modelDir, envOr("CXR_METADATA", "model_metadata.json")),
		OrtLibrary:     strings.TrimSpace(os.Getenv("CXR_ORT_LIB")),
		Threads:        threads,
		ListenAddr:     ":" + port,
		MaxUploadBytes: maxUploadMB << 20,
		Debug:          debug,
	}, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
