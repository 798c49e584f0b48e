// Package local archives reports on the local filesystem.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"seoscope/internal/audit"
)

// Config captures the parameters for the filesystem archive.
type Config struct {
	// BaseDir is the root directory where reports are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Archive writes one JSON file per completed report.
type Archive struct {
	baseDir string
}

// New creates a filesystem-backed report archive, creating BaseDir if needed.
func New(cfg Config) (*Archive, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	return &Archive{baseDir: cfg.BaseDir}, nil
}

// StoreReport writes the report as <baseDir>/<jobID>.json and returns a
// file:// URI.
func (a *Archive) StoreReport(_ context.Context, jobID string, report *audit.ScoreReport) (string, error) {
	if report == nil {
		return "", fmt.Errorf("nil report for job %s", jobID)
	}
	name := filepath.Base(jobID) + ".json"
	fullPath := filepath.Join(a.baseDir, name)

	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(fullPath, raw, 0o600); err != nil {
		return "", fmt.Errorf("write report file: %w", err)
	}

	abs, err := filepath.Abs(fullPath)
	if err != nil {
		abs = fullPath
	}
	return "file://" + abs, nil
}
