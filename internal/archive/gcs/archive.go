// Package gcs archives reports in a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"seoscope/internal/audit"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	// Prefix is prepended to every object name, e.g. "reports".
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// Archive writes completed reports to a configured GCS bucket.
type Archive struct {
	client *storage.Client
	cfg    Config
}

// New creates a GCS-backed report archive.
func New(client *storage.Client, cfg Config) (*Archive, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "reports"
	}
	return &Archive{client: client, cfg: cfg}, nil
}

// StoreReport uploads the report as JSON and returns a gs:// URI.
func (a *Archive) StoreReport(ctx context.Context, jobID string, report *audit.ScoreReport) (string, error) {
	if report == nil {
		return "", fmt.Errorf("nil report for job %s", jobID)
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	object := fmt.Sprintf("%s/%s.json", a.cfg.Prefix, jobID)
	writer := a.client.Bucket(a.cfg.Bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(raw)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.cfg.Bucket, object), nil
}
