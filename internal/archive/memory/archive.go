// Package memory keeps archived reports in-memory for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"seoscope/internal/audit"
)

// Archive stores serialized reports in a map and returns pseudo URIs.
type Archive struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory report archive.
func New() *Archive {
	return &Archive{data: make(map[string][]byte)}
}

// StoreReport serializes the report and keeps it under the job ID.
func (a *Archive) StoreReport(_ context.Context, jobID string, report *audit.ScoreReport) (string, error) {
	if report == nil {
		return "", fmt.Errorf("nil report for job %s", jobID)
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[jobID] = raw
	return fmt.Sprintf("memory://reports/%s.json", jobID), nil
}

// GetReport returns the stored raw report, if any.
func (a *Archive) GetReport(jobID string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	raw, ok := a.data[jobID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), raw...), true
}
