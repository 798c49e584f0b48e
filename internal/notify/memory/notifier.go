// Package memory implements an in-memory notifier for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Notifier records published payloads instead of sending them anywhere.
type Notifier struct {
	mu       sync.Mutex
	next     int
	messages [][]byte
}

// New creates a new in-memory notifier.
func New() *Notifier {
	return &Notifier{}
}

// Publish marshals the payload and appends it to the message log.
func (n *Notifier) Publish(_ context.Context, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	n.messages = append(n.messages, data)
	return fmt.Sprintf("mem-%d", n.next), nil
}

// Messages returns copies of everything published so far.
func (n *Notifier) Messages() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]byte, len(n.messages))
	for i, m := range n.messages {
		out[i] = append([]byte(nil), m...)
	}
	return out
}
