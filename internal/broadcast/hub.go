package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSubscriberBuffer = 64
	dropLogInterval         = 5 * time.Second
)

// Hub is a per-job registry of live subscribers. Broadcast never blocks the
// caller: a subscriber that cannot keep up loses events rather than stalling
// the processor. Per-subscriber ordering matches emission order because every
// send happens under one lock in the order Broadcast is called.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int
	closed bool

	bufferSize  int
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
}

// NewHub creates a Hub. A nil logger is replaced by a no-op logger.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:        make(map[string]map[int]chan Event),
		bufferSize:  defaultSubscriberBuffer,
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
}

// Subscribe registers an interested party for a job's events. The returned
// cancel function is idempotent and must be called when the party disconnects;
// removing the last subscriber for a job frees its registry entry. The channel
// is closed after a terminal event, on cancel, or on hub shutdown.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.bufferSize)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	h.nextID++
	id := h.nextID
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[int]chan Event)
	}
	h.subs[jobID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subs[jobID]
		if !ok {
			return
		}
		sub, ok := subs[id]
		if !ok {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.subs, jobID)
		}
		close(sub)
	}
	return ch, cancel
}

// Broadcast fans an event out to every subscriber registered for the job.
// With zero subscribers the event is dropped. A terminal event closes out the
// job's registry entry so late subscribers start a fresh (empty) stream.
func (h *Hub) Broadcast(jobID string, evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	for _, ch := range h.subs[jobID] {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
			if h.dropLimiter.Allow(time.Now()) {
				count := h.dropped.Swap(0)
				h.logger.Warn("broadcast events dropped due to slow subscribers",
					zap.String("job_id", jobID),
					zap.Int64("dropped", count),
				)
			}
		}
	}

	if evt.Terminal() {
		for _, ch := range h.subs[jobID] {
			close(ch)
		}
		delete(h.subs, jobID)
	}
}

// SubscriberCount reports the live subscribers for a job.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// Close tears down every subscription. Subsequent Subscribe calls return an
// already-closed channel and Broadcast becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for jobID, subs := range h.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subs, jobID)
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
