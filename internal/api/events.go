package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"seoscope/internal/audit"
	"seoscope/internal/broadcast"
	"seoscope/internal/metrics"
)

// streamEvents handles GET /v1/audits/{job_id}/events as a server-sent event
// stream. The client first gets a snapshot of the job's current state, then
// live hub events. The stream ends after a terminal event or when the client
// disconnects; a terminal job yields just the terminal snapshot.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the snapshot read so no event between the two is lost.
	events, cancel := s.hub.Subscribe(chi.URLParam(r, "job_id"))
	defer cancel()

	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	metrics.IncSubscribers()
	defer metrics.DecSubscribers()

	if done := s.writeSnapshot(w, flusher, job); done {
		return
	}

	lastProgress := job.Progress
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			if evt.Type == broadcast.EventStatus && evt.Progress < lastProgress {
				continue
			}
			if evt.Type == broadcast.EventStatus {
				lastProgress = evt.Progress
			}
			if err := writeSSE(w, evt); err != nil {
				s.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
			if evt.Terminal() {
				return
			}
		}
	}
}

// writeSnapshot emits the job's current state as the first event. Returns
// true when the job is already terminal and the stream should end.
func (s *Server) writeSnapshot(w http.ResponseWriter, flusher http.Flusher, job audit.Job) bool {
	var evt broadcast.Event
	switch job.State {
	case audit.JobStateCompleted:
		evt = broadcast.CompleteEvent(job.ID, job.Report)
	case audit.JobStateFailed:
		evt = broadcast.ErrorEvent(job.ID, job.ErrorMessage)
	default:
		evt = broadcast.StatusEvent(job.ID, job.Progress, "snapshot")
	}
	if err := writeSSE(w, evt); err != nil {
		s.logger.Debug("event stream write failed", zap.Error(err))
		return true
	}
	flusher.Flush()
	return evt.Terminal()
}

func writeSSE(w http.ResponseWriter, evt broadcast.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
