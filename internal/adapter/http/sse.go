package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/service"
)

const defaultKeepAlive = 15 * time.Second

// SSEHandler streams job snapshots as server-sent events until the job
// reaches a terminal state.
type SSEHandler struct {
	eventBus  *service.EventBus
	jobs      JobService
	keepAlive time.Duration
}

func NewSSEHandler(eventBus *service.EventBus, jobs JobService, keepAlive time.Duration) *SSEHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &SSEHandler{
		eventBus:  eventBus,
		jobs:      jobs,
		keepAlive: keepAlive,
	}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// streamState remembers the last payload sent so repeated events for an
// unchanged job are not resent.
type streamState struct {
	last string
}

func (h *SSEHandler) sendSnapshot(w http.ResponseWriter, job domain.RenderJob, state *streamState) (*streamState, error) {
	payload, err := json.Marshal(newJobResponse(job))
	if err != nil {
		return state, err
	}
	if state != nil && state.last == string(payload) {
		return state, nil
	}
	sseWrite(w, "status", string(payload))
	return &streamState{last: string(payload)}, nil
}

// Events streams job snapshots as "status" events until the job is terminal,
// then sends "done" with the final status and closes.
func (h *SSEHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Subscribe before the first read so no transition falls in between.
	ch, unsubscribe := h.eventBus.Subscribe(id)
	defer unsubscribe()

	job, err := h.jobs.Status(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	state, err := h.sendSnapshot(w, job, nil)
	if err != nil {
		return
	}
	if job.IsTerminal() {
		sseWrite(w, "done", string(job.Status))
		return
	}

	ctx := r.Context()
	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			sendKeepAlive(w)
		case _, ok := <-ch:
			if !ok {
				return
			}
			// Events may be dropped for slow readers, so always send the full state.
			job, err := h.jobs.Status(id)
			if err != nil {
				return
			}
			if state, err = h.sendSnapshot(w, job, state); err != nil {
				return
			}
			if job.IsTerminal() {
				sseWrite(w, "done", string(job.Status))
				return
			}
		}
	}
}
