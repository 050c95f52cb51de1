package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/autoclient/internal/events"
)

const keepAliveInterval = 15 * time.Second

// handleEvents handles GET /events: lifecycle events as server-sent events.
// ?type=command.,cluster. limits the stream to those type prefixes and a
// Last-Event-ID header resumes after the given id.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	prefixes := parseTypeFilter(r.URL.Query().Get("type"))

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribing first means the replay and the live feed overlap rather
	// than leave a gap; the overlap is skipped by id.
	live, unsubscribe := s.opts.Hub.Subscribe(prefixes...)
	defer unsubscribe()

	cursor := parseLastEventID(r.Header.Get("Last-Event-ID"))
	send := func(ev events.Event) bool {
		if ev.ID <= cursor {
			return true
		}
		if err := writeSSE(w, ev); err != nil {
			return false
		}
		cursor = ev.ID
		return true
	}

	for _, ev := range s.opts.Hub.SnapshotSince(cursor, prefixes...) {
		if !send(ev) {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok || !send(ev) {
				return
			}
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func parseTypeFilter(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE frames one event. Payloads are single-line JSON so one data
// line is enough.
func writeSSE(w io.Writer, ev events.Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
