package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/livefeed/internal/bus"
	"github.com/ManuGH/livefeed/internal/log"
	"github.com/ManuGH/livefeed/internal/metrics"
)

// handleEvents streams bus events as Server-Sent Events. The bus delivers
// synchronously, so the subscriber only enqueues into a bounded per-client
// buffer; when a slow client lets it fill up, events are dropped and the
// client is told how many it missed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		channel = bus.Wildcard
	}

	queue := make(chan bus.Event, s.eventQueue)
	var dropped atomic.Int64
	sub, err := s.sup.Subscribe(channel, func(ev bus.Event) {
		select {
		case queue <- ev:
		default:
			dropped.Add(1)
			metrics.IncStreamDrop("queue_full")
		}
	})
	switch {
	case errors.Is(err, bus.ErrInvalidChannel):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, bus.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "service is stopping")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sub.Unsubscribe()

	streamID := uuid.NewString()
	logger := log.WithComponentFromContext(r.Context(), "sse").With().
		Str(log.FieldSubscriptionID, streamID).
		Str(log.FieldChannel, channel).
		Logger()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, ": stream %s\n\n", streamID); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logger.Warn().Err(err).Msg("response writer cannot stream")
		return
	}
	logger.Info().Str(log.FieldEvent, "sse.open").Msg("event stream opened")

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	var seq uint64
	reason := "client_gone"
	defer func() {
		logger.Info().
			Str(log.FieldEvent, "sse.close").
			Str("reason", reason).
			Uint64("sent", seq).
			Msg("event stream closed")
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			reason = "server_shutdown"
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case ev := <-queue:
			if n := dropped.Swap(0); n > 0 {
				seq++
				if err := writeFrame(w, seq, "dropped", map[string]int64{"count": n}); err != nil {
					return
				}
			}
			seq++
			if err := writeFrame(w, seq, ev.EventType(), ev); err != nil {
				reason = "write_failed"
				return
			}
			if st, ok := ev.(bus.StatusEvent); ok && st.Phase == bus.PhaseStopped {
				_ = rc.Flush()
				reason = "supervisor_stopped"
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, id uint64, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
		event = "encode_error"
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
