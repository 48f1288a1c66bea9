package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/livefeed/internal/log"
)

// sourceView is the wire shape of one source in /api/v1/sources.
type sourceView struct {
	ID        string     `json:"id"`
	Schedule  string     `json:"schedule"`
	Staleness string     `json:"staleness"`
	Fresh     bool       `json:"fresh"`
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
	Value     any        `json:"value,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.GetStatus())
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	infos := s.sup.Sources()
	out := make([]sourceView, 0, len(infos))
	for _, info := range infos {
		out = append(out, s.view(info.ID, info.Schedule, info.Staleness))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, info := range s.sup.Sources() {
		if info.ID == id {
			writeJSON(w, http.StatusOK, s.view(info.ID, info.Schedule, info.Staleness))
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown source")
}

func (s *Server) view(id, sched string, staleness time.Duration) sourceView {
	v := sourceView{
		ID:        id,
		Schedule:  sched,
		Staleness: staleness.String(),
		Fresh:     s.sup.Fresh(id),
	}
	if e, ok := s.sup.GetCurrent(id); ok {
		t := e.FetchedAt
		v.FetchedAt = &t
		v.Value = e.Value
	}
	return v
}

type onlineRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	if s.online == nil {
		writeError(w, http.StatusConflict, "connectivity is not manually controlled")
		return
	}
	var req onlineRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, `body must be {"online": true|false}`)
		return
	}
	s.online.Set(*req.Online)

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "online.set").
		Bool("online", *req.Online).
		Msg("connectivity set via API")
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.online.Online()})
}
