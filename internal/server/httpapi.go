package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/varbus/internal/logger"
	"github.com/marmos91/varbus/pkg/value"
)

// varJSON is the admin-surface rendering of a variable.
type varJSON struct {
	Name       string    `json:"name"`
	Handle     uint32    `json:"handle"`
	InstanceID uint32    `json:"instance_id"`
	GUID       uuid.UUID `json:"guid"`
	Type       string    `json:"type"`
	Flags      uint32    `json:"flags"`
	Format     string    `json:"format,omitempty"`
	Tags       string    `json:"tags,omitempty"`
	Readers    []uint32  `json:"readers,omitempty"`
	Writers    []uint32  `json:"writers,omitempty"`
	Serial     uint32    `json:"serial"`
	Value      string    `json:"value,omitempty"`
}

func (s *Store) varJSON(snap Snapshot) varJSON {
	out := varJSON{
		Name:       snap.Name,
		Handle:     uint32(snap.Handle),
		InstanceID: snap.InstanceID,
		GUID:       snap.GUID,
		Type:       snap.Type.String(),
		Flags:      uint32(snap.Flags),
		Format:     snap.Format,
		Tags:       snap.Tags,
		Readers:    snap.Readers,
		Writers:    snap.Writers,
		Serial:     snap.Serial,
	}
	var obj value.Object
	if _, err := s.Get(snap.Handle, nil, &obj); err == nil {
		if text, err := obj.Format(); err == nil {
			out.Value = text
		}
	}
	return out
}

// newAdminRouter builds the read-only admin and observability surface.
// It intentionally exposes no mutation: all writes go through the wire
// protocol where permissions apply.
func newAdminRouter(store *Store, d *Dispatcher, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"variables": store.Len(),
		})
	})

	r.Get("/v1/vars", func(w http.ResponseWriter, _ *http.Request) {
		snaps := store.All()
		out := make([]varJSON, 0, len(snaps))
		for _, snap := range snaps {
			out = append(out, store.varJSON(snap))
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/v1/vars/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		for _, snap := range store.All() {
			if snap.Name == name {
				writeJSON(w, http.StatusOK, store.varJSON(snap))
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such variable"})
	})

	r.Get("/v1/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Sessions())
	})

	if reg != nil {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("encode admin response", logger.KeyError, err)
	}
}
