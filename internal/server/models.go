package server

import (
	"log/slog"
	"net/http"
	"slices"
	"time"
)

// handleListModels aggregates models from all registered providers and
// returns an OpenAI-compatible model list response. A failing provider is
// logged and skipped so one unhealthy upstream does not blank the list.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]struct{})
	var models []string
	for _, name := range s.deps.Providers.List() {
		p, err := s.deps.Providers.Get(name)
		if err != nil {
			continue
		}
		ids, err := p.ListModels(r.Context())
		if err != nil {
			slog.LogAttrs(r.Context(), slog.LevelWarn, "list models failed",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			models = append(models, id)
		}
	}
	slices.Sort(models)

	now := time.Now().Unix()
	data := make([]modelEntry, len(models))
	for i, m := range models {
		data[i] = modelEntry{
			ID:      m,
			Object:  "model",
			Created: now,
			OwnedBy: "system",
		}
	}

	writeJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   data,
	})
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}
