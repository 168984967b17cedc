package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/internal/store"
)

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	npi := chi.URLParam(r, "npi")

	p, err := s.store.GetProviderByNPI(r.Context(), npi)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	if err != nil {
		zap.L().Error("get provider", zap.String("npi", npi), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	filter := store.ProviderFilter{
		Status: model.ProviderStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}

	providers, err := s.store.ListProviders(r.Context(), filter)
	if err != nil {
		zap.L().Error("list providers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"providers": providers, "count": len(providers)})
}

func decodeJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
