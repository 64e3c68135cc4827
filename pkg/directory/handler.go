package directory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

// NewHandler exposes the registry over REST:
//
//	PUT /cards/{capability}   register a card
//	GET /cards/{capability}   look one up
//	GET /cards                list all registrations
func NewHandler(reg *Registry, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{reg: reg, logger: logger}
	r := chi.NewRouter()
	r.Get("/cards", h.list)
	r.Get("/cards/{capability}", h.find)
	r.Put("/cards/{capability}", h.register)
	return r
}

type handler struct {
	reg    *Registry
	logger *slog.Logger
}

func (h *handler) find(w http.ResponseWriter, r *http.Request) {
	card, err := h.reg.Find(r.Context(), chi.URLParam(r, "capability"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("directory lookup failed", telemetry.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var card a2a.AgentCard
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid card"})
		return
	}
	capability := chi.URLParam(r, "capability")
	if err := h.reg.Register(r.Context(), capability, &card); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Registration{Capability: normalize(capability), Card: &card})
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	regs, err := h.reg.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, regs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
