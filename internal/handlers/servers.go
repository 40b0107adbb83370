package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/otcheredev/dicomweb-gateway/internal/models"
	"github.com/otcheredev/dicomweb-gateway/internal/services"
	"github.com/rs/zerolog/log"
)

// serverOperations are the sub-resources of a registered server
var serverOperations = []string{"get", "retrieve", "stow"}

// ServersHandler manages remote DICOMweb servers and sends requests to
// them
type ServersHandler struct {
	gateway *services.GatewayService
}

func NewServersHandler(gateway *services.GatewayService) *ServersHandler {
	return &ServersHandler{
		gateway: gateway,
	}
}

// Routes registers the server resources, relative to the DICOMweb root
func (h *ServersHandler) Routes(r chi.Router) {
	r.Get("/servers", h.ListServers)
	r.Route("/servers/{name}", func(r chi.Router) {
		r.Get("/", h.GetServer)
		r.Put("/", h.PutServer)
		r.Delete("/", h.DeleteServer)
		r.Post("/stow", h.Stow)
		r.Post("/get", h.Get)
		r.Post("/retrieve", h.Retrieve)
	})
}

// ListServers lists the registered servers
func (h *ServersHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gateway.ServerNames())
}

// GetServer lists the operations available on a server
func (h *ServersHandler) GetServer(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gateway.Server(chi.URLParam(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, serverOperations)
}

// PutServer registers or replaces a server
func (h *ServersHandler) PutServer(w http.ResponseWriter, r *http.Request) {
	var server models.Server
	if err := decodeJSON(r, &server); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.gateway.PutServer(r.Context(), chi.URLParam(r, "name"), server); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// DeleteServer removes a server
func (h *ServersHandler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.DeleteServer(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// Stow sends archive resources to a server with STOW-RS
func (h *ServersHandler) Stow(w http.ResponseWriter, r *http.Request) {
	var req models.StowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.gateway.Stow(r.Context(), callerOf(r), chi.URLParam(r, "name"), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// Get forwards a GET request to a server and relays its answer
func (h *ServersHandler) Get(w http.ResponseWriter, r *http.Request) {
	var req models.GetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := h.gateway.Get(r.Context(), chi.URLParam(r, "name"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	for key, values := range resp.Header {
		switch http.CanonicalHeaderKey(key) {
		case "Transfer-Encoding", "Content-Length", "Connection":
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Body); err != nil {
		log.Warn().Err(err).Str("server", chi.URLParam(r, "name")).Msg("Failed to relay DICOMweb answer")
	}
}

// Retrieve downloads resources from a server with WADO-RS into the
// archive
func (h *ServersHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req models.RetrieveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	answer, err := h.gateway.Retrieve(r.Context(), callerOf(r), chi.URLParam(r, "name"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
