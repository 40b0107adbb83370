package handlers

import (
	"net/http"

	"github.com/otcheredev/dicomweb-gateway/internal/wado"
)

// WadoURIHandler serves WADO-URI
type WadoURIHandler struct {
	wado *wado.Service
}

func NewWadoURIHandler(wadoService *wado.Service) *WadoURIHandler {
	return &WadoURIHandler{wado: wadoService}
}

// Retrieve answers GET ?requestType=WADO&objectUID=...
func (h *WadoURIHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	req := wado.ParseURIRequest(r.URL.Query())

	data, contentType, err := h.wado.RetrieveURI(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}
