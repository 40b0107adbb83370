package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/services"
)

// AuditHandler lists the audit logs of ingests and client requests
type AuditHandler struct {
	gateway *services.GatewayService
}

func NewAuditHandler(gateway *services.GatewayService) *AuditHandler {
	return &AuditHandler{
		gateway: gateway,
	}
}

// Routes registers the audit resource, relative to the DICOMweb root
func (h *AuditHandler) Routes(r chi.Router) {
	r.Get("/audit", h.ListAuditLogs)
}

// ListAuditLogs answers the audit logs selected by the action, resource,
// limit and offset parameters, newest first
func (h *AuditHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := services.AuditQuery{
		Action:      params.Get("action"),
		ResourceUID: params.Get("resource"),
	}

	var err error
	if q.Limit, err = intParam(params.Get("limit")); err != nil {
		writeError(w, r, err)
		return
	}
	if q.Offset, err = intParam(params.Get("offset")); err != nil {
		writeError(w, r, err)
		return
	}

	logs, err := h.gateway.AuditLogs(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func intParam(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, apierr.Newf(apierr.BadRequest, "not an integer: %q", value)
	}
	return n, nil
}
