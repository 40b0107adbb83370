package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/database"
)

// Archive is the part of the archive checked by the health endpoints
type Archive interface {
	System(ctx context.Context) (*archive.SystemInfo, error)
}

type HealthHandler struct {
	archive  Archive
	database bool
}

// NewHealthHandler creates the health handler. The database is only
// checked when enabled.
func NewHealthHandler(arc Archive, databaseEnabled bool) *HealthHandler {
	return &HealthHandler{
		archive:  arc,
		database: databaseEnabled,
	}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Archive   string            `json:"archive,omitempty"`
	Services  map[string]string `json:"services"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Check archive
	if info, err := h.archive.System(r.Context()); err != nil {
		response.Services["archive"] = "unhealthy"
		response.Status = "degraded"
	} else {
		response.Services["archive"] = "healthy"
		response.Archive = info.Name + " " + info.Version
	}

	// Check database
	if h.database {
		if err := database.Ping(); err != nil {
			response.Services["database"] = "unhealthy"
			response.Status = "degraded"
		} else {
			response.Services["database"] = "healthy"
		}
	}

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	// The gateway is useless without its archive
	if _, err := h.archive.System(r.Context()); err != nil {
		http.Error(w, "Service not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
