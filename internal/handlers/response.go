package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/multipart"
	"github.com/otcheredev/dicomweb-gateway/internal/render"
	"github.com/otcheredev/dicomweb-gateway/internal/services"
	"github.com/rs/zerolog/log"
)

// writeError is the error boundary of every handler
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.Status(err)
	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request failed")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Wrap(apierr.BadRequest, err, "invalid request body")
	}
	return nil
}

// callerOf identifies the client for the audit log
func callerOf(r *http.Request) services.Caller {
	ip := r.RemoteAddr
	if i := strings.LastIndexByte(ip, ':'); i > 0 && !strings.HasSuffix(ip, "]") {
		ip = ip[:i]
	}
	return services.Caller{IPAddress: ip, UserAgent: r.UserAgent()}
}

// writeMultipart streams the parts written by fn. Failures are reported
// as HTTP errors until the first part has been sent; afterwards the
// answer is cut short.
func writeMultipart(w http.ResponseWriter, r *http.Request, partType string, fn func(*multipart.Writer) error) {
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	mw := multipart.NewWriter(ww, partType)
	ww.Header().Set("Content-Type", mw.ContentType())

	if err := fn(mw); err != nil {
		if ww.BytesWritten() == 0 {
			writeError(w, r, err)
			return
		}
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Multipart answer interrupted")
		return
	}
	if err := mw.Close(); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Failed to close multipart answer")
	}
}

// writeDocuments sends DICOM JSON documents as one array, or DICOM XML
// documents as parts of a multipart answer
func writeDocuments(w http.ResponseWriter, r *http.Request, format render.Format, docs [][]byte) {
	if !format.XML {
		w.Header().Set("Content-Type", format.ContentType)
		w.Write(render.JSONArray(docs))
		return
	}

	writeMultipart(w, r, format.ContentType, func(mw *multipart.Writer) error {
		for _, doc := range docs {
			if err := mw.WritePart(format.ContentType, doc, nil); err != nil {
				return err
			}
		}
		return nil
	})
}
