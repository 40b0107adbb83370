package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/config"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/otcheredev/dicomweb-gateway/internal/frames"
	"github.com/otcheredev/dicomweb-gateway/internal/multipart"
	"github.com/otcheredev/dicomweb-gateway/internal/qido"
	"github.com/otcheredev/dicomweb-gateway/internal/render"
	"github.com/otcheredev/dicomweb-gateway/internal/services"
	"github.com/otcheredev/dicomweb-gateway/internal/stow"
	"github.com/otcheredev/dicomweb-gateway/internal/wado"
)

// DICOMWebHandler serves QIDO-RS, WADO-RS and STOW-RS
type DICOMWebHandler struct {
	searcher *qido.Searcher
	wado     *wado.Service
	gateway  *services.GatewayService
	cfg      config.DicomWebConfig
}

func NewDICOMWebHandler(searcher *qido.Searcher, wadoService *wado.Service, gateway *services.GatewayService, cfg config.DicomWebConfig) *DICOMWebHandler {
	return &DICOMWebHandler{
		searcher: searcher,
		wado:     wadoService,
		gateway:  gateway,
		cfg:      cfg,
	}
}

// Routes registers the DICOMweb resources, relative to the DICOMweb root
func (h *DICOMWebHandler) Routes(r chi.Router) {
	r.Get("/studies", h.search(qido.Study))
	r.Post("/studies", h.Store)
	r.Get("/series", h.search(qido.Series))
	r.Get("/instances", h.search(qido.Instance))

	r.Route("/studies/{study}", func(r chi.Router) {
		r.Get("/", h.RetrieveStudy)
		r.Post("/", h.Store)
		r.Get("/metadata", h.StudyMetadata)
		r.Get("/series", h.search(qido.Series))
		r.Get("/instances", h.search(qido.Instance))

		r.Route("/series/{series}", func(r chi.Router) {
			r.Get("/", h.RetrieveSeries)
			r.Get("/metadata", h.SeriesMetadata)
			r.Get("/instances", h.search(qido.Instance))

			r.Route("/instances/{instance}", func(r chi.Router) {
				r.Get("/", h.RetrieveInstance)
				r.Get("/metadata", h.InstanceMetadata)
				r.Get("/frames/{frames}", h.RetrieveFrames)
				r.Get("/bulk/*", h.RetrieveBulk)
			})
		})
	})
}

func (h *DICOMWebHandler) baseURL(r *http.Request) string {
	return render.BaseURL(h.cfg.Ssl, h.cfg.Host, h.cfg.Root, r)
}

// search handles QIDO-RS at one level. UIDs of the URL restrict the
// search.
func (h *DICOMWebHandler) search(level qido.Level) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := render.NegotiateFormat(r.Header.Get("Accept"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		q, err := qido.ParseQuery(r.URL.Query())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if study := chi.URLParam(r, "study"); study != "" {
			q.AddFilter(dictionary.StudyInstanceUID, study)
		}
		if series := chi.URLParam(r, "series"); series != "" {
			q.AddFilter(dictionary.SeriesInstanceUID, series)
		}

		docs, err := h.searcher.Search(r.Context(), level, q, h.baseURL(r), format.XML)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeDocuments(w, r, format, docs)
	}
}

// RetrieveStudy handles WADO-RS retrieval of a study
func (h *DICOMWebHandler) RetrieveStudy(w http.ResponseWriter, r *http.Request) {
	if err := wado.NegotiateDICOM(r.Header.Get("Accept")); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.wado.LocateStudy(r.Context(), chi.URLParam(r, "study"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.retrieve(w, r, archive.LevelStudy, id)
}

// RetrieveSeries handles WADO-RS retrieval of a series
func (h *DICOMWebHandler) RetrieveSeries(w http.ResponseWriter, r *http.Request) {
	if err := wado.NegotiateDICOM(r.Header.Get("Accept")); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.wado.LocateSeries(r.Context(), chi.URLParam(r, "study"), chi.URLParam(r, "series"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.retrieve(w, r, archive.LevelSeries, id)
}

// RetrieveInstance handles WADO-RS retrieval of an instance
func (h *DICOMWebHandler) RetrieveInstance(w http.ResponseWriter, r *http.Request) {
	if err := wado.NegotiateDICOM(r.Header.Get("Accept")); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.locateInstance(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.retrieve(w, r, archive.LevelInstance, id)
}

func (h *DICOMWebHandler) locateInstance(r *http.Request) (string, error) {
	return h.wado.LocateInstance(r.Context(),
		chi.URLParam(r, "study"), chi.URLParam(r, "series"), chi.URLParam(r, "instance"))
}

func (h *DICOMWebHandler) retrieve(w http.ResponseWriter, r *http.Request, level archive.Level, id string) {
	ids, err := h.wado.Instances(r.Context(), level, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMultipart(w, r, wado.DICOMContentType, func(mw *multipart.Writer) error {
		return h.wado.WriteInstances(r.Context(), mw, ids)
	})
}

// StudyMetadata handles WADO-RS metadata of a study
func (h *DICOMWebHandler) StudyMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := h.wado.LocateStudy(r.Context(), chi.URLParam(r, "study"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metadata(w, r, archive.LevelStudy, id, wado.MetadataMode(h.cfg.StudiesMetadata))
}

// SeriesMetadata handles WADO-RS metadata of a series
func (h *DICOMWebHandler) SeriesMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := h.wado.LocateSeries(r.Context(), chi.URLParam(r, "study"), chi.URLParam(r, "series"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metadata(w, r, archive.LevelSeries, id, wado.MetadataMode(h.cfg.SeriesMetadata))
}

// InstanceMetadata handles WADO-RS metadata of an instance, always read
// from its DICOM file
func (h *DICOMWebHandler) InstanceMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := h.locateInstance(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metadata(w, r, archive.LevelInstance, id, wado.MetadataFull)
}

func (h *DICOMWebHandler) metadata(w http.ResponseWriter, r *http.Request, level archive.Level, id string, mode wado.MetadataMode) {
	format, err := render.NegotiateFormat(r.Header.Get("Accept"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	ids, err := h.wado.Instances(r.Context(), level, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	docs, err := h.wado.Metadata(r.Context(), ids, mode, h.baseURL(r), format.XML)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeDocuments(w, r, format, docs)
}

// RetrieveFrames handles WADO-RS retrieval of frames
func (h *DICOMWebHandler) RetrieveFrames(w http.ResponseWriter, r *http.Request) {
	list, err := frames.ParseList(chi.URLParam(r, "frames"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	target, err := frames.NegotiateSyntax(r.Header.Get("Accept"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	contentType, err := frames.MediaType(target)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.locateInstance(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	extracted, err := h.wado.Frames(r.Context(), id, list, target)
	if err != nil {
		writeError(w, r, err)
		return
	}

	location := render.RetrieveURL(h.baseURL(r),
		chi.URLParam(r, "study"), chi.URLParam(r, "series"), chi.URLParam(r, "instance"))
	partType, _, _ := strings.Cut(contentType, ";")

	writeMultipart(w, r, partType, func(mw *multipart.Writer) error {
		return wado.WriteFrames(mw, contentType, location, extracted)
	})
}

// RetrieveBulk handles WADO-RS retrieval of bulk data
func (h *DICOMWebHandler) RetrieveBulk(w http.ResponseWriter, r *http.Request) {
	if err := wado.NegotiateBulk(r.Header.Get("Accept")); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.locateInstance(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := h.wado.Bulk(r.Context(), id, chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeMultipart(w, r, wado.BulkContentType, func(mw *multipart.Writer) error {
		return mw.WritePart(wado.BulkContentType, data, nil)
	})
}

// Store handles STOW-RS, optionally restricted to the study of the URL
func (h *DICOMWebHandler) Store(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.BadRequest, err, "cannot read STOW-RS body"))
		return
	}

	result, err := h.gateway.Ingest(r.Context(), callerOf(r),
		r.Header.Get("Content-Type"), body, chi.URLParam(r, "study"), h.baseURL(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	format := stow.NegotiateFormat(r.Header.Get("Accept"))
	doc, err := result.Render(format.XML)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType)
	w.WriteHeader(result.Status())
	w.Write(doc)
}
