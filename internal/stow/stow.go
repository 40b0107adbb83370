// Package stow ingests DICOM instances posted through STOW-RS
package stow

import (
	"context"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/otcheredev/dicomweb-gateway/internal/metrics"
	"github.com/otcheredev/dicomweb-gateway/internal/multipart"
	"github.com/otcheredev/dicomweb-gateway/internal/negotiation"
	"github.com/otcheredev/dicomweb-gateway/internal/render"
	"github.com/rs/zerolog/log"
)

// DICOMContentType is the only accepted part type
const DICOMContentType = "application/dicom"

// Status codes of the result dataset
const (
	// WarningElementsDiscarded marks instances outside the requested study
	WarningElementsDiscarded = "B006"

	// FailureProcessing marks instances the archive refused
	FailureProcessing = "0110"

	// FailureCannotUnderstand marks parts that are not DICOM
	FailureCannotUnderstand = "C000"
)

// Store is the part of the archive used for ingestion
type Store interface {
	Store(ctx context.Context, file []byte) (*archive.StoreResult, error)
}

// Service forwards STOW-RS payloads to the archive
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Result is the outcome of one STOW-RS request
type Result struct {
	Dataset *dicom.Dataset

	// Stored holds the archive IDs of the accepted instances
	Stored   []string
	Warnings int
	Failures int
}

// Status returns the HTTP status of the answer. Instances discarded for
// being outside the requested study keep the request successful.
func (r *Result) Status() int {
	if r.Failures > 0 {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// ParseBoundary checks the Content-Type of a STOW-RS request and returns
// the multipart boundary
func ParseBoundary(contentType string) (string, error) {
	if contentType == "" {
		return "", apierr.New(apierr.BadRequest, "no content type in STOW-RS request")
	}

	ct := negotiation.ParseContentType(contentType)
	boundary, hasBoundary := ct.Attribute("boundary")
	_, hasType := ct.Attribute("type")
	if ct.Application != "multipart/related" || !hasType || !hasBoundary || boundary == "" {
		return "", apierr.Newf(apierr.BadRequest, "unable to parse the content type of a STOW-RS request (%s)", ct.Application)
	}
	if ct.Type() != DICOMContentType {
		return "", apierr.Newf(apierr.UnsupportedMediaType, "STOW-RS only supports %s, not %s", DICOMContentType, ct.Type())
	}
	return boundary, nil
}

// Ingest stores every part of body. When expectedStudy is set, instances
// of other studies are discarded with a warning. base is the WADO-RS root
// used for retrieve URLs.
func (s *Service) Ingest(ctx context.Context, contentType string, body []byte, expectedStudy, base string) (*Result, error) {
	boundary, err := ParseBoundary(contentType)
	if err != nil {
		return nil, err
	}

	parts := multipart.Parse(body, boundary)
	for _, part := range parts {
		header := part.Header.Get("Content-Type")
		if header != "" && negotiation.ParseContentType(header).Application != DICOMContentType {
			return nil, apierr.Newf(apierr.UnsupportedMediaType,
				"the STOW-RS request contains a part that is not %s (it is: %q)", DICOMContentType, header)
		}
	}

	size := humanize.Bytes(uint64(len(body)))
	if expectedStudy == "" {
		log.Info().Int("parts", len(parts)).Str("size", size).Msg("STOW-RS request without study")
	} else {
		log.Info().Int("parts", len(parts)).Str("size", size).Str("study", expectedStudy).Msg("STOW-RS request restricted to study")
	}

	result := &Result{Dataset: dicom.NewDataset()}
	var success, failed []*dicom.Dataset
	first := true

	for _, part := range parts {
		f, err := dicom.Parse(part.Data)
		if err != nil {
			log.Warn().Err(err).Msg("STOW-RS part is not a DICOM instance")
			item := dicom.NewDataset()
			item.SetString(dictionary.FailureReason, "US", FailureCannotUnderstand)
			failed = append(failed, item)
			result.Failures++
			metrics.StowInstances.WithLabelValues(metrics.OutcomeFailure).Inc()
			continue
		}

		ds := f.Dataset
		study := ds.String(dictionary.StudyInstanceUID)
		sop := ds.String(dictionary.SOPInstanceUID)

		item := dicom.NewDataset()
		item.SetString(dictionary.ReferencedSOPClassUID, "UI", ds.String(dictionary.SOPClassUID))
		item.SetString(dictionary.ReferencedSOPInstanceUID, "UI", sop)

		if expectedStudy != "" && study != expectedStudy {
			log.Info().Str("expected", expectedStudy).Str("study", study).
				Msg("STOW-RS: ignoring instance from another study")
			item.SetString(dictionary.WarningReason, "US", WarningElementsDiscarded)
			success = append(success, item)
			result.Warnings++
			metrics.StowInstances.WithLabelValues(metrics.OutcomeWarning).Inc()
			continue
		}

		if first {
			result.Dataset.SetString(dictionary.RetrieveURL, "UR", render.RetrieveURL(base, study, "", ""))
			first = false
		}

		stored, err := s.store.Store(ctx, part.Data)
		if err != nil {
			log.Warn().Err(err).Str("sop_instance_uid", sop).Msg("Archive was unable to store instance through STOW-RS")
			item.SetString(dictionary.FailureReason, "US", FailureProcessing)
			failed = append(failed, item)
			result.Failures++
			metrics.StowInstances.WithLabelValues(metrics.OutcomeFailure).Inc()
			continue
		}

		item.SetString(dictionary.RetrieveURL, "UR",
			render.RetrieveURL(base, study, ds.String(dictionary.SeriesInstanceUID), sop))
		success = append(success, item)
		result.Stored = append(result.Stored, stored.ID)
		metrics.StowInstances.WithLabelValues(metrics.OutcomeSuccess).Inc()
	}

	if len(failed) > 0 {
		result.Dataset.SetSequence(dictionary.FailedSOPSequence, failed...)
	}
	if len(success) > 0 {
		result.Dataset.SetSequence(dictionary.ReferencedSOPSequence, success...)
	}
	return result, nil
}

// NegotiateFormat picks the representation of the result dataset. XML is
// the default, unknown types fall back to it.
func NegotiateFormat(accept string) render.Format {
	xml := render.Format{XML: true, ContentType: "application/dicom+xml"}
	f, _ := negotiation.Negotiate(accept, func(ct negotiation.ContentType) (render.Format, error) {
		switch ct.Application {
		case "application/json":
			return render.Format{ContentType: "application/json"}, nil
		case "application/dicom+json":
			return render.Format{ContentType: "application/dicom+json"}, nil
		case "", "*/*", "application/dicom+xml", "application/xml", "text/xml":
			return xml, nil
		}
		log.Warn().Str("accept", ct.Application).Msg("Unsupported return MIME type for STOW-RS, will return XML")
		return xml, nil
	})
	return f
}

// Render serializes the result dataset
func (r *Result) Render(xml bool) ([]byte, error) {
	e := render.NewEmitter(xml)
	if err := render.WalkDataset(e, r.Dataset, dicom.DefaultCharset, ""); err != nil {
		return nil, err
	}
	return e.Bytes()
}
