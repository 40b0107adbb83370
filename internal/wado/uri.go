package wado

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/url"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/rs/zerolog/log"
)

// URIRequest is a WADO-URI request
type URIRequest struct {
	RequestType string
	Study       string
	Series      string
	Object      string
	ContentType string
}

// JPEG quality of WADO-URI renderings
const uriJPEGQuality = 90

// ParseURIRequest reads the query parameters of a WADO-URI request. The
// content type defaults to JPEG.
func ParseURIRequest(values url.Values) URIRequest {
	req := URIRequest{
		RequestType: values.Get("requestType"),
		Study:       values.Get("studyUID"),
		Series:      values.Get("seriesUID"),
		Object:      values.Get("objectUID"),
		ContentType: values.Get("contentType"),
	}
	if req.ContentType == "" {
		req.ContentType = "image/jpg"
	}
	return req
}

// LocateURI returns the archive ID of the instance of a WADO-URI request.
// Every failure is reported as not found.
func (s *Service) LocateURI(ctx context.Context, req URIRequest) (string, error) {
	if req.RequestType != "WADO" {
		log.Warn().Str("request_type", req.RequestType).Msg("WADO-URI: invalid requestType")
		return "", apierr.Newf(apierr.NotFound, "invalid requestType: %q", req.RequestType)
	}
	if req.Object == "" {
		log.Warn().Msg("WADO-URI: no SOPInstanceUID provided")
		return "", apierr.New(apierr.NotFound, "no objectUID provided")
	}

	id, err := s.LocateInstance(ctx, req.Study, req.Series, req.Object)
	if err != nil {
		if apierr.Is(err, apierr.NotFound) {
			log.Warn().Err(err).Str("object", req.Object).Msg("WADO-URI: cannot locate instance")
		}
		return "", err
	}
	return id, nil
}

// RetrieveURI answers a WADO-URI request with the DICOM file, a PNG
// preview or a JPEG rendering of the instance
func (s *Service) RetrieveURI(ctx context.Context, req URIRequest) (data []byte, contentType string, err error) {
	switch req.ContentType {
	case "application/dicom", "image/png", "image/jpeg", "image/jpg":
	default:
		return nil, "", apierr.Newf(apierr.BadRequest, "unsupported content type: %q", req.ContentType)
	}

	id, err := s.LocateURI(ctx, req)
	if err != nil {
		return nil, "", err
	}

	switch req.ContentType {
	case "application/dicom":
		data, err = s.archive.InstanceFile(ctx, id)
		return data, "application/dicom", err

	case "image/png":
		data, err = s.archive.InstancePreview(ctx, id)
		return data, "image/png", err

	default:
		preview, err := s.archive.InstancePreview(ctx, id)
		if err != nil {
			return nil, "", err
		}
		data, err = toJPEG(preview)
		if err != nil {
			return nil, "", err
		}
		return data, "image/jpeg", nil
	}
}

// toJPEG re-encodes a PNG preview
func toJPEG(png []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "cannot decode preview")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: uriJPEGQuality}); err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "cannot encode JPEG")
	}
	return buf.Bytes(), nil
}
