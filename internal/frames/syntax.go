package frames

import (
	"strings"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/negotiation"
)

const octetStream = "application/octet-stream"

// mediaSyntax lists the transfer syntaxes a media type may carry. The
// first one is the default when the Accept header names none.
type mediaSyntax struct {
	media    string
	syntaxes []string
}

var mediaTypes = []mediaSyntax{
	{"image/jpeg", []string{dicom.JPEGLosslessSV1, dicom.JPEGBaseline, dicom.JPEGExtended, dicom.JPEGLossless}},
	{"image/x-dicom-rle", []string{dicom.RLELossless}},
	{"image/x-jls", []string{dicom.JPEGLSLossless, dicom.JPEGLSNearLossless}},
	{"image/jp2", []string{dicom.JPEG2000Lossless, dicom.JPEG2000}},
	{"image/jpx", []string{dicom.JPEG2000Part2Lossless, dicom.JPEG2000Part2}},
}

// legacy media type names, from DICOM 2014a
var legacyTypes = map[string]string{
	"image/dicom+jpeg":    "image/jpeg",
	"image/dicom+rle":     "image/x-dicom-rle",
	"image/dicom+jpeg-ls": "image/x-jls",
	"image/dicom+jp2":     "image/jp2",
	"image/dicom+jpx":     "image/jpx",
}

// transferSyntaxParam returns the requested transfer syntax, under either
// spelling of the parameter.
func transferSyntaxParam(ct negotiation.ContentType) string {
	if ts, ok := ct.Attribute("transfer-syntax"); ok {
		return strings.TrimSpace(ts)
	}
	if ts, ok := ct.Attribute("transfersyntax"); ok {
		return strings.TrimSpace(ts)
	}
	return ""
}

// NegotiateSyntax picks the transfer syntax of the returned frames from an
// Accept header. No header or */* selects uncompressed Implicit VR Little
// Endian.
func NegotiateSyntax(accept string) (string, error) {
	return negotiation.Negotiate(accept, targetSyntax)
}

func targetSyntax(ct negotiation.ContentType) (string, error) {
	switch ct.Application {
	case "", "*/*":
		return dicom.ImplicitVRLittleEndian, nil
	case "multipart/related":
	default:
		return "", apierr.Newf(apierr.BadRequest, "frames must be retrieved as multipart/related, not %s", ct.Application)
	}

	media := ct.Type()
	if media == "" {
		media = octetStream
	}
	if modern, ok := legacyTypes[media]; ok {
		media = modern
	}
	requested := transferSyntaxParam(ct)

	if media == octetStream {
		if requested != "" {
			return "", apierr.Newf(apierr.BadRequest,
				"cannot specify a transfer syntax (%s) for uncompressed pixel data", requested)
		}
		return dicom.ImplicitVRLittleEndian, nil
	}

	for _, m := range mediaTypes {
		if m.media != media {
			continue
		}
		if requested == "" {
			return m.syntaxes[0], nil
		}
		for _, ts := range m.syntaxes {
			if ts == requested {
				return ts, nil
			}
		}
		break
	}
	return "", apierr.Newf(apierr.BadRequest,
		"transfer syntax %q is incompatible with media type %q", requested, media)
}

// MediaType returns the Content-Type of a frame encoded in ts
func MediaType(ts string) (string, error) {
	if dicom.IsNativeLittleEndian(ts) {
		return octetStream, nil
	}
	for _, m := range mediaTypes {
		for _, candidate := range m.syntaxes {
			if candidate == ts {
				return m.media + "; transferSyntax=" + ts, nil
			}
		}
	}
	return "", apierr.Newf(apierr.Internal, "no media type for transfer syntax %s", ts)
}
