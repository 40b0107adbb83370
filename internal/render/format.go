package render

import (
	"bytes"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/negotiation"
)

// Format is a negotiated representation of DICOM documents. XML documents
// are sent as parts of a multipart/related answer, JSON documents as one
// array.
type Format struct {
	XML         bool
	ContentType string
}

// NegotiateFormat picks the representation of metadata and search results
// from an Accept header. DICOM JSON is the default.
func NegotiateFormat(accept string) (Format, error) {
	return negotiation.Negotiate(accept, func(ct negotiation.ContentType) (Format, error) {
		switch ct.Application {
		case "", "*/*", "application/dicom+json":
			return Format{ContentType: "application/dicom+json"}, nil
		case "application/json":
			return Format{ContentType: "application/json"}, nil
		case "multipart/related":
			switch ct.Type() {
			case "", "application/dicom+xml":
				return Format{XML: true, ContentType: "application/dicom+xml"}, nil
			}
			return Format{}, apierr.Newf(apierr.BadRequest,
				"this resource can only be retrieved as application/dicom+xml in multipart, not %s", ct.Type())
		}
		return Format{}, apierr.Newf(apierr.BadRequest,
			"this resource can be retrieved as application/dicom+json or multipart application/dicom+xml, not %s", ct.Application)
	})
}

// JSONArray joins JSON documents into one array
func JSONArray(docs [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(bytes.Join(docs, []byte{','}))
	buf.WriteByte(']')
	return buf.Bytes()
}
