package wado

import (
	"context"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/multipart"
	"github.com/otcheredev/dicomweb-gateway/internal/negotiation"
)

// DICOMContentType is the type of the parts of a DICOM retrieval
const DICOMContentType = "application/dicom"

// NegotiateDICOM checks that the Accept header allows multipart DICOM
// instances in their stored transfer syntax
func NegotiateDICOM(accept string) error {
	_, err := negotiation.Negotiate(accept, func(ct negotiation.ContentType) (struct{}, error) {
		switch ct.Application {
		case "", "*/*":
			return struct{}{}, nil
		case "multipart/related":
		default:
			return struct{}{}, apierr.Newf(apierr.BadRequest,
				"this WADO-RS resource can only be retrieved as multipart/related, not %s", ct.Application)
		}

		if t := ct.Type(); t != "" && t != DICOMContentType {
			return struct{}{}, apierr.Newf(apierr.BadRequest,
				"this WADO-RS resource can only be retrieved as %s, not %s", DICOMContentType, t)
		}
		if ts, ok := ct.Attribute("transfer-syntax"); ok {
			return struct{}{}, apierr.Newf(apierr.BadRequest,
				"transcoding of DICOM instances is not supported (transfer-syntax=%s)", ts)
		}
		return struct{}{}, nil
	})
	return err
}

// WriteInstances sends the DICOM files of ids as parts of mw, in order.
// It stops at the first archive or write failure.
func (s *Service) WriteInstances(ctx context.Context, mw *multipart.Writer, ids []string) error {
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := s.archive.InstanceFile(ctx, id)
		if err != nil {
			return err
		}
		if err := mw.WritePart(DICOMContentType, data, nil); err != nil {
			return err
		}
	}
	return nil
}
