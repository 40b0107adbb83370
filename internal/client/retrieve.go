package client

import (
	"context"
	"net/http"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/models"
	"github.com/otcheredev/dicomweb-gateway/internal/multipart"
	"github.com/otcheredev/dicomweb-gateway/internal/negotiation"
	"github.com/rs/zerolog/log"
)

// retrieveURI returns the WADO-RS path of a remote resource
func retrieveURI(r models.RetrieveResource) (string, error) {
	if r.Study == "" {
		return "", apierr.New(apierr.BadRequest, `a non-empty "Study" field is mandatory for the WADO-RS retrieve client`)
	}
	if r.Series == "" && r.Instance != "" {
		return "", apierr.New(apierr.BadRequest, `the "Series" field is mandatory when "Instance" is set`)
	}

	uri := "studies/" + r.Study
	if r.Series != "" {
		uri += "/series/" + r.Series
		if r.Instance != "" {
			uri += "/instances/" + r.Instance
		}
	}
	return uri, nil
}

// Retrieve downloads resources from a server with WADO-RS and stores the
// received instances in the archive. It returns the sorted archive IDs of
// the stored instances.
func (c *Client) Retrieve(ctx context.Context, name string, req models.RetrieveRequest) ([]string, error) {
	p, err := c.peer(name)
	if err != nil {
		return nil, err
	}
	defer p.close()

	stored := make(map[string]struct{})
	for _, resource := range req.Resources {
		uri, err := retrieveURI(resource)
		if err != nil {
			return nil, err
		}

		resp, err := p.call(ctx, http.MethodGet, uri, nil, req.HttpHeaders, nil)
		if err != nil {
			return nil, err
		}

		parts, err := dicomParts(resp, name)
		if err != nil {
			return nil, err
		}

		var size int
		for _, part := range parts {
			size += len(part.Data)
		}
		log.Info().Str("server", name).Str("uri", uri).Int("instances", len(parts)).
			Str("size", humanize.Bytes(uint64(size))).
			Msg("Remote WADO-RS server has provided DICOM instances")

		for _, part := range parts {
			result, err := c.archive.Store(ctx, part.Data)
			if err != nil {
				return nil, err
			}
			stored[result.ID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(stored))
	for id := range stored {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// dicomParts checks that a WADO-RS answer is a multipart of DICOM files
// and splits it
func dicomParts(resp *Response, server string) ([]multipart.Part, error) {
	header := resp.Header.Get("Content-Type")
	if header == "" {
		return nil, apierr.Newf(apierr.Upstream, "no Content-Type provided by the remote WADO-RS server %s", server)
	}

	ct := negotiation.ParseContentType(header)
	if ct.Application != "multipart/related" {
		return nil, apierr.Newf(apierr.Upstream,
			"the remote WADO-RS server answers with a %q Content-Type, but multipart/related is expected", ct.Application)
	}
	if ct.Type() != dicomContentType {
		return nil, apierr.Newf(apierr.Upstream,
			"the remote WADO-RS server answers with a %q multipart Content-Type, but %s is expected", ct.Type(), dicomContentType)
	}
	boundary, _ := ct.Attribute("boundary")
	if boundary == "" {
		return nil, apierr.New(apierr.Upstream, "the remote WADO-RS server does not provide a boundary for its multipart answer")
	}

	parts := multipart.Parse(resp.Body, boundary)
	for _, part := range parts {
		if negotiation.ParseContentType(part.ContentType).Application != dicomContentType {
			return nil, apierr.New(apierr.Upstream, "the remote WADO-RS server has provided a non-DICOM file in its multipart answer")
		}
	}
	return parts, nil
}
