package wado

import (
	"context"
	"strconv"
	"strings"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/otcheredev/dicomweb-gateway/internal/negotiation"
)

// BulkContentType is the type of bulk data parts
const BulkContentType = "application/octet-stream"

// NegotiateBulk checks the Accept header of a bulk data request. Byte
// ranges are not supported.
func NegotiateBulk(accept string) error {
	_, err := negotiation.Negotiate(accept, func(ct negotiation.ContentType) (struct{}, error) {
		switch ct.Application {
		case "", "*/*":
			return struct{}{}, nil
		case "multipart/related":
		default:
			return struct{}{}, apierr.Newf(apierr.BadRequest,
				"bulk data can only be retrieved as multipart/related, not %s", ct.Application)
		}

		if t := ct.Type(); t != "" && t != BulkContentType {
			return struct{}{}, apierr.Newf(apierr.BadRequest,
				"bulk data can only be retrieved as %s, not %s", BulkContentType, t)
		}
		if _, ok := ct.Attribute("range"); ok {
			return struct{}{}, apierr.New(apierr.BadRequest, "range retrieval of bulk data is not supported")
		}
		return struct{}{}, nil
	})
	return err
}

// bulkStep is one tag of a bulk data path, with the item to enter when
// the tag is a sequence
type bulkStep struct {
	tag  dictionary.Tag
	item int
}

// parseBulkPath reads "tag/item/tag/item/.../tag". Items are 1-based.
func parseBulkPath(path string) ([]bulkStep, error) {
	components := strings.Split(strings.Trim(path, "/"), "/")
	if len(components)%2 == 0 {
		return nil, apierr.Newf(apierr.BadRequest, "invalid bulk data path: %s", path)
	}

	steps := make([]bulkStep, 0, len(components)/2+1)
	for i := 0; i < len(components); i += 2 {
		tag, err := dictionary.ParseTag(components[i])
		if err != nil {
			return nil, apierr.Wrap(apierr.BadRequest, err, "invalid tag in bulk data path")
		}
		step := bulkStep{tag: tag}
		if i+1 < len(components) {
			n, err := strconv.Atoi(components[i+1])
			if err != nil || n <= 0 {
				return nil, apierr.Newf(apierr.BadRequest, "invalid item number in bulk data path: %s", components[i+1])
			}
			step.item = n
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Bulk returns the raw value designated by path in an instance.
// Encapsulated pixel data is returned as the concatenation of its
// fragments.
func (s *Service) Bulk(ctx context.Context, id, path string) ([]byte, error) {
	steps, err := parseBulkPath(path)
	if err != nil {
		return nil, err
	}

	f, err := s.parse(ctx, id)
	if err != nil {
		return nil, err
	}
	return walkBulk(f.Dataset, steps, path)
}

func walkBulk(ds *dicom.Dataset, steps []bulkStep, path string) ([]byte, error) {
	for i, step := range steps {
		e := ds.Get(step.tag)
		if e == nil {
			return nil, apierr.Newf(apierr.NotFound, "no bulk data at %s", path)
		}

		if i == len(steps)-1 {
			if e.IsSequence() && !e.Encapsulated {
				return nil, apierr.Newf(apierr.BadRequest, "%s is a sequence, not bulk data", step.tag)
			}
			if e.Encapsulated {
				var out []byte
				for _, fragment := range e.Fragments {
					out = append(out, fragment...)
				}
				return out, nil
			}
			return e.Value, nil
		}

		if !e.IsSequence() || step.item > len(e.Items) {
			return nil, apierr.Newf(apierr.NotFound, "no bulk data at %s", path)
		}
		ds = e.Items[step.item-1]
	}
	return nil, apierr.Newf(apierr.NotFound, "no bulk data at %s", path)
}
