package wado

import (
	"context"

	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/otcheredev/dicomweb-gateway/internal/render"
	"golang.org/x/sync/errgroup"
)

// MetadataMode selects how study and series metadata are built
type MetadataMode string

const (
	// MetadataFull renders every instance from its DICOM file
	MetadataFull MetadataMode = "Full"

	// MetadataMainDicomTags renders the tag summary kept by the archive
	MetadataMainDicomTags MetadataMode = "MainDicomTags"
)

// Metadata renders one document per instance, in the order of ids.
// Instances are fetched concurrently.
func (s *Service) Metadata(ctx context.Context, ids []string, mode MetadataMode, base string, xml bool) ([][]byte, error) {
	docs := make([][]byte, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			var doc []byte
			var err error
			if mode == MetadataMainDicomTags {
				doc, err = s.summaryMetadata(ctx, id, base, xml)
			} else {
				doc, err = s.fullMetadata(ctx, id, base, xml)
			}
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Service) fullMetadata(ctx context.Context, id, base string, xml bool) ([]byte, error) {
	f, err := s.parse(ctx, id)
	if err != nil {
		return nil, err
	}

	ds := f.Dataset
	study, series, instance := uids(ds)
	if url := render.RetrieveURL(base, study, series, instance); url != "" {
		ds.SetString(dictionary.RetrieveURL, "UR", url)
	}

	e := render.NewEmitter(xml)
	if err := render.WalkDataset(e, ds, s.charset, render.BulkURIRoot(base, study, series, instance)); err != nil {
		return nil, err
	}
	return e.Bytes()
}

func (s *Service) summaryMetadata(ctx context.Context, id, base string, xml bool) ([]byte, error) {
	tags, err := s.archive.InstanceTags(ctx, id)
	if err != nil {
		return nil, err
	}

	url := render.RetrieveURL(base,
		tags.String(dictionary.StudyInstanceUID),
		tags.String(dictionary.SeriesInstanceUID),
		tags.String(dictionary.SOPInstanceUID))
	if url != "" {
		tags.SetString(dictionary.RetrieveURL, url)
	}

	e := render.NewEmitter(xml)
	if err := render.WalkSummary(e, tags, ""); err != nil {
		return nil, err
	}
	return e.Bytes()
}
