// Package wado implements WADO-RS and WADO-URI retrieval on top of the
// archive
package wado

import (
	"context"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/otcheredev/dicomweb-gateway/internal/frames"
	"github.com/rs/zerolog/log"
)

// DefaultConcurrency bounds the instances rendered in parallel
const DefaultConcurrency = 8

// Service retrieves DICOM instances, metadata, bulk data and frames
type Service struct {
	archive     *archive.Client
	codecs      *frames.Registry
	charset     dicom.Charset
	concurrency int
}

func NewService(arc *archive.Client, codecs *frames.Registry, concurrency int) *Service {
	if codecs == nil {
		codecs = frames.NewRegistry()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Service{
		archive:     arc,
		codecs:      codecs,
		charset:     dicom.DefaultCharset,
		concurrency: concurrency,
	}
}

// LocateStudy returns the archive ID of a study
func (s *Service) LocateStudy(ctx context.Context, study string) (string, error) {
	return s.archive.Lookup(ctx, archive.LevelStudy, study)
}

// LocateSeries returns the archive ID of a series, after checking that it
// belongs to study
func (s *Service) LocateSeries(ctx context.Context, study, series string) (string, error) {
	id, err := s.archive.Lookup(ctx, archive.LevelSeries, series)
	if err != nil {
		return "", err
	}

	parent, err := s.archive.SeriesStudy(ctx, id)
	if err != nil {
		return "", s.forgetMissing(ctx, series, err)
	}
	if parent.Tag("StudyInstanceUID") != study {
		log.Debug().
			Str("study", study).
			Str("series", series).
			Msg("Series does not belong to study")
		return "", apierr.Newf(apierr.NotFound, "series %s does not belong to study %s", series, study)
	}
	return id, nil
}

// LocateInstance returns the archive ID of an instance, after checking its
// parent series and study. Empty parent UIDs are not checked.
func (s *Service) LocateInstance(ctx context.Context, study, series, instance string) (string, error) {
	id, err := s.archive.Lookup(ctx, archive.LevelInstance, instance)
	if err != nil {
		return "", err
	}

	if series != "" {
		parent, err := s.archive.InstanceSeries(ctx, id)
		if err != nil {
			return "", s.forgetMissing(ctx, instance, err)
		}
		if parent.Tag("SeriesInstanceUID") != series {
			return "", apierr.Newf(apierr.NotFound, "instance %s does not belong to series %s", instance, series)
		}
	}

	if study != "" {
		parent, err := s.archive.InstanceStudy(ctx, id)
		if err != nil {
			return "", s.forgetMissing(ctx, instance, err)
		}
		if parent.Tag("StudyInstanceUID") != study {
			return "", apierr.Newf(apierr.NotFound, "instance %s does not belong to study %s", instance, study)
		}
	}
	return id, nil
}

// forgetMissing drops the cached lookup of uid when the archive no longer
// knows the resource it maps to
func (s *Service) forgetMissing(ctx context.Context, uid string, err error) error {
	if apierr.KindOf(err) == apierr.NotFound {
		log.Debug().Str("uid", uid).Msg("Archive resource is gone, dropping cached lookup")
		s.archive.Forget(ctx, uid)
	}
	return err
}

// Instances lists the instances of a study, series or instance, in
// archive order
func (s *Service) Instances(ctx context.Context, level archive.Level, id string) ([]string, error) {
	if level == archive.LevelInstance {
		return []string{id}, nil
	}
	children, err := s.archive.ChildInstances(ctx, level, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(children))
	for i, child := range children {
		ids[i] = child.ID
	}
	return ids, nil
}

// parse fetches and parses the DICOM file of an instance
func (s *Service) parse(ctx context.Context, id string) (*dicom.File, error) {
	data, err := s.archive.InstanceFile(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err := dicom.Parse(data)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "cannot parse DICOM instance "+id)
	}
	return f, nil
}

// uids returns the study, series and instance UIDs of a dataset
func uids(ds *dicom.Dataset) (study, series, instance string) {
	return ds.String(dictionary.StudyInstanceUID),
		ds.String(dictionary.SeriesInstanceUID),
		ds.String(dictionary.SOPInstanceUID)
}
