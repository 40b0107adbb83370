package qido

import (
	"context"
	"strconv"
	"strings"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/otcheredev/dicomweb-gateway/internal/render"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the rows expanded in parallel
const DefaultConcurrency = 8

// Searcher runs QIDO-RS searches
type Searcher struct {
	archive     *archive.Client
	concurrency int
}

func NewSearcher(arc *archive.Client, concurrency int) *Searcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Searcher{archive: arc, concurrency: concurrency}
}

// Search finds the resources matching q and renders one document per
// row, in archive order. base is the DICOMweb root used in Retrieve URLs.
// Resources without instances are dropped before the offset and limit
// apply.
func (s *Searcher) Search(ctx context.Context, level Level, q *Query, base string, xml bool) ([][]byte, error) {
	ids, err := s.archive.Find(ctx, q.find(level))
	if err != nil {
		return nil, err
	}

	attrs := q.Attributes(level)
	skip := q.Offset
	out := [][]byte{}

	for start := 0; start < len(ids); start += s.concurrency {
		batch, err := s.rows(ctx, level, ids[start:min(start+s.concurrency, len(ids))], q, attrs, base, xml)
		if err != nil {
			return nil, err
		}
		for _, row := range batch {
			if row == nil {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			out = append(out, row)
			if q.Limit > 0 && len(out) == q.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// rows renders ids in parallel. Rows of resources without instances are
// nil.
func (s *Searcher) rows(ctx context.Context, level Level, ids []string, q *Query, attrs map[dictionary.Tag]bool, base string, xml bool) ([][]byte, error) {
	rows := make([][]byte, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			row, err := s.row(ctx, level, id, q, attrs, base, xml)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// row renders the resource id. It returns nil for resources without
// instances.
func (s *Searcher) row(ctx context.Context, level Level, id string, q *Query, attrs map[dictionary.Tag]bool, base string, xml bool) ([]byte, error) {
	instanceID := id
	if level != Instance {
		children, err := s.archive.ChildInstances(ctx, level.archiveLevel(), id)
		if apierr.Is(err, apierr.NotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if len(children) == 0 {
			return nil, nil
		}
		instanceID = children[0].ID
	}

	tags, err := s.archive.InstanceTags(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	summary := render.Summary{}
	for key, entry := range tags {
		tag, err := dictionary.ParseTag(key)
		if err != nil {
			continue
		}
		if q.IncludeAll || attrs[tag] {
			summary[key] = entry
		}
	}

	s.derive(ctx, level, id, instanceID, q, attrs, summary)

	study := tags.String(dictionary.StudyInstanceUID)
	var series, instance string
	if level != Study {
		series = tags.String(dictionary.SeriesInstanceUID)
	}
	if level == Instance {
		instance = tags.String(dictionary.SOPInstanceUID)
	}
	if url := render.RetrieveURL(base, study, series, instance); url != "" {
		summary.SetString(dictionary.RetrieveURL, url)
	}

	e := render.NewEmitter(xml)
	if err := render.WalkSummary(e, summary, ""); err != nil {
		return nil, err
	}
	return e.Bytes()
}

func wants(q *Query, attrs map[dictionary.Tag]bool, tag dictionary.Tag) bool {
	return q.IncludeAll || attrs[tag]
}

// derive computes the attributes the archive does not store. Failures
// yield zeros and empty strings.
func (s *Searcher) derive(ctx context.Context, level Level, id, instanceID string, q *Query, attrs map[dictionary.Tag]bool, summary render.Summary) {
	if wants(q, attrs, dictionary.ModalitiesInStudy) ||
		wants(q, attrs, dictionary.NumberOfStudyRelatedSeries) ||
		wants(q, attrs, dictionary.NumberOfStudyRelatedInstances) {

		studyID := id
		if level != Study {
			studyID = ""
			if study, err := s.archive.InstanceStudy(ctx, instanceID); err == nil {
				studyID = study.ID
			}
		}

		var modalities []string
		var seriesCount, instanceCount int
		if studyID != "" {
			series, err := s.archive.StudySeries(ctx, studyID)
			if err != nil {
				log.Debug().Err(err).Str("study", studyID).Msg("Cannot derive study attributes")
			}
			seen := map[string]bool{}
			for _, r := range series {
				seriesCount++
				instanceCount += len(r.Instances)
				if m := r.Tag("Modality"); m != "" && !seen[m] {
					seen[m] = true
					modalities = append(modalities, m)
				}
			}
		}

		if wants(q, attrs, dictionary.ModalitiesInStudy) {
			summary.SetString(dictionary.ModalitiesInStudy, strings.Join(modalities, "\\"))
		}
		if wants(q, attrs, dictionary.NumberOfStudyRelatedSeries) {
			summary.SetString(dictionary.NumberOfStudyRelatedSeries, strconv.Itoa(seriesCount))
		}
		if wants(q, attrs, dictionary.NumberOfStudyRelatedInstances) {
			summary.SetString(dictionary.NumberOfStudyRelatedInstances, strconv.Itoa(instanceCount))
		}
	}

	if level != Study && wants(q, attrs, dictionary.NumberOfSeriesRelatedInstances) {
		var count int
		var series *archive.Resource
		var err error
		if level == Series {
			series, err = s.archive.Resource(ctx, archive.LevelSeries, id)
		} else {
			series, err = s.archive.InstanceSeries(ctx, instanceID)
		}
		if err == nil {
			count = len(series.Instances)
		} else {
			log.Debug().Err(err).Str("id", id).Msg("Cannot derive series attributes")
		}
		summary.SetString(dictionary.NumberOfSeriesRelatedInstances, strconv.Itoa(count))
	}
}
