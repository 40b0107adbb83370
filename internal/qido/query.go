// Package qido implements QIDO-RS searches on top of the archive
package qido

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
)

// Level is the level of a search
type Level int

const (
	Study Level = iota
	Series
	Instance
)

func (l Level) String() string {
	switch l {
	case Study:
		return "study"
	case Series:
		return "series"
	default:
		return "instance"
	}
}

// archiveLevel maps the search level to the archive's naming
func (l Level) archiveLevel() archive.Level {
	switch l {
	case Study:
		return archive.LevelStudy
	case Series:
		return archive.LevelSeries
	default:
		return archive.LevelInstance
	}
}

// Query is a parsed QIDO-RS query string
type Query struct {
	Filters       map[dictionary.Tag]string
	IncludeFields []dictionary.Tag
	IncludeAll    bool
	Limit         int
	Offset        int
	Fuzzy         bool
}

const (
	paramLimit         = "limit"
	paramOffset        = "offset"
	paramFuzzyMatching = "fuzzymatching"
	paramIncludeField  = "includefield"
)

// ParseQuery interprets the query parameters of a search. Keys other than
// limit, offset, fuzzymatching and includefield are attribute filters.
func ParseQuery(values url.Values) (*Query, error) {
	q := &Query{Filters: map[dictionary.Tag]string{}}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, value := range values[key] {
			if err := q.set(key, value); err != nil {
				return nil, err
			}
		}
	}
	return q, nil
}

func (q *Query) set(key, value string) error {
	switch key {
	case paramLimit:
		n, err := parseCount(key, value)
		if err != nil {
			return err
		}
		q.Limit = n

	case paramOffset:
		n, err := parseCount(key, value)
		if err != nil {
			return err
		}
		q.Offset = n

	case paramFuzzyMatching:
		switch value {
		case "true":
			q.Fuzzy = true
		case "false":
			q.Fuzzy = false
		default:
			return apierr.Newf(apierr.BadRequest, "not a proper value for fuzzy matching (true or false): %s", value)
		}

	case paramIncludeField:
		for _, field := range strings.Split(value, ",") {
			field = strings.TrimSpace(field)
			switch field {
			case "":
				continue
			case "all":
				q.IncludeAll = true
				continue
			}
			tag, err := dictionary.ParseTag(field)
			if err != nil {
				return err
			}
			q.IncludeFields = append(q.IncludeFields, tag)
		}

	default:
		tag, err := dictionary.ParseTag(key)
		if err != nil {
			return err
		}
		q.Filters[tag] = value
	}
	return nil
}

func parseCount(key, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, apierr.Newf(apierr.BadRequest, "%s must be a non-negative integer: %s", key, value)
	}
	return n, nil
}

// AddFilter restricts the search on a tag, as done for UIDs in the URL
func (q *Query) AddFilter(tag dictionary.Tag, value string) {
	if q.Filters == nil {
		q.Filters = map[dictionary.Tag]string{}
	}
	q.Filters[tag] = value
}

func (q *Query) hasFilter(tag dictionary.Tag) bool {
	_, ok := q.Filters[tag]
	return ok
}

// find builds the archive query
func (q *Query) find(level Level) archive.FindQuery {
	query := make(map[string]string, len(q.Filters))
	for tag, value := range q.Filters {
		query[tag.Internal()] = value
	}
	return archive.FindQuery{
		Level:         level.archiveLevel(),
		Expand:        false,
		CaseSensitive: !q.Fuzzy,
		Query:         query,
	}
}

var (
	studyAttributes = []dictionary.Tag{
		dictionary.SpecificCharacterSet,
		dictionary.StudyDate,
		dictionary.StudyTime,
		dictionary.AccessionNumber,
		dictionary.InstanceAvailability,
		dictionary.ModalitiesInStudy,
		dictionary.ReferringPhysicianName,
		dictionary.TimezoneOffsetFromUTC,
		dictionary.PatientName,
		dictionary.PatientID,
		dictionary.PatientBirthDate,
		dictionary.PatientSex,
		dictionary.StudyInstanceUID,
		dictionary.StudyID,
		dictionary.NumberOfStudyRelatedSeries,
		dictionary.NumberOfStudyRelatedInstances,
	}

	seriesAttributes = []dictionary.Tag{
		dictionary.SpecificCharacterSet,
		dictionary.Modality,
		dictionary.TimezoneOffsetFromUTC,
		dictionary.SeriesDescription,
		dictionary.SeriesInstanceUID,
		dictionary.SeriesNumber,
		dictionary.NumberOfSeriesRelatedInstances,
		dictionary.PerformedProcedureStepStartDate,
		dictionary.PerformedProcedureStepStartTime,
		dictionary.RequestAttributesSequence,
	}

	instanceAttributes = []dictionary.Tag{
		dictionary.SpecificCharacterSet,
		dictionary.SOPClassUID,
		dictionary.SOPInstanceUID,
		dictionary.InstanceAvailability,
		dictionary.TimezoneOffsetFromUTC,
		dictionary.RetrieveURL,
		dictionary.InstanceNumber,
		dictionary.Rows,
		dictionary.Columns,
		dictionary.BitsAllocated,
		dictionary.NumberOfFrames,
	}
)

func levelAttributes(level Level) []dictionary.Tag {
	switch level {
	case Study:
		return studyAttributes
	case Series:
		return seriesAttributes
	default:
		return instanceAttributes
	}
}

// Attributes returns the tags returned for each row of a search at level.
// Searches below the study level also return the attributes of the upper
// levels whose UID is not constrained.
func (q *Query) Attributes(level Level) map[dictionary.Tag]bool {
	set := map[dictionary.Tag]bool{}
	add := func(tags []dictionary.Tag) {
		for _, t := range tags {
			set[t] = true
		}
	}

	add(levelAttributes(level))
	for tag := range q.Filters {
		set[tag] = true
	}
	add(q.IncludeFields)

	if (level == Series || level == Instance) && !q.hasFilter(dictionary.StudyInstanceUID) {
		add(studyAttributes)
	}
	if level == Instance && !q.hasFilter(dictionary.SeriesInstanceUID) {
		add(seriesAttributes)
	}
	return set
}
