package qido

import (
	"context"
	"encoding/xml"
	"net/url"
	"testing"

	"github.com/goccy/go-json"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/archive/archivetest"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom/dicomtest"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "http://gw/dicom-web/"

func addInstance(t *testing.T, srv *archivetest.Server, study, series, sop, modality string) {
	elems := dicomtest.Instance(study, series, sop)
	elems = append(elems,
		dicomtest.Str(dictionary.PatientID, "LO", "X"),
		dicomtest.Str(dictionary.PatientName, "PN", "DOE^JOHN"),
		dicomtest.Str(dictionary.Modality, "CS", modality),
		dicomtest.Str(dictionary.SeriesDescription, "LO", "Axial"),
		dicomtest.US(dictionary.Rows, 16),
	)
	srv.Add(t, dicomtest.File(dicom.ExplicitVRLittleEndian, elems...))
}

func decodeRows(t *testing.T, rows [][]byte) []map[string]map[string]interface{} {
	out := make([]map[string]map[string]interface{}, len(rows))
	for i, row := range rows {
		require.NoError(t, json.Unmarshal(row, &out[i]))
	}
	return out
}

func firstValue(row map[string]map[string]interface{}, tag string) interface{} {
	attr, ok := row[tag]
	if !ok {
		return nil
	}
	values, ok := attr["Value"].([]interface{})
	if !ok || len(values) == 0 {
		return nil
	}
	return values[0]
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery(url.Values{
		"PatientID":     {"X"},
		"00080060":      {"CT"},
		"limit":         {"2"},
		"offset":        {"1"},
		"fuzzymatching": {"true"},
		"includefield":  {"StudyDescription,00081030", "PatientAge"},
	})
	require.NoError(t, err)

	assert.Equal(t, "X", q.Filters[dictionary.PatientID])
	assert.Equal(t, "CT", q.Filters[dictionary.Modality])
	assert.Equal(t, 2, q.Limit)
	assert.Equal(t, 1, q.Offset)
	assert.True(t, q.Fuzzy)
	assert.Len(t, q.IncludeFields, 3)
	assert.False(t, q.IncludeAll)
}

func TestParseQueryErrors(t *testing.T) {
	cases := map[string]struct {
		values url.Values
		kind   apierr.Kind
	}{
		"negative limit":   {url.Values{"limit": {"-1"}}, apierr.BadRequest},
		"text offset":      {url.Values{"offset": {"abc"}}, apierr.BadRequest},
		"fuzzy":            {url.Values{"fuzzymatching": {"yes"}}, apierr.BadRequest},
		"unknown keyword":  {url.Values{"NotATag": {"1"}}, apierr.UnknownDicomTag},
		"sequence path":    {url.Values{"00400275.00080050": {"1"}}, apierr.NotImplemented},
		"unknown included": {url.Values{"includefield": {"Nope"}}, apierr.UnknownDicomTag},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseQuery(tc.values)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apierr.KindOf(err))
			assert.Equal(t, 400, apierr.Status(err))
		})
	}
}

func TestIncludeFieldAllUnions(t *testing.T) {
	q, err := ParseQuery(url.Values{"includefield": {"all", "StudyDescription"}})
	require.NoError(t, err)
	assert.True(t, q.IncludeAll)
	require.Len(t, q.IncludeFields, 1)

	attrs := q.Attributes(Study)
	assert.True(t, attrs[dictionary.PatientID])
	assert.True(t, attrs[dictionary.New(0x0008, 0x1030)])
}

func TestAttributesPerLevel(t *testing.T) {
	q := &Query{Filters: map[dictionary.Tag]string{}}
	attrs := q.Attributes(Instance)
	assert.True(t, attrs[dictionary.SOPInstanceUID])
	assert.True(t, attrs[dictionary.StudyInstanceUID])
	assert.True(t, attrs[dictionary.SeriesDescription])

	q.AddFilter(dictionary.StudyInstanceUID, "1.2")
	q.AddFilter(dictionary.SeriesInstanceUID, "1.2.3")
	attrs = q.Attributes(Instance)
	assert.True(t, attrs[dictionary.StudyInstanceUID])
	assert.False(t, attrs[dictionary.PatientName])
	assert.False(t, attrs[dictionary.SeriesDescription])
}

func TestSearchStudiesPaged(t *testing.T) {
	srv := archivetest.New(t)
	addInstance(t, srv, "1.1", "1.1.1", "1.1.1.1", "CT")
	addInstance(t, srv, "1.2", "1.2.1", "1.2.1.1", "CT")
	addInstance(t, srv, "1.2", "1.2.2", "1.2.2.1", "MR")
	addInstance(t, srv, "1.3", "1.3.1", "1.3.1.1", "US")

	q, err := ParseQuery(url.Values{"PatientID": {"X"}, "limit": {"2"}, "offset": {"1"}})
	require.NoError(t, err)

	rows, err := NewSearcher(srv.Client(), 2).Search(context.Background(), Study, q, base, false)
	require.NoError(t, err)

	require.Len(t, srv.FindRequests, 1)
	body, err := json.Marshal(srv.FindRequests[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"Level":"Study","Expand":false,"CaseSensitive":true,"Query":{"0010,0020":"X"}}`, string(body))

	out := decodeRows(t, rows)
	require.Len(t, out, 2)
	assert.Equal(t, "1.2", firstValue(out[0], "0020000D"))
	assert.Equal(t, "1.3", firstValue(out[1], "0020000D"))

	assert.Equal(t, "CT\\MR", firstValue(out[0], "00080061"))
	assert.Equal(t, "2", firstValue(out[0], "00201206"))
	assert.Equal(t, "2", firstValue(out[0], "00201208"))
	assert.Equal(t, "UR", out[0]["00081190"]["vr"])
	assert.Equal(t, base+"studies/1.2", firstValue(out[0], "00081190"))

	// series-level attributes are not part of a study row
	assert.NotContains(t, out[0], "0008103E")
}

func TestSearchPagesAfterDroppingEmptyResources(t *testing.T) {
	srv := archivetest.New(t)
	srv.Orphans = []string{"study-gone-1", "study-gone-2", "study-gone-3"}
	addInstance(t, srv, "1.1", "1.1.1", "1.1.1.1", "CT")
	addInstance(t, srv, "1.2", "1.2.1", "1.2.1.1", "CT")
	addInstance(t, srv, "1.3", "1.3.1", "1.3.1.1", "US")

	q, err := ParseQuery(url.Values{"limit": {"2"}, "offset": {"1"}})
	require.NoError(t, err)
	rows, err := NewSearcher(srv.Client(), 2).Search(context.Background(), Study, q, base, false)
	require.NoError(t, err)

	out := decodeRows(t, rows)
	require.Len(t, out, 2)
	assert.Equal(t, "1.2", firstValue(out[0], "0020000D"))
	assert.Equal(t, "1.3", firstValue(out[1], "0020000D"))

	q, err = ParseQuery(url.Values{"limit": {"5"}})
	require.NoError(t, err)
	rows, err = NewSearcher(srv.Client(), 2).Search(context.Background(), Study, q, base, false)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	q, err = ParseQuery(url.Values{"offset": {"3"}})
	require.NoError(t, err)
	rows, err = NewSearcher(srv.Client(), 2).Search(context.Background(), Study, q, base, false)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSearchInstancesIncludeStudyAttributes(t *testing.T) {
	srv := archivetest.New(t)
	addInstance(t, srv, "1.2", "1.2.1", "1.2.1.1", "CT")
	addInstance(t, srv, "1.2", "1.2.1", "1.2.1.2", "CT")

	q, err := ParseQuery(url.Values{"PatientID": {"X"}})
	require.NoError(t, err)

	rows, err := NewSearcher(srv.Client(), 0).Search(context.Background(), Instance, q, base, false)
	require.NoError(t, err)
	out := decodeRows(t, rows)
	require.Len(t, out, 2)

	for _, row := range out {
		assert.Equal(t, "DOE^JOHN", firstValue(row, "00100010"))
		assert.Equal(t, "1", firstValue(row, "00201206"))
		assert.Equal(t, "2", firstValue(row, "00201209"))
		assert.Equal(t, "16", firstValue(row, "00280010"))
	}
	assert.Equal(t, base+"studies/1.2/series/1.2.1/instances/1.2.1.2", firstValue(out[1], "00081190"))
}

func TestSearchSeriesInStudy(t *testing.T) {
	srv := archivetest.New(t)
	addInstance(t, srv, "1.2", "1.2.1", "1.2.1.1", "CT")
	addInstance(t, srv, "1.2", "1.2.2", "1.2.2.1", "MR")
	addInstance(t, srv, "1.3", "1.3.1", "1.3.1.1", "MR")

	q, err := ParseQuery(url.Values{"Modality": {"MR"}})
	require.NoError(t, err)
	q.AddFilter(dictionary.StudyInstanceUID, "1.2")

	rows, err := NewSearcher(srv.Client(), 0).Search(context.Background(), Series, q, base, false)
	require.NoError(t, err)
	out := decodeRows(t, rows)
	require.Len(t, out, 1)
	assert.Equal(t, "1.2.2", firstValue(out[0], "0020000E"))
	assert.Equal(t, "MR", firstValue(out[0], "00080060"))
	assert.Equal(t, base+"studies/1.2/series/1.2.2", firstValue(out[0], "00081190"))
	assert.NotContains(t, out[0], "00100010")

	assert.Equal(t, archive.LevelSeries, srv.FindRequests[0].Level)
	assert.Equal(t, "1.2", srv.FindRequests[0].Query["0020,000d"])
}

func TestSearchXML(t *testing.T) {
	srv := archivetest.New(t)
	addInstance(t, srv, "1.2", "1.2.1", "1.2.1.1", "CT")

	q, err := ParseQuery(url.Values{})
	require.NoError(t, err)
	rows, err := NewSearcher(srv.Client(), 0).Search(context.Background(), Study, q, base, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var doc struct {
		Attributes []struct {
			Tag     string `xml:"tag,attr"`
			Keyword string `xml:"keyword,attr"`
		} `xml:"DicomAttribute"`
	}
	require.NoError(t, xml.Unmarshal(rows[0], &doc))
	keywords := map[string]string{}
	for _, a := range doc.Attributes {
		keywords[a.Tag] = a.Keyword
	}
	assert.Equal(t, "PatientID", keywords["00100020"])
	assert.Equal(t, "RetrieveURL", keywords["00081190"])
}

func TestSearchIncludeAll(t *testing.T) {
	srv := archivetest.New(t)
	addInstance(t, srv, "1.2", "1.2.1", "1.2.1.1", "CT")

	q, err := ParseQuery(url.Values{"includefield": {"all"}})
	require.NoError(t, err)
	rows, err := NewSearcher(srv.Client(), 0).Search(context.Background(), Study, q, base, false)
	require.NoError(t, err)
	out := decodeRows(t, rows)
	require.Len(t, out, 1)
	assert.Equal(t, "Axial", firstValue(out[0], "0008103E"))
}
