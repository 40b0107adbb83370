package wado_test

import (
	"bytes"
	"context"
	"image/jpeg"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/archive/archivetest"
	"github.com/otcheredev/dicomweb-gateway/internal/cache"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom/dicomtest"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/otcheredev/dicomweb-gateway/internal/multipart"
	"github.com/otcheredev/dicomweb-gateway/internal/render"
	"github.com/otcheredev/dicomweb-gateway/internal/wado"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://host/dicom-web/"

var ctx = context.Background()

func instance(study, series, sop string, extra ...*dicom.Element) []byte {
	elems := dicomtest.Instance(study, series, sop)
	elems = append(elems,
		dicomtest.Str(dictionary.PatientName, "PN", "DOE^JOHN"),
		dicomtest.Str(dictionary.PatientID, "LO", "P1"),
	)
	elems = append(elems, extra...)
	return dicomtest.File(dicom.ExplicitVRLittleEndian, elems...)
}

func pixelElements(frames int) []*dicom.Element {
	pixels := make([]byte, 4*frames)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	return []*dicom.Element{
		dicomtest.US(dictionary.Rows, 2),
		dicomtest.US(dictionary.Columns, 2),
		dicomtest.US(dictionary.BitsAllocated, 8),
		dicomtest.US(dictionary.SamplesPerPixel, 1),
		dicomtest.Str(dictionary.NumberOfFrames, "IS", "3"),
		dicomtest.Raw(dictionary.PixelData, "OB", pixels),
	}
}

func setup(t *testing.T) (*archivetest.Server, *wado.Service) {
	srv := archivetest.New(t)
	return srv, wado.NewService(srv.Client(), nil, 2)
}

func TestLocate(t *testing.T) {
	srv, svc := setup(t)
	id := srv.Add(t, instance("1.2.3", "1.2.3.4", "1.2.3.4.5"))
	srv.Add(t, instance("9.9", "9.9.1", "9.9.1.1"))

	studyID, err := svc.LocateStudy(ctx, "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "study-1.2.3", studyID)

	seriesID, err := svc.LocateSeries(ctx, "1.2.3", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "series-1.2.3.4", seriesID)

	got, err := svc.LocateInstance(ctx, "1.2.3", "1.2.3.4", "1.2.3.4.5")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = svc.LocateSeries(ctx, "9.9", "1.2.3.4")
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))

	_, err = svc.LocateInstance(ctx, "1.2.3", "9.9.1", "1.2.3.4.5")
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))

	_, err = svc.LocateInstance(ctx, "9.9", "1.2.3.4", "1.2.3.4.5")
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))

	_, err = svc.LocateStudy(ctx, "4.5.6")
	assert.Equal(t, 404, apierr.Status(err))
}

func TestLocateDropsStaleLookups(t *testing.T) {
	srv := archivetest.New(t)
	uids := cache.NewMemoryCache(1)
	svc := wado.NewService(archive.New(archive.Config{URL: srv.URL}, uids, time.Minute), nil, 2)
	id := srv.Add(t, instance("1.2.3", "1.2.3.4", "1.2.3.4.5"))

	got, err := svc.LocateInstance(ctx, "1.2.3", "1.2.3.4", "1.2.3.4.5")
	require.NoError(t, err)
	assert.Equal(t, id, got)
	_, err = svc.LocateSeries(ctx, "1.2.3", "1.2.3.4")
	require.NoError(t, err)

	cached, err := uids.Get(ctx, cache.UIDKey("instance", "1.2.3.4.5"))
	require.NoError(t, err)
	assert.Equal(t, id, string(cached))

	srv.Remove(id)

	_, err = svc.LocateInstance(ctx, "1.2.3", "1.2.3.4", "1.2.3.4.5")
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
	_, err = uids.Get(ctx, cache.UIDKey("instance", "1.2.3.4.5"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	_, err = svc.LocateSeries(ctx, "1.2.3", "1.2.3.4")
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
	_, err = uids.Get(ctx, cache.UIDKey("series", "1.2.3.4"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	// a re-upload is found again
	srv.Add(t, instance("1.2.3", "1.2.3.4", "1.2.3.4.5"))
	_, err = svc.LocateInstance(ctx, "1.2.3", "1.2.3.4", "1.2.3.4.5")
	assert.NoError(t, err)
}

func TestNegotiateDICOM(t *testing.T) {
	for _, accept := range []string{"", "*/*", "multipart/related", `multipart/related; type="application/dicom"`} {
		assert.NoError(t, wado.NegotiateDICOM(accept), accept)
	}
	for _, accept := range []string{
		"application/dicom",
		"multipart/related; type=application/dicom+xml",
		"multipart/related; type=application/dicom; transfer-syntax=1.2.840.10008.1.2.1",
	} {
		assert.Equal(t, apierr.BadRequest, apierr.KindOf(wado.NegotiateDICOM(accept)), accept)
	}
}

func TestWriteInstances(t *testing.T) {
	srv, svc := setup(t)
	first := instance("1.2", "1.2.1", "1.2.1.1")
	second := instance("1.2", "1.2.2", "1.2.2.1")
	srv.Add(t, first)
	srv.Add(t, second)

	studyID, err := svc.LocateStudy(ctx, "1.2")
	require.NoError(t, err)
	ids, err := svc.Instances(ctx, archive.LevelStudy, studyID)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf, wado.DICOMContentType)
	require.NoError(t, svc.WriteInstances(ctx, mw, ids))
	require.NoError(t, mw.Close())

	parts := multipart.Parse(buf.Bytes(), mw.Boundary())
	require.Len(t, parts, 2)
	assert.Equal(t, "application/dicom", parts[0].ContentType)
	assert.Equal(t, first, parts[0].Data)
	assert.Equal(t, second, parts[1].Data)

	ids, err = svc.Instances(ctx, archive.LevelInstance, "instance-1.2.1.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"instance-1.2.1.1"}, ids)
}

func TestInstanceMetadataJSON(t *testing.T) {
	srv, svc := setup(t)
	id := srv.Add(t, instance("1.2.3", "1.2.3.4", "1.2.3.4.5",
		dicomtest.Raw(dictionary.New(0x0009, 0x1010), "OB", []byte{1, 2})))

	docs, err := svc.Metadata(ctx, []string{id}, wado.MetadataFull, base, false)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	var doc map[string]struct {
		VR          string   `json:"vr"`
		Value       []string `json:"Value"`
		BulkDataURI string   `json:"BulkDataURI"`
	}
	require.NoError(t, json.Unmarshal(docs[0], &doc))

	assert.Equal(t, "PN", doc["00100010"].VR)
	assert.Equal(t, []string{"DOE^JOHN"}, doc["00100010"].Value)
	assert.Equal(t, "UI", doc["00080018"].VR)
	assert.Equal(t, []string{"1.2.3.4.5"}, doc["00080018"].Value)
	assert.Equal(t, "UR", doc["00081190"].VR)
	assert.Equal(t, []string{"https://host/dicom-web/studies/1.2.3/series/1.2.3.4/instances/1.2.3.4.5"}, doc["00081190"].Value)
	assert.Equal(t, "https://host/dicom-web/studies/1.2.3/series/1.2.3.4/instances/1.2.3.4.5/bulk/00091010",
		doc["00091010"].BulkDataURI)
}

func TestSeriesMetadataModes(t *testing.T) {
	srv, svc := setup(t)
	srv.Add(t, instance("1.2", "1.2.1", "1.2.1.1", dicomtest.Raw(dictionary.New(0x0009, 0x1010), "OB", []byte{1, 2})))
	srv.Add(t, instance("1.2", "1.2.1", "1.2.1.2"))
	srv.Add(t, instance("1.2", "1.2.1", "1.2.1.3"))

	ids, err := svc.Instances(ctx, archive.LevelSeries, "series-1.2.1")
	require.NoError(t, err)

	for _, mode := range []wado.MetadataMode{wado.MetadataFull, wado.MetadataMainDicomTags} {
		docs, err := svc.Metadata(ctx, ids, mode, base, false)
		require.NoError(t, err)

		var rows []map[string]map[string]interface{}
		require.NoError(t, json.Unmarshal(render.JSONArray(docs), &rows))
		require.Len(t, rows, 3, mode)
		for i, row := range rows {
			sop := []string{"1.2.1.1", "1.2.1.2", "1.2.1.3"}[i]
			assert.Equal(t, []interface{}{sop}, row["00080018"]["Value"], mode)
			assert.Equal(t, []interface{}{base + "studies/1.2/series/1.2.1/instances/" + sop}, row["00081190"]["Value"])
		}

		// the archive summary has no bulk data URIs, the attribute stays
		require.Contains(t, rows[0], "00091010", mode)
		_, hasURI := rows[0]["00091010"]["BulkDataURI"]
		assert.Equal(t, mode == wado.MetadataFull, hasURI, mode)
		assert.NotContains(t, rows[0]["00091010"], "Value", mode)
	}
}

func TestMetadataXML(t *testing.T) {
	srv, svc := setup(t)
	id := srv.Add(t, instance("1.2", "1.2.1", "1.2.1.1"))

	docs, err := svc.Metadata(ctx, []string{id}, wado.MetadataFull, base, true)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, string(docs[0]), `<NativeDicomModel`)
	assert.Contains(t, string(docs[0]), `keyword="PatientName"`)
}

func TestMetadataMissingInstance(t *testing.T) {
	_, svc := setup(t)
	_, err := svc.Metadata(ctx, []string{"instance-missing"}, wado.MetadataFull, base, false)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestNegotiateBulk(t *testing.T) {
	for _, accept := range []string{"", "*/*", "multipart/related; type=application/octet-stream"} {
		assert.NoError(t, wado.NegotiateBulk(accept), accept)
	}
	for _, accept := range []string{
		"application/octet-stream",
		"multipart/related; type=application/dicom",
		"multipart/related; type=application/octet-stream; range=0-10",
	} {
		assert.Equal(t, apierr.BadRequest, apierr.KindOf(wado.NegotiateBulk(accept)), accept)
	}
}

func TestBulk(t *testing.T) {
	srv, svc := setup(t)
	id := srv.Add(t, instance("1.2", "1.2.1", "1.2.1.1",
		dicomtest.Raw(dictionary.New(0x0009, 0x1010), "OB", []byte{1, 2, 3, 4}),
		dicomtest.Seq(dictionary.RequestAttributesSequence,
			[]*dicom.Element{dicomtest.Str(dictionary.AccessionNumber, "SH", "A1")},
			[]*dicom.Element{dicomtest.Raw(dictionary.New(0x0029, 0x1010), "OB", []byte("nested"))},
		),
	))

	data, err := svc.Bulk(ctx, id, "00091010")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)

	data, err = svc.Bulk(ctx, id, "00400275/2/00291010")
	require.NoError(t, err)
	assert.Equal(t, []byte("nested"), data)

	_, err = svc.Bulk(ctx, id, "00400275/3/00291010")
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))

	_, err = svc.Bulk(ctx, id, "00400275/1")
	assert.Equal(t, apierr.BadRequest, apierr.KindOf(err))

	_, err = svc.Bulk(ctx, id, "00400275")
	assert.Equal(t, apierr.BadRequest, apierr.KindOf(err))

	_, err = svc.Bulk(ctx, id, "00700001")
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestFramesDefaultSyntax(t *testing.T) {
	srv, svc := setup(t)
	id := srv.Add(t, instance("1.2", "1.2.1", "1.2.1.1", pixelElements(3)...))

	list, err := svc.Frames(ctx, id, []int{1, 3}, dicom.ImplicitVRLittleEndian)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []byte{0, 1, 2, 3}, list[0].Data)
	assert.Equal(t, []byte{8, 9, 10, 11}, list[1].Data)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf, "application/octet-stream")
	location := render.RetrieveURL(base, "1.2", "1.2.1", "1.2.1.1")
	require.NoError(t, wado.WriteFrames(mw, "application/octet-stream", location, list))
	require.NoError(t, mw.Close())

	parts := multipart.Parse(buf.Bytes(), mw.Boundary())
	require.Len(t, parts, 2)
	assert.Equal(t, "application/octet-stream", parts[0].ContentType)
	assert.Equal(t, location+"/frames/3", parts[1].Header.Get("Content-Location"))
}

func TestFramesWithoutArchiveHeader(t *testing.T) {
	srv, svc := setup(t)
	srv.OmitHeader = true
	id := srv.Add(t, instance("1.2", "1.2.1", "1.2.1.1", pixelElements(3)...))

	list, err := svc.Frames(ctx, id, nil, dicom.ImplicitVRLittleEndian)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = svc.Frames(ctx, id, []int{4}, dicom.ImplicitVRLittleEndian)
	assert.Equal(t, apierr.ParameterOutOfRange, apierr.KindOf(err))
}

func TestWadoURI(t *testing.T) {
	srv, svc := setup(t)
	file := instance("1.2", "1.2.1", "1.2.1.1")
	srv.Add(t, file)

	req := wado.ParseURIRequest(url.Values{
		"requestType": {"WADO"},
		"studyUID":    {"1.2"},
		"seriesUID":   {"1.2.1"},
		"objectUID":   {"1.2.1.1"},
		"contentType": {"application/dicom"},
	})
	data, ct, err := svc.RetrieveURI(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "application/dicom", ct)
	assert.Equal(t, file, data)

	req.ContentType = "image/png"
	data, ct, err = svc.RetrieveURI(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, archivetest.PNG(), data)

	req = wado.ParseURIRequest(url.Values{"requestType": {"WADO"}, "objectUID": {"1.2.1.1"}})
	assert.Equal(t, "image/jpg", req.ContentType)
	data, ct, err = svc.RetrieveURI(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestWadoURIErrors(t *testing.T) {
	srv, svc := setup(t)
	srv.Add(t, instance("1.2", "1.2.1", "1.2.1.1"))

	cases := map[string]struct {
		values url.Values
		kind   apierr.Kind
	}{
		"request type": {url.Values{"requestType": {"WADOX"}, "objectUID": {"1.2.1.1"}}, apierr.NotFound},
		"no object":    {url.Values{"requestType": {"WADO"}}, apierr.NotFound},
		"unknown":      {url.Values{"requestType": {"WADO"}, "objectUID": {"7.7"}}, apierr.NotFound},
		"wrong study":  {url.Values{"requestType": {"WADO"}, "objectUID": {"1.2.1.1"}, "studyUID": {"3.3"}}, apierr.NotFound},
		"wrong series": {url.Values{"requestType": {"WADO"}, "objectUID": {"1.2.1.1"}, "seriesUID": {"3.3"}}, apierr.NotFound},
		"content type": {url.Values{"requestType": {"WADO"}, "objectUID": {"1.2.1.1"}, "contentType": {"text/html"}}, apierr.BadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.RetrieveURI(ctx, wado.ParseURIRequest(tc.values))
			assert.Equal(t, tc.kind, apierr.KindOf(err))
		})
	}
}
