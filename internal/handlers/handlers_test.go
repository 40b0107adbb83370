package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/otcheredev/dicomweb-gateway/internal/archive/archivetest"
	"github.com/otcheredev/dicomweb-gateway/internal/client"
	"github.com/otcheredev/dicomweb-gateway/internal/config"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom/dicomtest"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/otcheredev/dicomweb-gateway/internal/frames"
	"github.com/otcheredev/dicomweb-gateway/internal/models"
	"github.com/otcheredev/dicomweb-gateway/internal/multipart"
	"github.com/otcheredev/dicomweb-gateway/internal/negotiation"
	"github.com/otcheredev/dicomweb-gateway/internal/qido"
	"github.com/otcheredev/dicomweb-gateway/internal/services"
	"github.com/otcheredev/dicomweb-gateway/internal/stow"
	"github.com/otcheredev/dicomweb-gateway/internal/wado"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instance(study, series, sop string, extra ...*dicom.Element) []byte {
	elems := dicomtest.Instance(study, series, sop)
	elems = append(elems,
		dicomtest.Str(dictionary.PatientName, "PN", "DOE^JOHN"),
		dicomtest.Str(dictionary.PatientID, "LO", "X"),
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
		dicomtest.Str(dictionary.NumberOfFrames, "IS", "8"),
		dicomtest.Raw(dictionary.PixelData, "OB", pixels),
	}
}

type gateway struct {
	archive *archivetest.Server
	router  http.Handler
}

func newGateway(t *testing.T) *gateway {
	srv := archivetest.New(t)
	arc := srv.Client()

	cfg := config.DefaultDicomWeb()
	cfg.Host = "host"
	cfg.Ssl = true

	cl := client.New(client.NewRegistry(), arc, client.DefaultOptions())
	svc := services.NewGatewayService(stow.NewService(arc), cl, nil, nil)
	wadoService := wado.NewService(arc, nil, 2)

	dw := NewDICOMWebHandler(qido.NewSearcher(arc, 2), wadoService, svc, cfg)
	servers := NewServersHandler(svc)
	audit := NewAuditHandler(svc)
	health := NewHealthHandler(arc, false)

	r := chi.NewRouter()
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Get("/wado", NewWadoURIHandler(wadoService).Retrieve)
	r.Route("/dicom-web", func(r chi.Router) {
		dw.Routes(r)
		servers.Routes(r)
		audit.Routes(r)
	})

	return &gateway{archive: srv, router: r}
}

func (g *gateway) do(method, target, accept, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	g.router.ServeHTTP(rec, req)
	return rec
}

func parts(t *testing.T, rec *httptest.ResponseRecorder) (negotiation.ContentType, []multipart.Part) {
	t.Helper()
	ct := negotiation.ParseContentType(rec.Header().Get("Content-Type"))
	require.Equal(t, "multipart/related", ct.Application)
	boundary, ok := ct.Attribute("boundary")
	require.True(t, ok)
	return ct, multipart.Parse(rec.Body.Bytes(), boundary)
}

type attribute struct {
	VR    string            `json:"vr"`
	Value []json.RawMessage `json:"Value"`
}

func TestInstanceMetadataJSON(t *testing.T) {
	g := newGateway(t)
	g.archive.Add(t, instance("1.2.3", "1.2.3.4", "1.2.3.4.5"))

	rec := g.do(http.MethodGet, "/dicom-web/studies/1.2.3/series/1.2.3.4/instances/1.2.3.4.5/metadata", "application/json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var docs []map[string]attribute
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)

	assert.Equal(t, "PN", docs[0]["00100010"].VR)
	assert.JSONEq(t, `"DOE^JOHN"`, string(docs[0]["00100010"].Value[0]))
	assert.JSONEq(t, `"1.2.3.4.5"`, string(docs[0]["00080018"].Value[0]))
	assert.JSONEq(t, `"https://host/dicom-web/studies/1.2.3/series/1.2.3.4/instances/1.2.3.4.5"`,
		string(docs[0]["00081190"].Value[0]))
}

func TestMetadataXML(t *testing.T) {
	g := newGateway(t)
	g.archive.Add(t, instance("1.2", "1.2.1", "1.2.1.1"))
	g.archive.Add(t, instance("1.2", "1.2.1", "1.2.1.2"))

	rec := g.do(http.MethodGet, "/dicom-web/studies/1.2/metadata", "multipart/related; type=application/dicom+xml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ct, list := parts(t, rec)
	assert.Equal(t, "application/dicom+xml", ct.Type())
	require.Len(t, list, 2)
	assert.Equal(t, "application/dicom+xml", list[0].ContentType)
	assert.Contains(t, string(list[0].Data), "NativeDicomModel")
}

func TestMetadataErrors(t *testing.T) {
	g := newGateway(t)
	g.archive.Add(t, instance("1.2", "1.2.1", "1.2.1.1"))

	rec := g.do(http.MethodGet, "/dicom-web/studies/9.9/metadata", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = g.do(http.MethodGet, "/dicom-web/studies/9.9/series/1.2.1/metadata", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = g.do(http.MethodGet, "/dicom-web/studies/1.2/metadata", "image/png", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchStudies(t *testing.T) {
	g := newGateway(t)
	g.archive.Add(t, instance("1.1", "1.1.1", "1.1.1.1"))
	g.archive.Add(t, instance("1.2", "1.2.1", "1.2.1.1"))
	g.archive.Add(t, instance("1.3", "1.3.1", "1.3.1.1"))

	rec := g.do(http.MethodGet, "/dicom-web/studies?PatientID=X&limit=2&offset=1", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/dicom+json", rec.Header().Get("Content-Type"))

	require.Len(t, g.archive.FindRequests, 1)
	find := g.archive.FindRequests[0]
	assert.Equal(t, "Study", string(find.Level))
	assert.False(t, find.Expand)
	assert.True(t, find.CaseSensitive)
	assert.Equal(t, map[string]string{"0010,0020": "X"}, find.Query)

	var rows []map[string]attribute
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.JSONEq(t, `"1.2"`, string(rows[0]["0020000D"].Value[0]))
	assert.JSONEq(t, `"1.3"`, string(rows[1]["0020000D"].Value[0]))
}

func TestSearchWithinStudy(t *testing.T) {
	g := newGateway(t)
	g.archive.Add(t, instance("1.1", "1.1.1", "1.1.1.1"))
	g.archive.Add(t, instance("1.2", "1.2.1", "1.2.1.1"))

	rec := g.do(http.MethodGet, "/dicom-web/studies/1.2/series", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []map[string]attribute
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.JSONEq(t, `"1.2.1"`, string(rows[0]["0020000E"].Value[0]))

	rec = g.do(http.MethodGet, "/dicom-web/studies?limit=x", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieveStudy(t *testing.T) {
	g := newGateway(t)
	first := instance("1.2", "1.2.1", "1.2.1.1")
	second := instance("1.2", "1.2.2", "1.2.2.1")
	g.archive.Add(t, first)
	g.archive.Add(t, second)

	rec := g.do(http.MethodGet, "/dicom-web/studies/1.2", "multipart/related; type=application/dicom", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ct, list := parts(t, rec)
	assert.Equal(t, "application/dicom", ct.Type())
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].Data)
	assert.Equal(t, second, list[1].Data)

	rec = g.do(http.MethodGet, "/dicom-web/studies/1.2/series/1.2.2/instances/1.2.2.1", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, list = parts(t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, second, list[0].Data)

	rec = g.do(http.MethodGet, "/dicom-web/studies/1.2", "application/dicom+json", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(http.MethodGet, "/dicom-web/studies/1.2/series/1.2.2/instances/1.2.1.1", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetrieveFrames(t *testing.T) {
	g := newGateway(t)
	g.archive.Add(t, instance("1.2", "1.2.1", "1.2.1.1", pixelElements(8)...))
	url := "/dicom-web/studies/1.2/series/1.2.1/instances/1.2.1.1/frames/"

	rec := g.do(http.MethodGet, url+"1,3", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ct, list := parts(t, rec)
	assert.Equal(t, "application/octet-stream", ct.Type())
	require.Len(t, list, 2)
	assert.Equal(t, "application/octet-stream", list[0].ContentType)
	assert.Equal(t, []byte{0, 1, 2, 3}, list[0].Data)
	assert.Equal(t, []byte{8, 9, 10, 11}, list[1].Data)
	assert.Equal(t, "https://host/dicom-web/studies/1.2/series/1.2.1/instances/1.2.1.1/frames/3",
		list[1].Header.Get("Content-Location"))

	rec = g.do(http.MethodGet, url+"1", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, list = parts(t, rec)
	assert.Len(t, list, 1)

	rec = g.do(http.MethodGet, url+"9", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(http.MethodGet, url+"a", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(http.MethodGet, url+"1", "multipart/related; type=text/plain", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieveFramesTranscodedToJPEG(t *testing.T) {
	img := frames.Image{Rows: 8, Columns: 8, BitsAllocated: 8, BitsStored: 8, SamplesPerPixel: 1, NumberOfFrames: 1}
	pixels := make([]byte, img.FrameSize())
	for i := range pixels {
		pixels[i] = byte(i * 3)
	}
	codecs := frames.NewRegistry()
	j2k, err := codecs.Transcode([]frames.Frame{{Number: 1, Data: pixels}}, img,
		dicom.ExplicitVRLittleEndian, dicom.JPEG2000Lossless)
	require.NoError(t, err)
	fragment := j2k[0].Data
	if len(fragment)%2 == 1 {
		fragment = append(fragment, 0)
	}

	g := newGateway(t)
	elems := append(dicomtest.Instance("1.2", "1.2.1", "1.2.1.1"),
		dicomtest.US(dictionary.Rows, 8),
		dicomtest.US(dictionary.Columns, 8),
		dicomtest.US(dictionary.BitsAllocated, 8),
		dicomtest.US(dictionary.BitsStored, 8),
		dicomtest.US(dictionary.SamplesPerPixel, 1),
		dicomtest.Str(dictionary.PhotometricInterpretation, "CS", "MONOCHROME2"),
		dicomtest.Encapsulated(nil, fragment),
	)
	g.archive.Add(t, dicomtest.File(dicom.JPEG2000Lossless, elems...))

	rec := g.do(http.MethodGet, "/dicom-web/studies/1.2/series/1.2.1/instances/1.2.1.1/frames/1",
		"multipart/related; type=image/jpeg", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ct, list := parts(t, rec)
	assert.Equal(t, "image/jpeg", ct.Type())
	require.Len(t, list, 1)
	assert.Equal(t, "image/jpeg; transferSyntax=1.2.840.10008.1.2.4.70", list[0].ContentType)
	assert.Equal(t, []byte{0xFF, 0xD8}, list[0].Data[:2])

	back, err := codecs.Transcode([]frames.Frame{{Number: 1, Data: list[0].Data}}, img,
		dicom.JPEGLosslessSV1, dicom.ExplicitVRLittleEndian)
	require.NoError(t, err)
	assert.Equal(t, pixels, back[0].Data)
}

func TestRetrieveBulk(t *testing.T) {
	g := newGateway(t)
	g.archive.Add(t, instance("1.2", "1.2.1", "1.2.1.1",
		dicomtest.Raw(dictionary.New(0x0009, 0x1010), "OB", []byte{1, 2, 3, 4})))

	rec := g.do(http.MethodGet, "/dicom-web/studies/1.2/series/1.2.1/instances/1.2.1.1/bulk/00091010", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, list := parts(t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, list[0].Data)
}

func stowBody(t *testing.T, files ...[]byte) ([]byte, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf, "application/dicom")
	for _, f := range files {
		require.NoError(t, mw.WritePart("application/dicom", f, nil))
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.ContentType()
}

func TestStore(t *testing.T) {
	g := newGateway(t)
	body, ct := stowBody(t, instance("1.9", "1.9.1", "1.9.1.1"), instance("1.9", "1.9.1", "1.9.1.2"))

	rec := g.do(http.MethodPost, "/dicom-web/studies", "application/dicom+json", ct, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/dicom+json", rec.Header().Get("Content-Type"))

	var doc map[string]attribute
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.JSONEq(t, `"https://host/dicom-web/studies/1.9"`, string(doc["00081190"].Value[0]))
	assert.Len(t, doc["00081199"].Value, 2)
	assert.NotContains(t, doc, "00081198")
	assert.Len(t, g.archive.Instances(), 2)
}

func TestStoreOutsideStudy(t *testing.T) {
	g := newGateway(t)
	body, ct := stowBody(t, instance("2.0", "2.0.1", "2.0.1.1"))

	rec := g.do(http.MethodPost, "/dicom-web/studies/1.9", "application/dicom+json", ct, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]attribute
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc["00081199"].Value, 1)
	assert.Contains(t, string(doc["00081199"].Value[0]), `"B006"`)
	assert.Empty(t, g.archive.Instances())
}

func TestStoreErrors(t *testing.T) {
	g := newGateway(t)
	body, _ := stowBody(t, instance("1.9", "1.9.1", "1.9.1.1"))

	rec := g.do(http.MethodPost, "/dicom-web/studies", "", "application/dicom", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(http.MethodPost, "/dicom-web/studies", "", "multipart/related; type=application/json; boundary=x", body)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	g.archive.FailStore = true
	body, ct := stowBody(t, instance("1.9", "1.9.1", "1.9.1.1"))
	rec = g.do(http.MethodPost, "/dicom-web/studies", "", ct, body)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/dicom+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "0110")
}

func TestMethodNotAllowed(t *testing.T) {
	g := newGateway(t)
	rec := g.do(http.MethodDelete, "/dicom-web/studies", "", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWadoURI(t *testing.T) {
	g := newGateway(t)
	file := instance("1.2", "1.2.1", "1.2.1.1")
	g.archive.Add(t, file)

	rec := g.do(http.MethodGet, "/wado?requestType=WADO&studyUID=1.2&objectUID=1.2.1.1&contentType=application/dicom", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/dicom", rec.Header().Get("Content-Type"))
	assert.Equal(t, file, rec.Body.Bytes())

	rec = g.do(http.MethodGet, "/wado?requestType=WADO&objectUID=1.2.1.1&contentType=image/png", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = g.do(http.MethodGet, "/wado?requestType=WADO&studyUID=9.9&objectUID=1.2.1.1", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = g.do(http.MethodGet, "/wado?requestType=WADO&objectUID=1.2.1.1&contentType=text/html", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	g := newGateway(t)

	rec := g.do(http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"archive":"healthy"`)
	assert.NotContains(t, rec.Body.String(), "database")

	rec = g.do(http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	g.archive.Close()
	rec = g.do(http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// newPeer starts a remote DICOMweb server answering WADO-RS and GET
func newPeer(t *testing.T, files ...[]byte) *httptest.Server {
	r := chi.NewRouter()
	r.Get("/dicom-web/studies/{study}", func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w, "application/dicom")
		w.Header().Set("Content-Type", mw.ContentType())
		for _, f := range files {
			mw.WritePart("application/dicom", f, nil)
		}
		mw.Close()
	})
	r.Get("/dicom-web/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Peer", "yes")
		io.WriteString(w, r.URL.RawQuery)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestServers(t *testing.T) {
	g := newGateway(t)
	peer := newPeer(t)

	rec := g.do(http.MethodPut, "/dicom-web/servers/peer", "", "application/json",
		[]byte(`{"Url": "`+peer.URL+`/dicom-web"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = g.do(http.MethodGet, "/dicom-web/servers", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["peer"]`, rec.Body.String())

	rec = g.do(http.MethodGet, "/dicom-web/servers/peer", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["get","retrieve","stow"]`, rec.Body.String())

	rec = g.do(http.MethodPut, "/dicom-web/servers/broken", "", "application/json", []byte(`{"Url": "nope"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(http.MethodPut, "/dicom-web/servers/broken", "", "application/json", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(http.MethodDelete, "/dicom-web/servers/peer", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = g.do(http.MethodGet, "/dicom-web/servers/peer", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerGet(t *testing.T) {
	g := newGateway(t)
	peer := newPeer(t)
	g.do(http.MethodPut, "/dicom-web/servers/peer", "", "application/json", []byte(`{"Url": "`+peer.URL+`/dicom-web"}`))

	rec := g.do(http.MethodPost, "/dicom-web/servers/peer/get", "", "application/json",
		[]byte(`{"Uri": "echo", "Arguments": {"PatientID": "X"}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "yes", rec.Header().Get("X-Peer"))
	assert.Empty(t, rec.Header().Get("Transfer-Encoding"))
	assert.Equal(t, "PatientID=X", rec.Body.String())

	rec = g.do(http.MethodPost, "/dicom-web/servers/peer/get", "", "application/json", []byte(`{"Uri": "echo?a=b"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(http.MethodPost, "/dicom-web/servers/unknown/get", "", "application/json", []byte(`{"Uri": "echo"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerRetrieve(t *testing.T) {
	g := newGateway(t)
	peer := newPeer(t, instance("3.1", "3.1.1", "3.1.1.1"), instance("3.1", "3.1.1", "3.1.1.2"))
	g.do(http.MethodPut, "/dicom-web/servers/peer", "", "application/json", []byte(`{"Url": "`+peer.URL+`/dicom-web"}`))

	rec := g.do(http.MethodPost, "/dicom-web/servers/peer/retrieve", "", "application/json",
		[]byte(`{"Resources": [{"Study": "3.1"}]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"Instances": ["instance-3.1.1.1", "instance-3.1.1.2"]}`, rec.Body.String())
	assert.Len(t, g.archive.Instances(), 2)

	rec = g.do(http.MethodPost, "/dicom-web/servers/peer/retrieve", "", "application/json",
		[]byte(`{"Resources": []}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerStowUnknownResource(t *testing.T) {
	g := newGateway(t)
	peer := newPeer(t)
	g.do(http.MethodPut, "/dicom-web/servers/peer", "", "application/json", []byte(`{"Url": "`+peer.URL+`/dicom-web"}`))

	rec := g.do(http.MethodPost, "/dicom-web/servers/peer/stow", "", "application/json",
		[]byte(`{"Resources": ["missing"]}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "missing"))
}

type auditLogs []models.AuditLog

func (a auditLogs) Create(context.Context, *models.AuditLog) error { return nil }

func (a auditLogs) List(_ context.Context, action string, limit, offset int) ([]models.AuditLog, error) {
	out := []models.AuditLog{}
	for _, l := range a {
		if action == "" || l.Action == action {
			out = append(out, l)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (a auditLogs) GetByResourceUID(_ context.Context, uid string) ([]models.AuditLog, error) {
	out := []models.AuditLog{}
	for _, l := range a {
		if l.ResourceUID == uid {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestAuditLogs(t *testing.T) {
	srv := archivetest.New(t)
	cl := client.New(client.NewRegistry(), srv.Client(), client.DefaultOptions())
	store := auditLogs{
		{Action: models.ActionStowIngest, ResourceUID: "1.2", Status: models.AuditSuccess},
		{Action: models.ActionRetrieve, ResourceUID: "1.3", Server: "peer", Status: models.AuditFailure},
	}
	svc := services.NewGatewayService(stow.NewService(srv.Client()), cl, nil, store)

	r := chi.NewRouter()
	NewAuditHandler(svc).Routes(r)
	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := get("/audit")
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []models.AuditLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	assert.Len(t, logs, 2)

	rec = get("/audit?action=client.retrieve&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "peer", logs[0].Server)

	rec = get("/audit?resource=1.2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActionStowIngest, logs[0].Action)

	assert.Equal(t, http.StatusBadRequest, get("/audit?limit=ten").Code)
	assert.Equal(t, http.StatusBadRequest, get("/audit?action=purge").Code)
}

func TestAuditLogsDisabled(t *testing.T) {
	g := newGateway(t)
	rec := g.do(http.MethodGet, "/dicom-web/audit", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
