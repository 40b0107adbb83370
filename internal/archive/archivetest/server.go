// Package archivetest runs an in-memory archive REST API for tests
package archivetest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/otcheredev/dicomweb-gateway/internal/render"
)

// Instance is a stored instance
type Instance struct {
	ID       string
	SeriesID string
	StudyID  string
	Patient  string
	File     []byte
	Dataset  *dicom.Dataset
	Syntax   string
}

// Server is a fake archive
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	instances []*Instance

	// FindRequests records the bodies of /tools/find
	FindRequests []archive.FindQuery

	// FailStore makes uploads fail with 500
	FailStore bool

	// OmitHeader makes /header answer without a transfer syntax
	OmitHeader bool

	// Orphans are IDs answered first by every /tools/find, for resources
	// that no longer hold instances
	Orphans []string
}

// New starts a fake archive, closed with the test
func New(t *testing.T) *Server {
	s := &Server{}

	r := chi.NewRouter()
	r.Get("/system", s.system)
	r.Post("/tools/lookup", s.lookup)
	r.Post("/tools/find", s.find)
	r.Post("/instances", s.store)
	r.Get("/instances/{id}", s.instance)
	r.Get("/instances/{id}/file", s.file)
	r.Get("/instances/{id}/tags", s.tags)
	r.Get("/instances/{id}/header", s.header)
	r.Get("/instances/{id}/preview", s.preview)
	r.Get("/instances/{id}/series", s.instanceSeries)
	r.Get("/instances/{id}/study", s.instanceStudy)
	r.Get("/series/{id}", s.series)
	r.Get("/series/{id}/study", s.seriesStudy)
	r.Get("/studies/{id}", s.study)
	r.Get("/studies/{id}/series", s.studySeries)
	r.Get("/patients/{id}/instances", s.children("patients"))
	r.Get("/studies/{id}/instances", s.children("studies"))
	r.Get("/series/{id}/instances", s.children("series"))

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Client returns an archive client bound to the fake
func (s *Server) Client() *archive.Client {
	return archive.New(archive.Config{URL: s.URL, Timeout: 5 * time.Second}, nil, 0)
}

// Add stores a DICOM file and returns its instance ID
func (s *Server) Add(t *testing.T, file []byte) string {
	t.Helper()
	inst, err := s.add(file)
	if err != nil {
		t.Fatalf("archivetest: %v", err)
	}
	return inst.ID
}

// Instances returns the stored instances in upload order
func (s *Server) Instances() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Instance(nil), s.instances...)
}

// Remove deletes an instance, as if it had been deleted from the archive
func (s *Server) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, inst := range s.instances {
		if inst.ID == id {
			s.instances = append(s.instances[:i], s.instances[i+1:]...)
			return
		}
	}
}

func (s *Server) add(file []byte) (*Instance, error) {
	f, err := dicom.Parse(file)
	if err != nil {
		return nil, err
	}
	ds := f.Dataset
	inst := &Instance{
		ID:       "instance-" + ds.String(dictionary.SOPInstanceUID),
		SeriesID: "series-" + ds.String(dictionary.SeriesInstanceUID),
		StudyID:  "study-" + ds.String(dictionary.StudyInstanceUID),
		Patient:  "patient-" + ds.String(dictionary.PatientID),
		File:     file,
		Dataset:  ds,
		Syntax:   f.TransferSyntax,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.instances {
		if existing.ID == inst.ID {
			s.instances[i] = inst
			return inst, nil
		}
	}
	s.instances = append(s.instances, inst)
	return inst, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) byID(id string) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.ID == id {
			return inst
		}
	}
	return nil
}

func (s *Server) matching(fn func(*Instance) bool) []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Instance
	for _, inst := range s.instances {
		if fn(inst) {
			out = append(out, inst)
		}
	}
	return out
}

func (s *Server) system(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, archive.SystemInfo{Name: "archivetest", Version: "1.0", ApiVersion: 1})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	uid := strings.TrimSpace(string(body))

	type match struct{ ID, Path, Type string }
	matches := []match{}
	seen := map[string]bool{}
	for _, inst := range s.Instances() {
		candidates := []match{
			{inst.StudyID, "/studies/" + inst.StudyID, "Study"},
			{inst.SeriesID, "/series/" + inst.SeriesID, "Series"},
			{inst.ID, "/instances/" + inst.ID, "Instance"},
		}
		uids := []string{
			inst.Dataset.String(dictionary.StudyInstanceUID),
			inst.Dataset.String(dictionary.SeriesInstanceUID),
			inst.Dataset.String(dictionary.SOPInstanceUID),
		}
		for i, m := range candidates {
			if uids[i] == uid && !seen[m.ID] {
				seen[m.ID] = true
				matches = append(matches, m)
			}
		}
	}
	writeJSON(w, matches)
}

func matchValue(value, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return value == pattern
}

func (s *Server) find(w http.ResponseWriter, r *http.Request) {
	var q archive.FindQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.FindRequests = append(s.FindRequests, q)
	s.mu.Unlock()

	ids := append([]string{}, s.Orphans...)
	seen := map[string]bool{}
	for _, inst := range s.Instances() {
		ok := true
		for key, pattern := range q.Query {
			tag, err := dictionary.ParseTag(key)
			if err != nil || !matchValue(inst.Dataset.String(tag), pattern) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		var id string
		switch q.Level {
		case archive.LevelStudy:
			id = inst.StudyID
		case archive.LevelSeries:
			id = inst.SeriesID
		case archive.LevelPatient:
			id = inst.Patient
		default:
			id = inst.ID
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	writeJSON(w, ids)
}

func (s *Server) store(w http.ResponseWriter, r *http.Request) {
	if s.FailStore {
		http.Error(w, "storage full", http.StatusInternalServerError)
		return
	}
	body, _ := io.ReadAll(r.Body)
	inst, err := s.add(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, archive.StoreResult{
		ID:           inst.ID,
		Path:         "/instances/" + inst.ID,
		Status:       "Success",
		ParentStudy:  inst.StudyID,
		ParentSeries: inst.SeriesID,
	})
}

func (s *Server) withInstance(w http.ResponseWriter, r *http.Request, fn func(*Instance)) {
	inst := s.byID(chi.URLParam(r, "id"))
	if inst == nil {
		http.NotFound(w, r)
		return
	}
	fn(inst)
}

func instanceResource(inst *Instance) archive.Resource {
	return archive.Resource{
		ID:           inst.ID,
		Type:         "Instance",
		ParentSeries: inst.SeriesID,
		MainDicomTags: map[string]string{
			"SOPInstanceUID": inst.Dataset.String(dictionary.SOPInstanceUID),
			"InstanceNumber": inst.Dataset.String(dictionary.InstanceNumber),
		},
	}
}

func (s *Server) seriesResource(id string) *archive.Resource {
	members := s.matching(func(i *Instance) bool { return i.SeriesID == id })
	if len(members) == 0 {
		return nil
	}
	res := &archive.Resource{
		ID:          id,
		Type:        "Series",
		ParentStudy: members[0].StudyID,
		MainDicomTags: map[string]string{
			"SeriesInstanceUID": members[0].Dataset.String(dictionary.SeriesInstanceUID),
			"Modality":          members[0].Dataset.String(dictionary.Modality),
		},
	}
	for _, m := range members {
		res.Instances = append(res.Instances, m.ID)
	}
	return res
}

func (s *Server) studyResource(id string) *archive.Resource {
	members := s.matching(func(i *Instance) bool { return i.StudyID == id })
	if len(members) == 0 {
		return nil
	}
	res := &archive.Resource{
		ID:            id,
		Type:          "Study",
		ParentPatient: members[0].Patient,
		MainDicomTags: map[string]string{
			"StudyInstanceUID": members[0].Dataset.String(dictionary.StudyInstanceUID),
		},
	}
	seen := map[string]bool{}
	for _, m := range members {
		if !seen[m.SeriesID] {
			seen[m.SeriesID] = true
			res.Series = append(res.Series, m.SeriesID)
		}
	}
	return res
}

func (s *Server) instance(w http.ResponseWriter, r *http.Request) {
	s.withInstance(w, r, func(inst *Instance) { writeJSON(w, instanceResource(inst)) })
}

func (s *Server) file(w http.ResponseWriter, r *http.Request) {
	s.withInstance(w, r, func(inst *Instance) {
		w.Header().Set("Content-Type", "application/dicom")
		w.Write(inst.File)
	})
}

func (s *Server) tags(w http.ResponseWriter, r *http.Request) {
	s.withInstance(w, r, func(inst *Instance) { writeJSON(w, Summarize(inst.Dataset)) })
}

func (s *Server) header(w http.ResponseWriter, r *http.Request) {
	s.withInstance(w, r, func(inst *Instance) {
		header := map[string]string{
			"MediaStorageSOPInstanceUID": inst.Dataset.String(dictionary.SOPInstanceUID),
		}
		if !s.OmitHeader {
			header["TransferSyntaxUID"] = inst.Syntax
		}
		writeJSON(w, header)
	})
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	s.withInstance(w, r, func(inst *Instance) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(PNG())
	})
}

func (s *Server) instanceSeries(w http.ResponseWriter, r *http.Request) {
	s.withInstance(w, r, func(inst *Instance) { writeJSON(w, s.seriesResource(inst.SeriesID)) })
}

func (s *Server) instanceStudy(w http.ResponseWriter, r *http.Request) {
	s.withInstance(w, r, func(inst *Instance) { writeJSON(w, s.studyResource(inst.StudyID)) })
}

func (s *Server) series(w http.ResponseWriter, r *http.Request) {
	res := s.seriesResource(chi.URLParam(r, "id"))
	if res == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, res)
}

func (s *Server) seriesStudy(w http.ResponseWriter, r *http.Request) {
	res := s.seriesResource(chi.URLParam(r, "id"))
	if res == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.studyResource(res.ParentStudy))
}

func (s *Server) study(w http.ResponseWriter, r *http.Request) {
	res := s.studyResource(chi.URLParam(r, "id"))
	if res == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, res)
}

func (s *Server) studySeries(w http.ResponseWriter, r *http.Request) {
	study := s.studyResource(chi.URLParam(r, "id"))
	if study == nil {
		http.NotFound(w, r)
		return
	}
	out := []*archive.Resource{}
	for _, id := range study.Series {
		out = append(out, s.seriesResource(id))
	}
	writeJSON(w, out)
}

func (s *Server) children(level string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		members := s.matching(func(i *Instance) bool {
			switch level {
			case "patients":
				return i.Patient == id
			case "studies":
				return i.StudyID == id
			default:
				return i.SeriesID == id
			}
		})
		if len(members) == 0 {
			http.NotFound(w, r)
			return
		}
		out := []archive.Resource{}
		for _, m := range members {
			out = append(out, instanceResource(m))
		}
		writeJSON(w, out)
	}
}

// Summarize builds the archive tag summary of a dataset
func Summarize(ds *dicom.Dataset) render.Summary {
	cs := ds.DetectCharset(dicom.DefaultCharset)
	out := render.Summary{}
	for _, e := range ds.Elements {
		name, _ := dictionary.Keyword(e.Tag)
		entry := render.SummaryEntry{Name: name}
		vr, _ := dictionary.ResolveVR(e.Tag, e.VR)

		switch {
		case e.Items != nil && !e.Encapsulated:
			items := make([]render.Summary, 0, len(e.Items))
			for _, item := range e.Items {
				items = append(items, Summarize(item))
			}
			entry.Type = "Sequence"
			entry.Value, _ = json.Marshal(items)
		case e.Encapsulated || dictionary.IsBulk(vr):
			entry.Type = "Null"
			entry.Value = json.RawMessage("null")
		default:
			text, _ := ds.Text(e, cs)
			entry.Type = "String"
			entry.Value, _ = json.Marshal(text)
		}
		out[e.Tag.Internal()] = entry
	}
	return out
}

// PNG returns a small grayscale PNG image
func PNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 16)
	}
	img.Set(0, 0, color.Gray{Y: 255})

	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}
