// Package archive is the client of the backend archive REST API
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/cache"
	"github.com/otcheredev/dicomweb-gateway/internal/metrics"
	"github.com/otcheredev/dicomweb-gateway/internal/render"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when the archive answers 404
var ErrNotFound = errors.New("archive: resource not found")

// Level is a level of the DICOM hierarchy, as named by the archive
type Level string

const (
	LevelPatient  Level = "Patient"
	LevelStudy    Level = "Study"
	LevelSeries   Level = "Series"
	LevelInstance Level = "Instance"
)

// Path returns the REST collection of the level
func (l Level) Path() string {
	switch l {
	case LevelPatient:
		return "patients"
	case LevelStudy:
		return "studies"
	case LevelSeries:
		return "series"
	default:
		return "instances"
	}
}

// Config configures the archive client
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to the archive
type Client struct {
	client   *http.Client
	baseURL  string
	username string
	password string
	cache    cache.Cache
	cacheTTL time.Duration
}

// New creates an archive client. uidCache may be nil.
func New(cfg Config, uidCache cache.Cache, cacheTTL time.Duration) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL:  strings.TrimSuffix(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		cache:    uidCache,
		cacheTTL: cacheTTL,
	}
}

func (c *Client) addAuth(req *http.Request) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

// do executes a request and returns the body of a 2xx answer
func (c *Client) do(ctx context.Context, operation, method, path, contentType string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuth(req)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ArchiveRequests.WithLabelValues(operation, metrics.OutcomeError).Inc()
		return nil, apierr.Wrap(apierr.Internal, err, "archive unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ArchiveRequests.WithLabelValues(operation, metrics.OutcomeError).Inc()
		return nil, apierr.Wrap(apierr.Internal, err, "failed to read archive response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.ArchiveRequests.WithLabelValues(operation, metrics.OutcomeNotFound).Inc()
		return nil, apierr.Wrap(apierr.NotFound, ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		metrics.ArchiveRequests.WithLabelValues(operation, metrics.OutcomeError).Inc()
		return nil, apierr.Newf(apierr.Internal, "archive returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	metrics.ArchiveRequests.WithLabelValues(operation, metrics.OutcomeSuccess).Inc()
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, operation, path string, out interface{}) error {
	data, err := c.do(ctx, operation, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apierr.Wrap(apierr.Internal, err, "failed to decode archive response")
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, operation, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	data, err := c.do(ctx, operation, http.MethodPost, path, "application/json", body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apierr.Wrap(apierr.Internal, err, "failed to decode archive response")
	}
	return nil
}

// Resource is the archive summary of a patient, study, series or instance
type Resource struct {
	ID            string            `json:"ID"`
	Type          string            `json:"Type"`
	ParentPatient string            `json:"ParentPatient,omitempty"`
	ParentStudy   string            `json:"ParentStudy,omitempty"`
	ParentSeries  string            `json:"ParentSeries,omitempty"`
	MainDicomTags map[string]string `json:"MainDicomTags"`
	Studies       []string          `json:"Studies,omitempty"`
	Series        []string          `json:"Series,omitempty"`
	Instances     []string          `json:"Instances,omitempty"`
}

// Tag returns a main DICOM tag by keyword
func (r *Resource) Tag(keyword string) string {
	return strings.TrimSpace(r.MainDicomTags[keyword])
}

type lookupMatch struct {
	ID   string `json:"ID"`
	Path string `json:"Path"`
	Type string `json:"Type"`
}

// Lookup maps a DICOM UID to the archive ID of a resource of the given
// level. Results are cached when a cache is configured.
func (c *Client) Lookup(ctx context.Context, level Level, uid string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", apierr.Wrap(apierr.NotFound, ErrNotFound, "empty UID")
	}

	key := cache.UIDKey(strings.ToLower(string(level)), uid)
	if c.cache != nil {
		if id, err := c.cache.Get(ctx, key); err == nil {
			return string(id), nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn().Err(err).Str("key", key).Msg("UID cache unavailable")
		}
	}

	data, err := c.do(ctx, "lookup", http.MethodPost, "/tools/lookup", "text/plain", []byte(uid))
	if err != nil {
		return "", err
	}

	var matches []lookupMatch
	if err := json.Unmarshal(data, &matches); err != nil {
		return "", apierr.Wrap(apierr.Internal, err, "failed to decode archive lookup")
	}

	for _, m := range matches {
		if m.Type != string(level) {
			continue
		}
		if c.cache != nil {
			if err := c.cache.Set(ctx, key, []byte(m.ID), c.cacheTTL); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Failed to cache UID")
			}
		}
		return m.ID, nil
	}

	return "", apierr.Wrap(apierr.NotFound, ErrNotFound, fmt.Sprintf("%s %s", strings.ToLower(string(level)), uid))
}

// Forget drops cached lookups of a UID at every level
func (c *Client) Forget(ctx context.Context, uid string) {
	if c.cache == nil {
		return
	}
	for _, level := range []Level{LevelStudy, LevelSeries, LevelInstance} {
		_ = c.cache.Delete(ctx, cache.UIDKey(strings.ToLower(string(level)), uid))
	}
}

// FindQuery is the body of a /tools/find request. Query keys are tags in
// the gggg,eeee form.
type FindQuery struct {
	Level         Level             `json:"Level"`
	Expand        bool              `json:"Expand"`
	CaseSensitive bool              `json:"CaseSensitive"`
	Query         map[string]string `json:"Query"`
}

// Find searches the archive and returns the matching IDs in archive order
func (c *Client) Find(ctx context.Context, q FindQuery) ([]string, error) {
	if q.Query == nil {
		q.Query = map[string]string{}
	}
	var ids []string
	if err := c.postJSON(ctx, "find", "/tools/find", q, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Resource returns the summary of a resource
func (c *Client) Resource(ctx context.Context, level Level, id string) (*Resource, error) {
	var r Resource
	if err := c.getJSON(ctx, "resource", "/"+level.Path()+"/"+id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// InstanceSeries returns the parent series of an instance
func (c *Client) InstanceSeries(ctx context.Context, id string) (*Resource, error) {
	var r Resource
	if err := c.getJSON(ctx, "parent", "/instances/"+id+"/series", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// InstanceStudy returns the parent study of an instance
func (c *Client) InstanceStudy(ctx context.Context, id string) (*Resource, error) {
	var r Resource
	if err := c.getJSON(ctx, "parent", "/instances/"+id+"/study", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SeriesStudy returns the parent study of a series
func (c *Client) SeriesStudy(ctx context.Context, id string) (*Resource, error) {
	var r Resource
	if err := c.getJSON(ctx, "parent", "/series/"+id+"/study", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ChildInstances lists the instances below a resource, in archive order
func (c *Client) ChildInstances(ctx context.Context, level Level, id string) ([]Resource, error) {
	var rs []Resource
	if err := c.getJSON(ctx, "children", "/"+level.Path()+"/"+id+"/instances", &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// StudySeries lists the series of a study
func (c *Client) StudySeries(ctx context.Context, id string) ([]Resource, error) {
	var rs []Resource
	if err := c.getJSON(ctx, "children", "/studies/"+id+"/series", &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// InstanceFile downloads the DICOM file of an instance
func (c *Client) InstanceFile(ctx context.Context, id string) ([]byte, error) {
	return c.do(ctx, "file", http.MethodGet, "/instances/"+id+"/file", "", nil)
}

// InstanceTags returns the tag summary of an instance
func (c *Client) InstanceTags(ctx context.Context, id string) (render.Summary, error) {
	var s render.Summary
	if err := c.getJSON(ctx, "tags", "/instances/"+id+"/tags", &s); err != nil {
		return nil, err
	}
	return s, nil
}

// InstanceHeader returns the simplified file meta information of an
// instance, keyed by keyword
func (c *Client) InstanceHeader(ctx context.Context, id string) (map[string]string, error) {
	var raw map[string]interface{}
	if err := c.getJSON(ctx, "header", "/instances/"+id+"/header?simplify", &raw); err != nil {
		return nil, err
	}
	header := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			header[k] = strings.TrimSpace(s)
		}
	}
	return header, nil
}

// InstancePreview returns a PNG rendering of an instance
func (c *Client) InstancePreview(ctx context.Context, id string) ([]byte, error) {
	return c.do(ctx, "preview", http.MethodGet, "/instances/"+id+"/preview", "", nil)
}

// StoreResult is the answer of the archive to an upload
type StoreResult struct {
	ID           string `json:"ID"`
	Path         string `json:"Path"`
	Status       string `json:"Status"`
	ParentStudy  string `json:"ParentStudy"`
	ParentSeries string `json:"ParentSeries"`
}

// Store uploads a DICOM file
func (c *Client) Store(ctx context.Context, file []byte) (*StoreResult, error) {
	data, err := c.do(ctx, "store", http.MethodPost, "/instances", "application/dicom", file)
	if err != nil {
		return nil, err
	}
	var r StoreResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "failed to decode archive upload answer")
	}
	log.Debug().
		Str("instance", r.ID).
		Str("status", r.Status).
		Str("size", humanize.Bytes(uint64(len(file)))).
		Msg("Instance stored in the archive")
	return &r, nil
}

// SystemInfo describes the archive
type SystemInfo struct {
	Name       string `json:"Name"`
	Version    string `json:"Version"`
	ApiVersion int    `json:"ApiVersion"`
}

// System returns the archive description, used as a health probe
func (c *Client) System(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.getJSON(ctx, "system", "/system", &info); err != nil {
		return nil, err
	}
	return &info, nil
}
