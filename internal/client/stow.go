package client

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/models"
	"github.com/otcheredev/dicomweb-gateway/internal/multipart"
	"github.com/rs/zerolog/log"
)

const dicomContentType = "application/dicom"

// resolve expands archive IDs of instances, series, studies or patients
// into instance IDs
func (c *Client) resolve(ctx context.Context, resources []string) ([]string, error) {
	var instances []string
	for _, id := range resources {
		if id == "" {
			return nil, apierr.New(apierr.NotFound, "empty resource ID")
		}

		r, err := c.archive.Resource(ctx, archive.LevelInstance, id)
		if err == nil {
			instances = append(instances, r.ID)
			continue
		}
		if !apierr.Is(err, apierr.NotFound) {
			return nil, err
		}

		found := false
		for _, level := range []archive.Level{archive.LevelSeries, archive.LevelStudy, archive.LevelPatient} {
			children, err := c.archive.ChildInstances(ctx, level, id)
			if apierr.Is(err, apierr.NotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				instances = append(instances, child.ID)
			}
			found = true
			break
		}
		if !found {
			return nil, apierr.Newf(apierr.NotFound, "unknown resource: %s", id)
		}
	}
	return instances, nil
}

// stowChunk accumulates instances of one STOW-RS request
type stowChunk struct {
	body  bytes.Buffer
	w     *multipart.Writer
	count int
}

func newStowChunk() *stowChunk {
	c := &stowChunk{}
	c.w = multipart.NewWriter(&c.body, dicomContentType)
	return c
}

// Stow sends instances of the archive to a server with STOW-RS. Requests
// are split according to the options; the first rejected chunk fails the
// whole operation. It returns the number of instances sent.
func (c *Client) Stow(ctx context.Context, name string, req models.StowRequest) (int, error) {
	p, err := c.peer(name)
	if err != nil {
		return 0, err
	}
	defer p.close()

	instances, err := c.resolve(ctx, req.Resources)
	if err != nil {
		return 0, err
	}

	log.Info().Int("instances", len(instances)).Str("server", name).Msg("Sending instances with STOW-RS")

	sent := 0
	chunk := newStowChunk()
	for _, id := range instances {
		file, err := c.archive.InstanceFile(ctx, id)
		if apierr.Is(err, apierr.NotFound) {
			log.Warn().Str("instance", id).Msg("Instance disappeared before STOW-RS, skipping")
			continue
		}
		if err != nil {
			return sent, err
		}

		if err := chunk.w.WritePart(dicomContentType, file, nil); err != nil {
			return sent, apierr.Wrap(apierr.Internal, err, "failed to build STOW-RS body")
		}
		chunk.count++

		if c.full(chunk) {
			if err := c.sendChunk(ctx, p, req.HttpHeaders, chunk); err != nil {
				return sent, err
			}
			sent += chunk.count
			chunk = newStowChunk()
		}
	}

	if chunk.count > 0 {
		if err := c.sendChunk(ctx, p, req.HttpHeaders, chunk); err != nil {
			return sent, err
		}
		sent += chunk.count
	}
	return sent, nil
}

func (c *Client) full(chunk *stowChunk) bool {
	return (c.opts.StowMaxInstances > 0 && chunk.count >= c.opts.StowMaxInstances) ||
		(c.opts.StowMaxSize > 0 && int64(chunk.body.Len()) >= c.opts.StowMaxSize)
}

func (c *Client) sendChunk(ctx context.Context, p *peer, extra map[string]string, chunk *stowChunk) error {
	if err := chunk.w.Close(); err != nil {
		return apierr.Wrap(apierr.Internal, err, "failed to build STOW-RS body")
	}

	headers := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		headers[k] = v
	}
	headers["Accept"] = "application/json"
	headers["Content-Type"] = chunk.w.ContentType()

	log.Info().
		Str("server", p.server.Name).
		Int("instances", chunk.count).
		Str("size", humanize.Bytes(uint64(chunk.body.Len()))).
		Msg("Sending STOW-RS chunk")

	resp, err := p.call(ctx, http.MethodPost, "studies", nil, headers, chunk.body.Bytes())
	if err != nil {
		return err
	}
	return checkStowAnswer(resp.Body, chunk.count, p.server.Name)
}

// sequenceSize returns the item count of a sequence of a DICOM JSON
// object. Tags are matched in upper or lower case.
func sequenceSize(answer map[string]json.RawMessage, tag string) (int, bool, error) {
	raw, ok := answer[strings.ToUpper(tag)]
	if !ok {
		raw, ok = answer[strings.ToLower(tag)]
	}
	if !ok {
		return 0, false, nil
	}

	var attr struct {
		Value []json.RawMessage `json:"Value"`
	}
	if err := json.Unmarshal(raw, &attr); err != nil {
		return 0, true, err
	}
	return len(attr.Value), true, nil
}

func checkStowAnswer(body []byte, sent int, server string) error {
	var answer map[string]json.RawMessage
	if err := json.Unmarshal(body, &answer); err != nil {
		return apierr.Wrap(apierr.Upstream, err, "unable to parse STOW-RS JSON response from DICOMweb server "+server)
	}

	size, ok, err := sequenceSize(answer, "00081199")
	if err != nil {
		return apierr.Wrap(apierr.Upstream, err, "unable to parse STOW-RS JSON response from DICOMweb server "+server)
	}
	if !ok {
		return apierr.Newf(apierr.Upstream,
			"the STOW-RS JSON response from DICOMweb server %s does not contain the mandatory tag 00081199", server)
	}
	if size != sent {
		return apierr.Newf(apierr.Upstream,
			"the STOW-RS server was only able to receive %d instances out of %d", size, sent)
	}

	for _, tag := range []string{"00081198", "0008119A"} {
		size, _, err := sequenceSize(answer, tag)
		if err != nil {
			return apierr.Wrap(apierr.Upstream, err, "unable to parse STOW-RS JSON response from DICOMweb server "+server)
		}
		if size != 0 {
			return apierr.Newf(apierr.Upstream,
				"the response from the STOW-RS server contains %d items in its %s sequence", size, tag)
		}
	}
	return nil
}
