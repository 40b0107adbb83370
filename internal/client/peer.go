package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/models"
	"github.com/rs/zerolog/log"
)

// Response is the answer of a remote server
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// peer sends requests to one remote server
type peer struct {
	server models.Server
	client *http.Client
}

func newPeer(server models.Server, timeout time.Duration) (*peer, error) {
	if server.Pkcs11 {
		return nil, apierr.Newf(apierr.Internal, "server %s requires PKCS#11, which is not supported", server.Name)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if server.CertificateFile != "" {
		if server.CertificateKeyPassword != "" {
			return nil, apierr.Newf(apierr.Internal,
				"server %s: password-protected certificate keys are not supported", server.Name)
		}
		cert, err := tls.LoadX509KeyPair(server.CertificateFile, server.CertificateKeyFile)
		if err != nil {
			return nil, apierr.Wrap(apierr.Internal, err, "cannot load client certificate of server "+server.Name)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return &peer{
		server: server,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// resourceURL joins the server URL, a resource and its encoded arguments
func resourceURL(base, resource string, args map[string]string) (string, error) {
	if strings.Contains(resource, "?") {
		return "", apierr.Newf(apierr.BadRequest, "the resource %q must not contain query arguments", resource)
	}

	u := base + strings.TrimPrefix(resource, "/")
	if len(args) == 0 {
		return u, nil
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := make([]string, 0, len(keys))
	for _, k := range keys {
		query = append(query, url.QueryEscape(k)+"="+url.QueryEscape(args[k]))
	}
	return u + "?" + strings.Join(query, "&"), nil
}

// call executes a request. Answers outside 2xx fail as Upstream.
func (p *peer) call(ctx context.Context, method, resource string, args, headers map[string]string, body []byte) (*Response, error) {
	u, err := resourceURL(p.server.URL, resource, args)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, apierr.Wrap(apierr.BadRequest, err, "failed to create request")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	p.addAuth(req)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.Upstream, err, "failed to call server "+p.server.Name)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.Upstream, err, "failed to read answer of server "+p.server.Name)
	}

	log.Debug().
		Str("server", p.server.Name).
		Str("method", method).
		Str("url", u).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("DICOMweb server call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.New(apierr.Upstream,
			fmt.Sprintf("server %s returned status %d: %s", p.server.Name, resp.StatusCode, truncate(data, 256)))
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// addAuth adds authentication to the request
func (p *peer) addAuth(req *http.Request) {
	if p.server.Username != "" || p.server.Password != "" {
		req.SetBasicAuth(p.server.Username, p.server.Password)
	}
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}

// close releases idle connections
func (p *peer) close() {
	p.client.CloseIdleConnections()
}
