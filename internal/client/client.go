package client

import (
	"context"
	"net/http"
	"time"

	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/models"
)

// Archive is the part of the archive used by the client
type Archive interface {
	Resource(ctx context.Context, level archive.Level, id string) (*archive.Resource, error)
	ChildInstances(ctx context.Context, level archive.Level, id string) ([]archive.Resource, error)
	InstanceFile(ctx context.Context, id string) ([]byte, error)
	Store(ctx context.Context, file []byte) (*archive.StoreResult, error)
}

// Options tune the outbound requests
type Options struct {
	// StowMaxInstances flushes a STOW-RS request after that many
	// instances, 0 disables the limit
	StowMaxInstances int

	// StowMaxSize flushes a STOW-RS request once its body reaches that
	// many bytes, 0 disables the limit
	StowMaxSize int64

	// Timeout of one request, 0 means no timeout
	Timeout time.Duration
}

// DefaultOptions returns the default chunking of STOW-RS requests
func DefaultOptions() Options {
	return Options{
		StowMaxInstances: 10,
		StowMaxSize:      10 * 1024 * 1024,
	}
}

// Client runs STOW-RS, WADO-RS and arbitrary GET requests against the
// servers of a registry
type Client struct {
	registry *Registry
	archive  Archive
	opts     Options
}

// New creates a client
func New(registry *Registry, arc Archive, opts Options) *Client {
	return &Client{
		registry: registry,
		archive:  arc,
		opts:     opts,
	}
}

// Registry returns the servers known to the client
func (c *Client) Registry() *Registry {
	return c.registry
}

func (c *Client) peer(name string) (*peer, error) {
	server, err := c.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return newPeer(server, c.opts.Timeout)
}

// Get forwards a GET request to a server
func (c *Client) Get(ctx context.Context, name string, req models.GetRequest) (*Response, error) {
	p, err := c.peer(name)
	if err != nil {
		return nil, err
	}
	defer p.close()

	return p.call(ctx, http.MethodGet, req.Uri, req.Arguments, req.HttpHeaders, nil)
}
