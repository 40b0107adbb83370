// Package client sends requests to remote DICOMweb servers
package client

import (
	"sort"
	"strings"
	"sync"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/models"
)

// Registry holds the configured DICOMweb servers by name
type Registry struct {
	mu      sync.RWMutex
	servers map[string]models.Server
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		servers: make(map[string]models.Server),
	}
}

// Load adds servers, replacing those with the same names
func (r *Registry) Load(servers map[string]models.Server) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, s := range servers {
		s.Name = name
		r.servers[name] = normalize(s)
	}
}

// Put registers or replaces one server
func (r *Registry) Put(s models.Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[s.Name] = normalize(s)
}

// Remove unregisters a server. It reports whether the server existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.servers[name]
	delete(r.servers, name)
	return ok
}

// Get returns a copy of the named server
func (r *Registry) Get(name string) (models.Server, error) {
	r.mu.RLock()
	s, ok := r.servers[name]
	r.mu.RUnlock()

	if !ok {
		return models.Server{}, apierr.Newf(apierr.NotFound, "inexistent server: %s", name)
	}
	return s, nil
}

// Names lists the registered servers in alphabetical order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// normalize adds the trailing slash of the server URL
func normalize(s models.Server) models.Server {
	if !strings.HasSuffix(s.URL, "/") {
		s.URL += "/"
	}
	return s
}
