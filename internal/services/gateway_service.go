package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/client"
	"github.com/otcheredev/dicomweb-gateway/internal/models"
	"github.com/otcheredev/dicomweb-gateway/internal/stow"
	"github.com/rs/zerolog/log"
)

// ServerStore persists DICOMweb servers
type ServerStore interface {
	Save(ctx context.Context, server *models.Server) error
	List(ctx context.Context) ([]models.Server, error)
	Delete(ctx context.Context, name string) error
}

// AuditStore records and lists audit logs
type AuditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
	List(ctx context.Context, action string, limit, offset int) ([]models.AuditLog, error)
	GetByResourceUID(ctx context.Context, resourceUID string) ([]models.AuditLog, error)
}

// DefaultAuditLimit is the page size of audit queries without a limit
const DefaultAuditLimit = 100

// AuditQuery selects audit logs, newest first. A resource UID selects
// every log of that resource and ignores paging.
type AuditQuery struct {
	Action      string `validate:"omitempty,oneof=stow.ingest client.stow client.retrieve"`
	ResourceUID string `validate:"omitempty,max=255"`
	Limit       int    `validate:"min=0,max=1000"`
	Offset      int    `validate:"min=0"`
}

// Caller identifies the origin of an audited request
type Caller struct {
	IPAddress string
	UserAgent string
}

// GatewayService handles the STOW-RS ingest and the outbound client on
// behalf of the HTTP handlers. Servers and audit logs are only persisted
// when the stores are set.
type GatewayService struct {
	stow      *stow.Service
	client    *client.Client
	servers   ServerStore
	audit     AuditStore
	validator *validator.Validate
}

// NewGatewayService creates a new gateway service. servers and audit may
// be nil.
func NewGatewayService(stowService *stow.Service, dicomwebClient *client.Client, servers ServerStore, audit AuditStore) *GatewayService {
	return &GatewayService{
		stow:      stowService,
		client:    dicomwebClient,
		servers:   servers,
		audit:     audit,
		validator: validator.New(),
	}
}

// LoadServers adds the persisted servers to the registry. They replace the
// configured servers of the same name.
func (s *GatewayService) LoadServers(ctx context.Context) error {
	if s.servers == nil {
		return nil
	}

	servers, err := s.servers.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load servers: %w", err)
	}
	for _, server := range servers {
		s.client.Registry().Put(server)
	}

	log.Info().Int("count", len(servers)).Msg("Loaded DICOMweb servers from the database")
	return nil
}

// Ingest stores the instances of a STOW-RS request
func (s *GatewayService) Ingest(ctx context.Context, caller Caller, contentType string, body []byte, study, base string) (*stow.Result, error) {
	start := time.Now()
	result, err := s.stow.Ingest(ctx, contentType, body, study, base)

	entry := &models.AuditLog{
		Action:      models.ActionStowIngest,
		ResourceUID: study,
		IPAddress:   caller.IPAddress,
		UserAgent:   caller.UserAgent,
	}
	if result != nil {
		entry.Instances = len(result.Stored)
		if result.Failures > 0 {
			err := fmt.Errorf("%d instances failed", result.Failures)
			s.record(ctx, entry, start, err)
			return result, nil
		}
	}
	s.record(ctx, entry, start, err)

	return result, err
}

// Stow sends archive resources to a server
func (s *GatewayService) Stow(ctx context.Context, caller Caller, name string, req models.StowRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return apierr.Wrap(apierr.BadRequest, err, "invalid STOW-RS client request")
	}

	start := time.Now()
	sent, err := s.client.Stow(ctx, name, req)

	resource := ""
	if len(req.Resources) == 1 {
		resource = req.Resources[0]
	}
	s.record(ctx, &models.AuditLog{
		Action:      models.ActionStowClient,
		Server:      name,
		ResourceUID: resource,
		Instances:   sent,
		IPAddress:   caller.IPAddress,
		UserAgent:   caller.UserAgent,
	}, start, err)

	return err
}

// Retrieve downloads resources from a server into the archive
func (s *GatewayService) Retrieve(ctx context.Context, caller Caller, name string, req models.RetrieveRequest) (*models.RetrieveAnswer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, apierr.Wrap(apierr.BadRequest, err, "invalid WADO-RS client request")
	}

	start := time.Now()
	instances, err := s.client.Retrieve(ctx, name, req)

	resource := ""
	if len(req.Resources) == 1 {
		resource = req.Resources[0].Study
	}
	s.record(ctx, &models.AuditLog{
		Action:      models.ActionRetrieve,
		Server:      name,
		ResourceUID: resource,
		Instances:   len(instances),
		IPAddress:   caller.IPAddress,
		UserAgent:   caller.UserAgent,
	}, start, err)

	if err != nil {
		return nil, err
	}
	return &models.RetrieveAnswer{Instances: instances}, nil
}

// Get forwards a GET request to a server
func (s *GatewayService) Get(ctx context.Context, name string, req models.GetRequest) (*client.Response, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, apierr.Wrap(apierr.BadRequest, err, "invalid request")
	}
	return s.client.Get(ctx, name, req)
}

// ServerNames lists the registered servers
func (s *GatewayService) ServerNames() []string {
	return s.client.Registry().Names()
}

// Server returns a registered server
func (s *GatewayService) Server(name string) (models.Server, error) {
	return s.client.Registry().Get(name)
}

// PutServer registers or replaces a server
func (s *GatewayService) PutServer(ctx context.Context, name string, server models.Server) error {
	server.Name = name
	if err := s.validator.Struct(server); err != nil {
		return apierr.Wrap(apierr.BadRequest, err, "invalid DICOMweb server "+name)
	}

	if s.servers != nil {
		if err := s.servers.Save(ctx, &server); err != nil {
			return err
		}
	}
	s.client.Registry().Put(server)

	log.Info().Str("server", name).Str("url", server.URL).Msg("DICOMweb server registered")
	return nil
}

// DeleteServer removes a server
func (s *GatewayService) DeleteServer(ctx context.Context, name string) error {
	if _, err := s.client.Registry().Get(name); err != nil {
		return err
	}

	if s.servers != nil {
		if err := s.servers.Delete(ctx, name); err != nil {
			return err
		}
	}
	s.client.Registry().Remove(name)

	log.Info().Str("server", name).Msg("DICOMweb server removed")
	return nil
}

// AuditLogs lists the recorded audit logs
func (s *GatewayService) AuditLogs(ctx context.Context, q AuditQuery) ([]models.AuditLog, error) {
	if s.audit == nil {
		return nil, apierr.New(apierr.NotFound, "audit logs are not recorded")
	}
	if err := s.validator.Struct(q); err != nil {
		return nil, apierr.Wrap(apierr.BadRequest, err, "invalid audit query")
	}

	if q.ResourceUID != "" {
		logs, err := s.audit.GetByResourceUID(ctx, q.ResourceUID)
		if err != nil {
			return nil, err
		}
		if q.Action == "" {
			return logs, nil
		}
		filtered := logs[:0]
		for _, l := range logs {
			if l.Action == q.Action {
				filtered = append(filtered, l)
			}
		}
		return filtered, nil
	}

	if q.Limit == 0 {
		q.Limit = DefaultAuditLimit
	}
	return s.audit.List(ctx, q.Action, q.Limit, q.Offset)
}

// record stores an audit log. Failures are logged only.
func (s *GatewayService) record(ctx context.Context, entry *models.AuditLog, start time.Time, err error) {
	if s.audit == nil {
		return
	}

	entry.Duration = time.Since(start).Milliseconds()
	entry.Status = models.AuditSuccess
	if err != nil {
		entry.Status = models.AuditFailure
		entry.ErrorMessage = err.Error()
	}

	if err := s.audit.Create(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn().Err(err).Str("action", entry.Action).Msg("Failed to record audit log")
	}
}
