package repository

import (
	"context"
	"fmt"

	"github.com/otcheredev/dicomweb-gateway/internal/database"
	"github.com/otcheredev/dicomweb-gateway/internal/models"
	"gorm.io/gorm/clause"
)

// ServerRepository handles persisted DICOMweb servers
type ServerRepository struct{}

// NewServerRepository creates a new server repository
func NewServerRepository() *ServerRepository {
	return &ServerRepository{}
}

// Save creates a server or replaces the one with the same name
func (r *ServerRepository) Save(ctx context.Context, server *models.Server) error {
	err := database.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"url", "username", "password", "certificate_file", "certificate_key_file",
				"certificate_key_password", "pkcs11", "updated_at", "deleted_at",
			}),
		}).
		Create(server).Error
	if err != nil {
		return fmt.Errorf("failed to save server %s: %w", server.Name, err)
	}
	return nil
}

// List retrieves all servers ordered by name
func (r *ServerRepository) List(ctx context.Context) ([]models.Server, error) {
	var servers []models.Server
	if err := database.DB.WithContext(ctx).Order("name ASC").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return servers, nil
}

// Delete permanently removes a server by name
func (r *ServerRepository) Delete(ctx context.Context, name string) error {
	if err := database.DB.WithContext(ctx).Unscoped().Where("name = ?", name).Delete(&models.Server{}).Error; err != nil {
		return fmt.Errorf("failed to delete server %s: %w", name, err)
	}
	return nil
}
