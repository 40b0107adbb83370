package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Server is a remote DICOMweb server reachable through the outbound client
type Server struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"-" toml:"-"`
	Name                   string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"-" toml:"-"`
	URL                    string    `gorm:"type:varchar(500);not null" json:"Url" toml:"Url" validate:"required,url,startswith=http"`
	Username               string    `gorm:"type:varchar(255)" json:"Username,omitempty" toml:"Username"`
	Password               string    `gorm:"type:text" json:"Password,omitempty" toml:"Password"`
	CertificateFile        string    `gorm:"type:text" json:"CertificateFile,omitempty" toml:"CertificateFile" validate:"required_with=CertificateKeyFile"`
	CertificateKeyFile     string    `gorm:"type:text" json:"CertificateKeyFile,omitempty" toml:"CertificateKeyFile" validate:"required_with=CertificateFile"`
	CertificateKeyPassword string    `gorm:"type:text" json:"CertificateKeyPassword,omitempty" toml:"CertificateKeyPassword"`
	Pkcs11                 bool      `json:"Pkcs11,omitempty" toml:"Pkcs11"`

	CreatedAt time.Time      `json:"-" toml:"-"`
	UpdatedAt time.Time      `json:"-" toml:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-" toml:"-"`
}

// TableName overrides the table name
func (Server) TableName() string {
	return "dicomweb_servers"
}

// BeforeCreate hook
func (s *Server) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
