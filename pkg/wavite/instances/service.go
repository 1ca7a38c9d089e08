// Package instances keeps the registry of WhatsApp sessions each tenant may
// use. Every operation that names an instance checks ownership here first.
package instances

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/wavite/wavite/pkg/wavite/apperr"
	"github.com/wavite/wavite/pkg/wavite/models"
	"gorm.io/gorm"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Service manages tenant instances.
type Service struct {
	db *gorm.DB
}

// NewService creates an instance service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Register records an Evolution instance for the tenant. Instance names are
// unique across tenants.
func (s *Service) Register(ctx context.Context, tenantID uint, name, description string) (*models.Instance, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if !namePattern.MatchString(name) {
		return nil, apperr.Validation("name may only contain letters, numbers, '.', '_' and '-'")
	}

	inst := models.Instance{TenantID: tenantID, Name: name, Description: description}
	if err := s.db.WithContext(ctx).Create(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("instance %q is already registered", name)
		}
		return nil, err
	}
	return &inst, nil
}

// List returns the tenant's instances by name.
func (s *Service) List(ctx context.Context, tenantID uint) ([]models.Instance, error) {
	var out []models.Instance
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name ASC").Find(&out).Error
	return out, err
}

// All returns every registered instance, for background reconciliation.
func (s *Service) All(ctx context.Context) ([]models.Instance, error) {
	var out []models.Instance
	err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// Require returns the named instance if it belongs to the tenant. Instances
// of other tenants are reported as not found.
func (s *Service) Require(ctx context.Context, tenantID uint, name string) (*models.Instance, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Validation("instanceName is required")
	}
	var inst models.Instance
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("instance")
	}
	if err != nil {
		return nil, err
	}
	if inst.TenantID != tenantID {
		return nil, apperr.Forbidden("instance")
	}
	return &inst, nil
}
