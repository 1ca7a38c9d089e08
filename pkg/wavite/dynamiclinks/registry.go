// Package dynamiclinks stores the public slugs and the group each one
// currently hands out. The active pointer is only moved through the
// conditional updates in this file.
package dynamiclinks

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/wavite/wavite/pkg/wavite/apperr"
	"github.com/wavite/wavite/pkg/wavite/config"
	"github.com/wavite/wavite/pkg/wavite/instances"
	"github.com/wavite/wavite/pkg/wavite/models"
	"gorm.io/gorm"
)

var slugRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

var reservedSlugs = []string{"api", "health", "admin", "invite", "login", "logout", "register", "auth"}

const (
	generatedSlugLength   = 8
	generatedSlugAttempts = 5
)

// CreateInput describes a new dynamic link. An empty Slug is generated and
// a zero GroupCapacity means the default.
type CreateInput struct {
	Slug          string
	Name          string
	BaseGroupName string
	GroupCapacity int
	InstanceName  string
}

// Registry persists dynamic links.
type Registry struct {
	db        *gorm.DB
	instances *instances.Service
}

// NewRegistry creates a dynamic link registry.
func NewRegistry(db *gorm.DB, inst *instances.Service) *Registry {
	return &Registry{db: db, instances: inst}
}

// ValidateSlug checks format and reserved words. It does not check
// availability; the unique index does that atomically on insert.
func ValidateSlug(slug string) error {
	if !slugRegex.MatchString(slug) {
		return apperr.Validation("slug must be 1-64 letters, numbers, hyphens or underscores")
	}
	for _, r := range reservedSlugs {
		if strings.EqualFold(slug, r) {
			return apperr.Validation("slug %q is reserved", slug)
		}
	}
	return nil
}

// CreateDynamicLink validates and inserts a link. A taken slug yields a
// ConflictError and leaves the existing link untouched. No group is
// provisioned here; the first visit does that.
func (r *Registry) CreateDynamicLink(ctx context.Context, tenantID uint, in CreateInput) (*models.DynamicLink, error) {
	in.Slug = strings.TrimSpace(in.Slug)
	in.Name = strings.TrimSpace(in.Name)
	in.BaseGroupName = strings.TrimSpace(in.BaseGroupName)

	switch {
	case in.Name == "":
		return nil, apperr.Validation("name is required")
	case in.BaseGroupName == "":
		return nil, apperr.Validation("baseGroupName is required")
	case strings.TrimSpace(in.InstanceName) == "":
		return nil, apperr.Validation("instanceName is required")
	}
	if in.GroupCapacity == 0 {
		in.GroupCapacity = config.DefaultGroupCapacity
	}
	if in.GroupCapacity < 1 || in.GroupCapacity > config.DefaultGroupCapacity {
		return nil, apperr.Validation("groupCapacity must be between 1 and %d", config.DefaultGroupCapacity)
	}
	generated := in.Slug == ""
	if !generated {
		if err := ValidateSlug(in.Slug); err != nil {
			return nil, err
		}
	}
	if _, err := r.instances.Require(ctx, tenantID, in.InstanceName); err != nil {
		return nil, err
	}

	attempts := 1
	if generated {
		attempts = generatedSlugAttempts
	}
	for i := 0; i < attempts; i++ {
		slug := in.Slug
		if generated {
			slug = randomSlug()
		}
		link := models.DynamicLink{
			TenantID:      tenantID,
			Slug:          slug,
			Name:          in.Name,
			BaseGroupName: in.BaseGroupName,
			GroupCapacity: in.GroupCapacity,
			InstanceName:  in.InstanceName,
		}
		err := r.db.WithContext(ctx).Create(&link).Error
		if err == nil {
			return &link, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
	}
	if generated {
		return nil, apperr.Conflict("could not generate a free slug")
	}
	return nil, apperr.Conflict("slug %q already exists", in.Slug)
}

// GetBySlug loads a link for the public redirect path.
func (r *Registry) GetBySlug(ctx context.Context, slug string) (*models.DynamicLink, error) {
	var link models.DynamicLink
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("dynamic link")
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// GetForTenant loads a link by id within a tenant.
func (r *Registry) GetForTenant(ctx context.Context, tenantID uint, id string) (*models.DynamicLink, error) {
	var link models.DynamicLink
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("dynamic link")
	}
	if err != nil {
		return nil, err
	}
	if link.TenantID != tenantID {
		return nil, apperr.Forbidden("dynamic link")
	}
	return &link, nil
}

// ListForTenant returns the tenant's links, newest first.
func (r *Registry) ListForTenant(ctx context.Context, tenantID uint) ([]models.DynamicLink, error) {
	var out []models.DynamicLink
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Find(&out).Error
	return out, err
}

// All returns every link, for background maintenance.
func (r *Registry) All(ctx context.Context) ([]models.DynamicLink, error) {
	var out []models.DynamicLink
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&out).Error
	return out, err
}

func whereActive(q *gorm.DB, expected *string) *gorm.DB {
	if expected == nil {
		return q.Where("active_group_id IS NULL")
	}
	return q.Where("active_group_id = ?", *expected)
}

// ClaimRotation takes the rotation lease for the link if the active pointer
// still equals expected and no unexpired lease is held. Only the holder of
// the lease may provision a replacement group.
func (r *Registry) ClaimRotation(ctx context.Context, linkID string, expected *string, token string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	q := r.db.WithContext(ctx).Model(&models.DynamicLink{}).Where("id = ?", linkID)
	q = whereActive(q, expected).
		Where("(rotation_token IS NULL OR rotation_started_at IS NULL OR rotation_started_at < ?)", now.Add(-ttl))

	res := q.Updates(map[string]any{
		"rotation_token":      token,
		"rotation_started_at": now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseRotation drops the lease if token still holds it.
func (r *Registry) ReleaseRotation(ctx context.Context, linkID, token string) error {
	return r.db.WithContext(ctx).Model(&models.DynamicLink{}).
		Where("id = ? AND rotation_token = ?", linkID, token).
		Updates(map[string]any{"rotation_token": nil, "rotation_started_at": nil}).Error
}

// SwapActiveGroup moves the active pointer from expected to next in one
// conditional update and releases the lease. It reports false when another
// caller moved the pointer or took over the lease first.
func (r *Registry) SwapActiveGroup(ctx context.Context, linkID string, expected *string, next, token string) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.DynamicLink{}).Where("id = ?", linkID)
	q = whereActive(q, expected).Where("rotation_token = ?", token)

	res := q.Updates(map[string]any{
		"active_group_id":     next,
		"rotation_token":      nil,
		"rotation_started_at": nil,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func randomSlug() string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, generatedSlugLength)
	for i := range b {
		b[i] = charset[rand.IntN(len(charset))]
	}
	return string(b)
}
