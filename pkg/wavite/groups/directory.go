// Package groups is the directory of WhatsApp groups created under each
// tenant. Rows are only written after the provider has created the group.
package groups

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/wavite/wavite/pkg/wavite/apperr"
	"github.com/wavite/wavite/pkg/wavite/instances"
	"github.com/wavite/wavite/pkg/wavite/models"
	"github.com/wavite/wavite/pkg/wavite/whatsapp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultPageSize is used when a list request gives no limit.
	DefaultPageSize = 50
	// MaxPageSize caps the limit a list request may ask for.
	MaxPageSize = 200
)

// CreateGroupInput describes a group to provision.
type CreateGroupInput struct {
	InstanceName  string
	GroupName     string
	Participants  []string
	DynamicLinkID *string
}

// ListOptions filters and paginates ListGroups. Zero values mean no filter.
type ListOptions struct {
	Page          int
	Limit         int
	InstanceName  string
	DynamicLinkID string
}

// SyncResult summarises one reconciliation run.
type SyncResult struct {
	InstanceName string `json:"instanceName"`
	Fetched      int    `json:"fetched"`
	Updated      int    `json:"updated"`
	Imported     int    `json:"imported"`
	Skipped      int    `json:"skipped"`
	// Errors lists rows that could not be reconciled.
	Errors []string `json:"errors,omitempty"`
}

// Directory stores groups and keeps their participant counters.
type Directory struct {
	db              *gorm.DB
	provider        whatsapp.Provider
	instances       *instances.Service
	defaultCapacity int
	log             *zap.Logger
}

// NewDirectory creates a group directory.
func NewDirectory(db *gorm.DB, provider whatsapp.Provider, inst *instances.Service, defaultCapacity int, log *zap.Logger) *Directory {
	return &Directory{
		db:              db,
		provider:        provider,
		instances:       inst,
		defaultCapacity: defaultCapacity,
		log:             log.Named("groups"),
	}
}

// CreateGroup provisions a group on the provider, fetches its invite code
// and persists it. A provider failure leaves no row behind.
func (d *Directory) CreateGroup(ctx context.Context, tenantID uint, in CreateGroupInput) (*models.Group, error) {
	in.GroupName = strings.TrimSpace(in.GroupName)
	if in.GroupName == "" {
		return nil, apperr.Validation("groupName is required")
	}
	if strings.TrimSpace(in.InstanceName) == "" {
		return nil, apperr.Validation("instanceName is required")
	}
	if _, err := d.instances.Require(ctx, tenantID, in.InstanceName); err != nil {
		return nil, err
	}

	capacity := d.defaultCapacity
	if in.DynamicLinkID != nil {
		var link models.DynamicLink
		err := d.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", *in.DynamicLinkID, tenantID).First(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("dynamic link")
		}
		if err != nil {
			return nil, err
		}
		capacity = link.GroupCapacity
	}
	if len(in.Participants) > capacity {
		return nil, apperr.Validation("%d participants exceed the group capacity of %d", len(in.Participants), capacity)
	}

	participants, err := normalizeParticipants(in.Participants)
	if err != nil {
		return nil, err
	}

	jid, err := d.provider.CreateGroup(ctx, in.InstanceName, whatsapp.CreateGroupRequest{
		Subject:      in.GroupName,
		Participants: participants,
	})
	if err != nil {
		return nil, apperr.Upstream("create group", err)
	}
	invite, err := d.provider.InviteCode(ctx, in.InstanceName, jid)
	if err != nil {
		d.log.Warn("group created without invite code", zap.String("jid", jid), zap.Error(err))
		return nil, apperr.Upstream("fetch invite code", err)
	}

	group := models.Group{
		TenantID:            tenantID,
		InstanceName:        in.InstanceName,
		Name:                in.GroupName,
		JID:                 jid,
		InviteCode:          invite.Code,
		InviteLink:          invite.Link,
		CurrentParticipants: len(participants),
		Capacity:            capacity,
		DynamicLinkID:       in.DynamicLinkID,
	}
	if err := d.db.WithContext(ctx).Create(&group).Error; err != nil {
		d.log.Error("failed to persist provisioned group", zap.String("jid", jid), zap.Uint("tenant_id", tenantID), zap.Error(err))
		return nil, fmt.Errorf("persist group %s: %w", jid, err)
	}

	d.log.Info("group created",
		zap.Uint("tenant_id", tenantID),
		zap.String("group_id", group.ID),
		zap.String("jid", jid),
		zap.String("instance", in.InstanceName),
		zap.Int("capacity", capacity),
	)
	return &group, nil
}

// AddParticipants adds people to one of the tenant's groups on the provider
// and raises the stored counter. The request is refused when the group
// lacks room for all of them.
func (d *Directory) AddParticipants(ctx context.Context, tenantID uint, groupID string, numbers []string) (*models.Group, error) {
	if len(numbers) == 0 {
		return nil, apperr.Validation("participants are required")
	}
	participants, err := normalizeParticipants(numbers)
	if err != nil {
		return nil, err
	}

	g, err := d.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.TenantID != tenantID {
		return nil, apperr.Forbidden("group")
	}
	if free := g.Capacity - g.CurrentParticipants; len(participants) > free {
		return nil, apperr.Conflict("group %q has room for %d more participants", g.Name, max(free, 0))
	}

	if err := d.provider.AddParticipants(ctx, g.InstanceName, g.JID, participants); err != nil {
		return nil, apperr.Upstream("add participants", err)
	}
	err = d.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", g.ID).
		Update("current_participants", gorm.Expr("current_participants + ?", len(participants))).Error
	if err != nil {
		return nil, err
	}

	d.log.Info("participants added",
		zap.Uint("tenant_id", tenantID),
		zap.String("group_id", g.ID),
		zap.Int("added", len(participants)),
	)
	return d.Get(ctx, g.ID)
}

func normalizeParticipants(numbers []string) ([]string, error) {
	out := make([]string, 0, len(numbers))
	for _, p := range numbers {
		jid, err := whatsapp.NormalizeParticipant(p)
		if err != nil {
			return nil, apperr.Validation("%v", err)
		}
		out = append(out, jid)
	}
	return out, nil
}

// ListGroups returns the tenant's groups, newest first, with the total count
// before pagination.
func (d *Directory) ListGroups(ctx context.Context, tenantID uint, opts ListOptions) ([]models.Group, int64, error) {
	query := d.db.WithContext(ctx).Model(&models.Group{}).Where("tenant_id = ?", tenantID)
	if opts.InstanceName != "" {
		query = query.Where("instance_name = ?", opts.InstanceName)
	}
	if opts.DynamicLinkID != "" {
		query = query.Where("dynamic_link_id = ?", opts.DynamicLinkID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}

	var out []models.Group
	err := query.Order("created_at DESC").Order("id ASC").Limit(limit).Offset((page - 1) * limit).Find(&out).Error
	return out, total, err
}

// Get loads a group by id.
func (d *Directory) Get(ctx context.Context, id string) (*models.Group, error) {
	var g models.Group
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("group")
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetByJID loads a tenant's group by its provider identifier.
func (d *Directory) GetByJID(ctx context.Context, tenantID uint, jid string) (*models.Group, error) {
	var g models.Group
	err := d.db.WithContext(ctx).Where("jid = ? AND tenant_id = ?", jid, tenantID).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("group")
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// OwnedJIDs reports which of the given JIDs belong to groups of the tenant
// on the instance.
func (d *Directory) OwnedJIDs(ctx context.Context, tenantID uint, instanceName string, jids []string) (map[string]bool, error) {
	var found []string
	err := d.db.WithContext(ctx).Model(&models.Group{}).
		Where("tenant_id = ? AND instance_name = ? AND jid IN ?", tenantID, instanceName, jids).
		Pluck("jid", &found).Error
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(found))
	for _, jid := range found {
		owned[jid] = true
	}
	return owned, nil
}

// CountForLink counts the groups a dynamic link has spawned.
func (d *Directory) CountForLink(ctx context.Context, linkID string) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&models.Group{}).Where("dynamic_link_id = ?", linkID).Count(&n).Error
	return n, err
}

// FindSpare returns the oldest group spawned by the link that still has room
// and is not the excluded (current) group, or nil.
func (d *Directory) FindSpare(ctx context.Context, link *models.DynamicLink, exclude *string) (*models.Group, error) {
	query := d.db.WithContext(ctx).
		Where("dynamic_link_id = ? AND tenant_id = ?", link.ID, link.TenantID).
		Where("current_participants < capacity")
	if exclude != nil {
		query = query.Where("id <> ?", *exclude)
	}
	var g models.Group
	err := query.Order("created_at ASC").First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// SetParticipants overwrites a group's counter with a fresh snapshot.
func (d *Directory) SetParticipants(ctx context.Context, groupID string, count int) error {
	if count < 0 {
		count = 0
	}
	return d.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", groupID).
		Update("current_participants", count).Error
}

// AdjustParticipantsByJID applies a join/leave delta atomically, clamped at
// zero. It reports false when no group has that JID.
func (d *Directory) AdjustParticipantsByJID(ctx context.Context, jid string, delta int) (bool, error) {
	res := d.db.WithContext(ctx).Model(&models.Group{}).Where("jid = ?", jid).
		Update("current_participants", gorm.Expr(
			"CASE WHEN current_participants + ? < 0 THEN 0 ELSE current_participants + ? END", delta, delta))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RefreshInvite asks the provider for the group's current invite code and
// stores it.
func (d *Directory) RefreshInvite(ctx context.Context, g *models.Group) error {
	invite, err := d.provider.InviteCode(ctx, g.InstanceName, g.JID)
	if err != nil {
		return apperr.Upstream("fetch invite code", err)
	}
	err = d.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", g.ID).
		Updates(map[string]any{"invite_code": invite.Code, "invite_link": invite.Link}).Error
	if err != nil {
		return err
	}
	g.InviteCode = invite.Code
	g.InviteLink = invite.Link
	return nil
}

// SyncGroupsFromEvolution overwrites local participant counters with the
// provider's live state for every group on the instance. Groups the tenant
// does not know yet are imported without a dynamic link. Row failures are
// collected and do not stop the run. It never rotates links.
func (d *Directory) SyncGroupsFromEvolution(ctx context.Context, tenantID uint, instanceName string) (*SyncResult, error) {
	if strings.TrimSpace(instanceName) == "" {
		return nil, apperr.Validation("instanceName is required")
	}
	if _, err := d.instances.Require(ctx, tenantID, instanceName); err != nil {
		return nil, err
	}

	live, err := d.provider.FetchGroups(ctx, instanceName)
	if err != nil {
		return nil, apperr.Upstream("fetch groups", err)
	}

	result := &SyncResult{InstanceName: instanceName, Fetched: len(live)}
	var errs *multierror.Error
	for _, info := range live {
		var existing models.Group
		err := d.db.WithContext(ctx).Where("jid = ?", info.JID).First(&existing).Error
		switch {
		case err == nil && existing.TenantID != tenantID:
			result.Skipped++
		case err == nil:
			if err := d.SetParticipants(ctx, existing.ID, info.Participants); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("update %s: %w", info.JID, err))
				continue
			}
			result.Updated++
		case errors.Is(err, gorm.ErrRecordNotFound):
			name := info.Subject
			if name == "" {
				name = info.JID
			}
			imported := models.Group{
				TenantID:            tenantID,
				InstanceName:        instanceName,
				Name:                name,
				JID:                 info.JID,
				CurrentParticipants: info.Participants,
				Capacity:            d.defaultCapacity,
			}
			if err := d.db.WithContext(ctx).Create(&imported).Error; err != nil {
				errs = multierror.Append(errs, fmt.Errorf("import %s: %w", info.JID, err))
				continue
			}
			result.Imported++
		default:
			errs = multierror.Append(errs, fmt.Errorf("load %s: %w", info.JID, err))
		}
	}

	d.log.Info("groups synced",
		zap.Uint("tenant_id", tenantID),
		zap.String("instance", instanceName),
		zap.Int("fetched", result.Fetched),
		zap.Int("updated", result.Updated),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	if errs != nil {
		for _, e := range errs.Errors {
			result.Errors = append(result.Errors, e.Error())
		}
	}
	return result, errs.ErrorOrNil()
}
