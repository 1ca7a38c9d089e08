package models

import (
	"time"

	"gorm.io/gorm"
)

// TenantRole represents a user's role within a tenant
type TenantRole string

const (
	TenantRoleAdmin  TenantRole = "admin"
	TenantRoleMember TenantRole = "member"
)

// Tenant is the isolation boundary: every group, dynamic link and instance
// belongs to exactly one tenant.
type Tenant struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
	Slug      string         `gorm:"uniqueIndex;not null" json:"slug"`

	// Relationships
	Members   []TenantMembership `gorm:"foreignKey:TenantID" json:"members,omitempty"`
	Instances []Instance         `gorm:"foreignKey:TenantID" json:"instances,omitempty"`
}

// TenantMembership represents the many-to-many relationship between users and tenants.
type TenantMembership struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	TenantID  uint           `gorm:"not null;uniqueIndex:idx_tenant_user" json:"tenant_id"`
	UserID    uint           `gorm:"not null;uniqueIndex:idx_tenant_user" json:"user_id"`
	Role      TenantRole     `gorm:"type:varchar(20);default:'member'" json:"role"`

	// Relationships
	Tenant Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	User   User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
