package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DynamicLink maps a public slug onto whichever group currently takes new
// members. ActiveGroupID is only moved by the rotation engine, through a
// conditional update guarded by the rotation lease.
type DynamicLink struct {
	ID            string    `gorm:"primarykey;size:36" json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	TenantID      uint      `gorm:"not null;index" json:"tenantId"`
	Slug          string    `gorm:"uniqueIndex;not null" json:"slug"`
	Name          string    `gorm:"not null" json:"name"`
	BaseGroupName string    `gorm:"not null" json:"baseGroupName"`
	GroupCapacity int       `gorm:"not null" json:"groupCapacity"`
	InstanceName  string    `gorm:"not null" json:"instanceName"`
	ActiveGroupID *string   `gorm:"size:36" json:"activeGroupId"`

	RotationToken     *string    `gorm:"size:36" json:"-"`
	RotationStartedAt *time.Time `json:"-"`
}

// BeforeCreate assigns the opaque identifier.
func (l *DynamicLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
