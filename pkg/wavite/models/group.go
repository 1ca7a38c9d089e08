package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Group is a WhatsApp group created under a tenant's instance.
// Capacity is fixed at creation; only the owning link's setting changes for
// groups created later.
type Group struct {
	ID                  string    `gorm:"primarykey;size:36" json:"id"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
	TenantID            uint      `gorm:"not null;index" json:"tenantId"`
	InstanceName        string    `gorm:"not null;index" json:"instanceName"`
	Name                string    `gorm:"not null" json:"name"`
	JID                 string    `gorm:"column:jid;uniqueIndex;not null" json:"jid"`
	InviteCode          string    `json:"inviteCode"`
	InviteLink          string    `json:"inviteLink"`
	CurrentParticipants int       `gorm:"not null;default:0" json:"currentParticipants"`
	Capacity            int       `gorm:"not null" json:"capacity"`
	DynamicLinkID       *string   `gorm:"size:36;index" json:"dynamicLinkId"`
}

// BeforeCreate assigns the opaque identifier.
func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// HasCapacity reports whether the group can take another participant.
func (g *Group) HasCapacity() bool {
	return g.CurrentParticipants < g.Capacity
}
