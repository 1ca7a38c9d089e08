package models

import "time"

// Instance is a WhatsApp session on the Evolution server. Instance names are
// global on that server, so they are unique here too.
type Instance struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	TenantID    uint      `gorm:"not null;index" json:"tenantId"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `json:"description"`
}
