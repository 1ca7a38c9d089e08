// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/wavite/wavite/pkg/wavite/database"
	"github.com/wavite/wavite/pkg/wavite/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewDB returns a migrated in-memory SQLite database. All goroutines of a
// test share it because the pool holds a single connection.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	return NewDBWithLogger(t, zap.NewNop())
}

// NewDBWithLogger is NewDB with gorm's messages sent to log.
func NewDBWithLogger(t testing.TB, log *zap.Logger) *gorm.DB {
	t.Helper()
	db, err := database.Connect("sqlite", ":memory:", log)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })
	return db
}

// Tenant creates a tenant with one admin user and returns both.
func Tenant(t testing.TB, db *gorm.DB, slug string) (models.Tenant, models.User) {
	t.Helper()
	tenant := models.Tenant{Name: slug, Slug: slug}
	if err := db.Create(&tenant).Error; err != nil {
		t.Fatalf("Failed to create tenant: %v", err)
	}
	user := models.User{Email: slug + "@example.com", Name: slug, SystemRole: models.SystemRoleUser}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	membership := models.TenantMembership{TenantID: tenant.ID, UserID: user.ID, Role: models.TenantRoleAdmin}
	if err := db.Create(&membership).Error; err != nil {
		t.Fatalf("Failed to create membership: %v", err)
	}
	return tenant, user
}

// Instance registers an Evolution instance for the tenant.
func Instance(t testing.TB, db *gorm.DB, tenantID uint, name string) models.Instance {
	t.Helper()
	inst := models.Instance{TenantID: tenantID, Name: name}
	if err := db.Create(&inst).Error; err != nil {
		t.Fatalf("Failed to create instance: %v", err)
	}
	return inst
}

// Group inserts a group row directly, bypassing the provider.
func Group(t testing.TB, db *gorm.DB, tenantID uint, instance string, n, participants, capacity int) models.Group {
	t.Helper()
	g := models.Group{
		TenantID:            tenantID,
		InstanceName:        instance,
		Name:                fmt.Sprintf("Group %d", n),
		JID:                 fmt.Sprintf("%s-%d@g.us", instance, n),
		InviteCode:          fmt.Sprintf("code%d", n),
		InviteLink:          fmt.Sprintf("https://chat.whatsapp.com/code%d", n),
		CurrentParticipants: participants,
		Capacity:            capacity,
	}
	if err := db.Create(&g).Error; err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	return g
}
