package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/auth"
	"github.com/wavite/wavite/pkg/wavite/models"
	"github.com/wavite/wavite/pkg/wavite/testutil"
	"gorm.io/gorm"
)

func setupTestRouter(h *Handler, adminID uint) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	rg := r.Group("/admin", func(c *gin.Context) {
		auth.SetUser(c, adminID, "root@example.com", string(models.SystemRoleAdmin))
		c.Next()
	}, auth.RequireAdmin())
	h.RegisterRoutes(rg)
	return r
}

func createTestUser(t *testing.T, db *gorm.DB, email, name string, role models.SystemRole) *models.User {
	hashedPassword, _ := auth.HashPassword("password123")
	user := &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: hashedPassword,
		SystemRole:   role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

func userPath(id uint) string {
	return fmt.Sprintf("/admin/users/%d", id)
}

func TestListUsers(t *testing.T) {
	db := testutil.NewDB(t)
	admin := createTestUser(t, db, "root@example.com", "Root", models.SystemRoleAdmin)
	testutil.Tenant(t, db, "acme")
	testutil.Tenant(t, db, "other")
	r := setupTestRouter(NewHandler(db), admin.ID)

	req := httptest.NewRequest("GET", "/admin/users", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var users []UserResponse
	if err := json.Unmarshal(w.Body.Bytes(), &users); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(users) != 3 {
		t.Errorf("Expected 3 users, got %d", len(users))
	}

	req = httptest.NewRequest("GET", "/admin/users?q=acme", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	json.Unmarshal(w.Body.Bytes(), &users)
	if len(users) != 1 || users[0].TenantCount != 1 {
		t.Errorf("Expected 1 matching user with 1 tenant, got %+v", users)
	}

	req = httptest.NewRequest("GET", "/admin/users?role=admin", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	json.Unmarshal(w.Body.Bytes(), &users)
	if len(users) != 1 || users[0].ID != admin.ID {
		t.Errorf("Expected only the admin, got %+v", users)
	}
}

func TestRequireAdmin(t *testing.T) {
	db := testutil.NewDB(t)
	user := createTestUser(t, db, "user@example.com", "User", models.SystemRoleUser)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	rg := r.Group("/admin", func(c *gin.Context) {
		auth.SetUser(c, user.ID, user.Email, string(user.SystemRole))
		c.Next()
	}, auth.RequireAdmin())
	NewHandler(db).RegisterRoutes(rg)

	req := httptest.NewRequest("GET", "/admin/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestUpdateUser(t *testing.T) {
	db := testutil.NewDB(t)
	admin := createTestUser(t, db, "root@example.com", "Root", models.SystemRoleAdmin)
	user := createTestUser(t, db, "user@example.com", "User", models.SystemRoleUser)
	r := setupTestRouter(NewHandler(db), admin.ID)

	newName := "Updated Name"
	newRole := "admin"
	body, _ := json.Marshal(UpdateUserRequest{Name: &newName, SystemRole: &newRole})

	req := httptest.NewRequest("PUT", userPath(user.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UserResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Name != newName {
		t.Errorf("Expected name %s, got %s", newName, resp.Name)
	}
	if resp.SystemRole != newRole {
		t.Errorf("Expected role %s, got %s", newRole, resp.SystemRole)
	}

	badRole := "owner"
	body, _ = json.Marshal(UpdateUserRequest{SystemRole: &badRole})
	req = httptest.NewRequest("PUT", userPath(user.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid role, got %d", w.Code)
	}
}

func TestUpdateUserCannotDemoteSelf(t *testing.T) {
	db := testutil.NewDB(t)
	admin := createTestUser(t, db, "root@example.com", "Root", models.SystemRoleAdmin)
	r := setupTestRouter(NewHandler(db), admin.ID)

	newRole := "user"
	body, _ := json.Marshal(UpdateUserRequest{SystemRole: &newRole})

	req := httptest.NewRequest("PUT", userPath(admin.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestDeleteUser(t *testing.T) {
	db := testutil.NewDB(t)
	admin := createTestUser(t, db, "root@example.com", "Root", models.SystemRoleAdmin)
	tenant, user := testutil.Tenant(t, db, "acme")
	db.Create(&models.APIKey{UserID: user.ID, TenantID: tenant.ID, KeyHash: "hash", KeyPrefix: "wav_abcd"})
	r := setupTestRouter(NewHandler(db), admin.ID)

	req := httptest.NewRequest("DELETE", userPath(user.ID), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var count int64
	db.Model(&models.User{}).Where("id = ?", user.ID).Count(&count)
	if count != 0 {
		t.Error("Expected user to be deleted")
	}
	db.Model(&models.APIKey{}).Where("user_id = ?", user.ID).Count(&count)
	if count != 0 {
		t.Error("Expected API keys to be deleted")
	}
	db.Model(&models.Tenant{}).Where("id = ?", tenant.ID).Count(&count)
	if count != 1 {
		t.Error("Expected tenant to survive")
	}

	req = httptest.NewRequest("DELETE", userPath(admin.ID), nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 deleting self, got %d", w.Code)
	}
}

func TestGetStats(t *testing.T) {
	db := testutil.NewDB(t)
	admin := createTestUser(t, db, "root@example.com", "Root", models.SystemRoleAdmin)
	acme, _ := testutil.Tenant(t, db, "acme")
	other, _ := testutil.Tenant(t, db, "other")
	testutil.Instance(t, db, acme.ID, "main")
	testutil.Instance(t, db, other.ID, "second")
	testutil.Group(t, db, acme.ID, "main", 1, 2, 2)
	testutil.Group(t, db, acme.ID, "main", 2, 1, 2)
	testutil.Group(t, db, other.ID, "second", 1, 7, 100)
	db.Create(&models.DynamicLink{TenantID: acme.ID, Slug: "promo", Name: "Promo", BaseGroupName: "Promo", GroupCapacity: 2, InstanceName: "main"})
	r := setupTestRouter(NewHandler(db), admin.ID)

	req := httptest.NewRequest("GET", "/admin/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats StatsResponse
	json.Unmarshal(w.Body.Bytes(), &stats)

	checks := []struct {
		name      string
		got, want int64
	}{
		{"tenants", stats.TotalTenants, 2},
		{"users", stats.TotalUsers, 3},
		{"admins", stats.AdminUsers, 1},
		{"instances", stats.TotalInstances, 2},
		{"groups", stats.TotalGroups, 3},
		{"full groups", stats.FullGroups, 1},
		{"dynamic links", stats.TotalDynamicLinks, 1},
		{"participants", stats.TotalParticipants, 10},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("Expected %d %s, got %d", c.want, c.name, c.got)
		}
	}
}
