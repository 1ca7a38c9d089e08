package tenants

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/auth"
	"github.com/wavite/wavite/pkg/wavite/models"
	"github.com/wavite/wavite/pkg/wavite/testutil"
	"gorm.io/gorm"
)

var tokens = auth.NewTokens("test-secret", time.Hour)

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", auth.AuthMiddleware(tokens), auth.TenantMiddleware(db))
	NewHandler(db).RegisterRoutes(api)
	return r
}

func doJSON(router *gin.Engine, method, path string, body any, user models.User) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	token, _ := tokens.Generate(user.ID, user.Email, string(user.SystemRole))
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestListAndCurrent(t *testing.T) {
	db := testutil.NewDB(t)
	acme, owner := testutil.Tenant(t, db, "acme")
	router := setupTestRouter(db)

	resp := doJSON(router, "GET", "/api/tenants", nil, owner)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}
	var list []TenantResponse
	json.Unmarshal(resp.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ID != acme.ID || list[0].Role != "admin" {
		t.Errorf("Unexpected tenants: %+v", list)
	}

	resp = doJSON(router, "GET", "/api/tenant", nil, owner)
	var current TenantResponse
	json.Unmarshal(resp.Body.Bytes(), &current)
	if current.Slug != "acme" || current.MemberCount != 1 {
		t.Errorf("Unexpected current tenant: %+v", current)
	}

	resp = doJSON(router, "PUT", "/api/tenant", UpdateTenantRequest{Name: "Acme Inc"}, owner)
	json.Unmarshal(resp.Body.Bytes(), &current)
	if resp.Code != http.StatusOK || current.Name != "Acme Inc" {
		t.Errorf("Expected rename to succeed, got %d %+v", resp.Code, current)
	}
}

func TestMemberLifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	_, owner := testutil.Tenant(t, db, "acme")
	_, outsider := testutil.Tenant(t, db, "other")
	router := setupTestRouter(db)

	resp := doJSON(router, "POST", "/api/tenant/members", AddMemberRequest{Email: outsider.Email, Role: "member"}, owner)
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(router, "POST", "/api/tenant/members", AddMemberRequest{Email: outsider.Email, Role: "member"}, owner)
	if resp.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate member, got %d", resp.Code)
	}

	resp = doJSON(router, "POST", "/api/tenant/members", AddMemberRequest{Email: "ghost@example.com", Role: "member"}, owner)
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown user, got %d", resp.Code)
	}

	resp = doJSON(router, "GET", "/api/tenant/members", nil, owner)
	var members []MemberResponse
	json.Unmarshal(resp.Body.Bytes(), &members)
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}

	memberPath := fmt.Sprintf("/api/tenant/members/%d", outsider.ID)
	resp = doJSON(router, "PUT", memberPath, UpdateMemberRequest{Role: "admin"}, owner)
	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200 promoting member, got %d", resp.Code)
	}

	resp = doJSON(router, "DELETE", memberPath, nil, owner)
	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200 removing member, got %d", resp.Code)
	}

	resp = doJSON(router, "POST", "/api/tenant/members", AddMemberRequest{Email: outsider.Email, Role: "member"}, owner)
	if resp.Code != http.StatusCreated {
		t.Errorf("Expected removed member to be re-addable, got %d", resp.Code)
	}
}

func TestOnlyAdminProtection(t *testing.T) {
	db := testutil.NewDB(t)
	_, owner := testutil.Tenant(t, db, "acme")
	router := setupTestRouter(db)

	ownerPath := fmt.Sprintf("/api/tenant/members/%d", owner.ID)
	resp := doJSON(router, "PUT", ownerPath, UpdateMemberRequest{Role: "member"}, owner)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 demoting only admin, got %d", resp.Code)
	}

	resp = doJSON(router, "DELETE", ownerPath, nil, owner)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 removing only admin, got %d", resp.Code)
	}
}

func TestMembersCannotManage(t *testing.T) {
	db := testutil.NewDB(t)
	acme, owner := testutil.Tenant(t, db, "acme")
	member := models.User{Email: "member@example.com", Name: "Member", SystemRole: models.SystemRoleUser}
	db.Create(&member)
	db.Create(&models.TenantMembership{TenantID: acme.ID, UserID: member.ID, Role: models.TenantRoleMember})
	router := setupTestRouter(db)

	resp := doJSON(router, "POST", "/api/tenant/members", AddMemberRequest{Email: "x@example.com", Role: "member"}, member)
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 adding as member, got %d", resp.Code)
	}

	resp = doJSON(router, "DELETE", fmt.Sprintf("/api/tenant/members/%d", owner.ID), nil, member)
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 removing admin as member, got %d", resp.Code)
	}

	resp = doJSON(router, "DELETE", fmt.Sprintf("/api/tenant/members/%d", member.ID), nil, member)
	if resp.Code != http.StatusOK {
		t.Errorf("Expected member to be able to leave, got %d", resp.Code)
	}
}
