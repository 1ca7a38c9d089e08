package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/wavite/wavite/pkg/wavite/config"
	"github.com/wavite/wavite/pkg/wavite/models"
	"github.com/wavite/wavite/pkg/wavite/testutil"
	"github.com/wavite/wavite/pkg/wavite/whatsapp"
	"github.com/wavite/wavite/pkg/wavite/whatsapp/whatsapptest"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	fake   *whatsapptest.Provider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Environment:          "test",
		BaseURL:              "http://wa.test",
		JWTSecret:            "test-secret",
		JWTExpiry:            time.Hour,
		WebhookSecret:        "hook-secret",
		AdminEmail:           "root@example.com",
		AdminPassword:        "rootpassword",
		DefaultGroupCapacity: config.DefaultGroupCapacity,
		RotationLiveCheck:    true,
		LiveCheckTimeout:     3 * time.Second,
		RotationLease:        time.Minute,
		ProvisionTimeout:     5 * time.Second,
		BroadcastConcurrency: 4,
	}
	ts := &testServer{db: testutil.NewDB(t), fake: whatsapptest.New()}

	app := fxtest.New(t,
		fx.Supply(cfg, zap.NewNop(), ts.db),
		fx.Provide(func() whatsapp.Provider { return ts.fake }),
		Core,
		fx.Populate(&ts.router),
		fx.NopLogger,
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)
	return ts
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	return resp
}

func (ts *testServer) register(t *testing.T, email string) string {
	t.Helper()
	resp := ts.do("POST", "/api/auth/register", "", map[string]string{
		"email": email, "password": "password123", "name": "Owner",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	return gjson.Get(resp.Body.String(), "token").String()
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", gjson.Get(resp.Body.String(), "status").String())
}

func TestPromoScenario(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "owner@example.com")

	resp := ts.do("POST", "/api/instances", token, map[string]string{"name": "main"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = ts.do("POST", "/api/groups/dynamic-link", token, map[string]any{
		"slug": "promo", "name": "Promo", "baseGroupName": "Promo", "groupCapacity": 2, "instanceName": "main",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, "http://wa.test/invite/promo", gjson.Get(resp.Body.String(), "publicUrl").String())

	resp = ts.do("POST", "/api/groups/dynamic-link", token, map[string]any{
		"slug": "promo", "name": "Again", "baseGroupName": "Again", "instanceName": "main",
	})
	assert.Equal(t, http.StatusConflict, resp.Code)

	// First visit provisions "Promo #1".
	resp = ts.do("GET", "/invite/promo", "", nil)
	require.Equal(t, http.StatusFound, resp.Code, resp.Body.String())
	first := resp.Header().Get("Location")
	assert.Equal(t, whatsapp.InviteURLPrefix+"INV00001", first)

	resp = ts.do("GET", "/invite/promo", "", nil)
	assert.Equal(t, first, resp.Header().Get("Location"))

	resp = ts.do("GET", "/api/groups", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "1", resp.Header().Get("X-Total-Count"))
	jid := gjson.Get(resp.Body.String(), "0.jid").String()
	assert.Equal(t, "Promo #1", gjson.Get(resp.Body.String(), "0.name").String())

	// Two people join; the group is full and the next visit rotates.
	webhook := map[string]any{
		"event": "group-participants.update",
		"data":  map[string]any{"id": jid, "action": "add", "participants": []string{"a", "b"}},
	}
	resp = ts.do("POST", "/api/webhooks/evolution?token=hook-secret", "", webhook)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	ts.fake.SetParticipants(jid, 2)

	resp = ts.do("GET", "/invite/promo", "", nil)
	require.Equal(t, http.StatusFound, resp.Code)
	second := resp.Header().Get("Location")
	assert.Equal(t, whatsapp.InviteURLPrefix+"INV00002", second)
	assert.Equal(t, []string{"Promo #1", "Promo #2"}, ts.fake.Subjects("main"))

	resp = ts.do("GET", "/api/groups/dynamic-links", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	linkID := gjson.Get(resp.Body.String(), "0.id").String()

	resp = ts.do("POST", "/api/groups/dynamic-link/"+linkID+"/sync", token, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, second, gjson.Get(resp.Body.String(), "inviteLink").String())

	// Broadcast reaches both groups.
	resp = ts.do("GET", "/api/groups?dynamicLinkId="+linkID, token, nil)
	jids := []string{}
	for _, g := range gjson.Get(resp.Body.String(), "#.jid").Array() {
		jids = append(jids, g.String())
	}
	require.Len(t, jids, 2)

	resp = ts.do("POST", "/api/groups/broadcast", token, map[string]any{
		"instanceName": "main", "groupJids": jids, "message": "Welcome!",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	for _, r := range gjson.Parse(resp.Body.String()).Array() {
		assert.True(t, r.Get("success").Bool(), r.Raw)
	}
	assert.Len(t, ts.fake.Sent(), 2)
}

func TestUnknownSlugAndTenantIsolation(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.register(t, "owner@example.com")
	intruder := ts.register(t, "intruder@example.com")

	resp := ts.do("GET", "/invite/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "link invalid or not found", resp.Body.String())

	require.Equal(t, http.StatusCreated, ts.do("POST", "/api/instances", owner, map[string]string{"name": "main"}).Code)

	resp = ts.do("POST", "/api/groups", intruder, map[string]any{"groupName": "Hijack", "instanceName": "main"})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.do("POST", "/api/groups", "", map[string]any{"groupName": "Anon", "instanceName": "main"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Zero(t, ts.fake.CreateCalls())
}

func TestSeededAdmin(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "owner@example.com")

	var admin models.User
	require.NoError(t, ts.db.Where("email = ?", "root@example.com").First(&admin).Error)
	assert.Equal(t, models.SystemRoleAdmin, admin.SystemRole)

	resp := ts.do("POST", "/api/auth/login", "", map[string]string{"email": "root@example.com", "password": "rootpassword"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	token := gjson.Get(resp.Body.String(), "token").String()

	resp = ts.do("GET", "/api/admin/stats", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(2), gjson.Get(resp.Body.String(), "total_users").Int())
	assert.Equal(t, int64(1), gjson.Get(resp.Body.String(), "total_tenants").Int())
}
