package dynamiclinks

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavite/wavite/pkg/wavite/apperr"
	"github.com/wavite/wavite/pkg/wavite/instances"
	"github.com/wavite/wavite/pkg/wavite/models"
	"github.com/wavite/wavite/pkg/wavite/testutil"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, *Registry, uint, uint) {
	t.Helper()
	db := testutil.NewDB(t)
	acme, _ := testutil.Tenant(t, db, "acme")
	other, _ := testutil.Tenant(t, db, "other")
	testutil.Instance(t, db, acme.ID, "main")
	testutil.Instance(t, db, other.ID, "second")
	return db, NewRegistry(db, instances.NewService(db)), acme.ID, other.ID
}

func promo() CreateInput {
	return CreateInput{Slug: "promo", Name: "Promo", BaseGroupName: "Promo", GroupCapacity: 2, InstanceName: "main"}
}

func TestCreateDynamicLink(t *testing.T) {
	_, reg, tenantID, _ := setup(t)
	ctx := context.Background()

	link, err := reg.CreateDynamicLink(ctx, tenantID, promo())
	require.NoError(t, err)
	assert.Equal(t, "promo", link.Slug)
	assert.Equal(t, 2, link.GroupCapacity)
	assert.Nil(t, link.ActiveGroupID, "the first group is provisioned lazily")

	in := promo()
	in.GroupCapacity = 0
	in.Slug = "defaults"
	link, err = reg.CreateDynamicLink(ctx, tenantID, in)
	require.NoError(t, err)
	assert.Equal(t, 1023, link.GroupCapacity)
}

func TestCreateDynamicLinkGeneratesSlug(t *testing.T) {
	_, reg, tenantID, _ := setup(t)

	in := promo()
	in.Slug = ""
	link, err := reg.CreateDynamicLink(context.Background(), tenantID, in)
	require.NoError(t, err)
	assert.Len(t, link.Slug, generatedSlugLength)
	assert.NoError(t, ValidateSlug(link.Slug))
}

func TestCreateDynamicLinkValidation(t *testing.T) {
	_, reg, tenantID, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateInput)
		status int
	}{
		{"bad slug", func(in *CreateInput) { in.Slug = "has space" }, http.StatusBadRequest},
		{"reserved slug", func(in *CreateInput) { in.Slug = "API" }, http.StatusBadRequest},
		{"missing name", func(in *CreateInput) { in.Name = "" }, http.StatusBadRequest},
		{"missing base name", func(in *CreateInput) { in.BaseGroupName = " " }, http.StatusBadRequest},
		{"missing instance", func(in *CreateInput) { in.InstanceName = "" }, http.StatusBadRequest},
		{"capacity too large", func(in *CreateInput) { in.GroupCapacity = 1024 }, http.StatusBadRequest},
		{"negative capacity", func(in *CreateInput) { in.GroupCapacity = -1 }, http.StatusBadRequest},
		{"foreign instance", func(in *CreateInput) { in.InstanceName = "second" }, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := promo()
			tt.mutate(&in)
			_, err := reg.CreateDynamicLink(ctx, tenantID, in)
			require.Error(t, err)
			assert.Equal(t, tt.status, apperr.Status(err))
		})
	}
}

func TestSlugConflictDoesNotMutate(t *testing.T) {
	db, reg, tenantID, otherID := setup(t)
	ctx := context.Background()

	original, err := reg.CreateDynamicLink(ctx, tenantID, promo())
	require.NoError(t, err)

	// Same slug from another tenant: slugs are global.
	in := CreateInput{Slug: "promo", Name: "Hijack", BaseGroupName: "Hijack", GroupCapacity: 9, InstanceName: "second"}
	_, err = reg.CreateDynamicLink(ctx, otherID, in)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, apperr.Status(err))

	var stored models.DynamicLink
	require.NoError(t, db.Where("slug = ?", "promo").First(&stored).Error)
	assert.Equal(t, original.ID, stored.ID)
	assert.Equal(t, tenantID, stored.TenantID)
	assert.Equal(t, "Promo", stored.BaseGroupName)
	assert.Equal(t, 2, stored.GroupCapacity)
}

func TestConcurrentSlugCreation(t *testing.T) {
	db, reg, tenantID, _ := setup(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = reg.CreateDynamicLink(ctx, tenantID, promo())
		}(i)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Status(err) == http.StatusConflict:
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	var count int64
	db.Model(&models.DynamicLink{}).Where("slug = ?", "promo").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestGetForTenant(t *testing.T) {
	_, reg, tenantID, otherID := setup(t)
	ctx := context.Background()
	link, err := reg.CreateDynamicLink(ctx, tenantID, promo())
	require.NoError(t, err)

	got, err := reg.GetForTenant(ctx, tenantID, link.ID)
	require.NoError(t, err)
	assert.Equal(t, link.Slug, got.Slug)

	_, err = reg.GetForTenant(ctx, otherID, link.ID)
	assert.True(t, apperr.IsNotFound(err))

	_, err = reg.GetBySlug(ctx, "nope")
	assert.True(t, apperr.IsNotFound(err))

	list, err := reg.ListForTenant(ctx, otherID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRotationLeaseAndSwap(t *testing.T) {
	_, reg, tenantID, _ := setup(t)
	ctx := context.Background()
	link, err := reg.CreateDynamicLink(ctx, tenantID, promo())
	require.NoError(t, err)

	won, err := reg.ClaimRotation(ctx, link.ID, nil, "token-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	// A second claimant is refused while the lease is live.
	won, err = reg.ClaimRotation(ctx, link.ID, nil, "token-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	// Only the holder can swap.
	swapped, err := reg.SwapActiveGroup(ctx, link.ID, nil, "group-1", "token-b")
	require.NoError(t, err)
	assert.False(t, swapped)

	swapped, err = reg.SwapActiveGroup(ctx, link.ID, nil, "group-1", "token-a")
	require.NoError(t, err)
	assert.True(t, swapped)

	reloaded, err := reg.GetBySlug(ctx, "promo")
	require.NoError(t, err)
	require.NotNil(t, reloaded.ActiveGroupID)
	assert.Equal(t, "group-1", *reloaded.ActiveGroupID)
	assert.Nil(t, reloaded.RotationToken, "swap releases the lease")

	// A claim against a stale expected pointer fails.
	won, err = reg.ClaimRotation(ctx, link.ID, nil, "token-c", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	expected := "group-1"
	won, err = reg.ClaimRotation(ctx, link.ID, &expected, "token-c", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	require.NoError(t, reg.ReleaseRotation(ctx, link.ID, "token-c"))
	won, err = reg.ClaimRotation(ctx, link.ID, &expected, "token-d", time.Minute)
	require.NoError(t, err)
	assert.True(t, won, "a released lease can be claimed again")
}

func TestExpiredLeaseCanBeTakenOver(t *testing.T) {
	_, reg, tenantID, _ := setup(t)
	ctx := context.Background()
	link, err := reg.CreateDynamicLink(ctx, tenantID, promo())
	require.NoError(t, err)

	won, err := reg.ClaimRotation(ctx, link.ID, nil, "crashed", time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	time.Sleep(20 * time.Millisecond)
	won, err = reg.ClaimRotation(ctx, link.ID, nil, "rescuer", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, won)

	// The crashed holder can no longer complete its swap.
	swapped, err := reg.SwapActiveGroup(ctx, link.ID, nil, "late", "crashed")
	require.NoError(t, err)
	assert.False(t, swapped)
}
