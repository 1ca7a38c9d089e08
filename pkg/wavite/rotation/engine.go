// Package rotation decides which group a dynamic link hands out and rotates
// to a fresh group when the active one is full.
//
// Mutual exclusion is a lease stored on the link row. A caller claims it with
// a conditional update that only succeeds while the active pointer still
// equals the value it read and no unexpired lease is held. Only the lease
// holder provisions; it then moves the pointer with a second conditional
// update. Everyone else waits for the pointer to move and re-reads it. The
// lease lives in the database so the guarantee holds across processes;
// singleflight additionally collapses callers inside one process.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/wavite/wavite/pkg/wavite/apperr"
	"github.com/wavite/wavite/pkg/wavite/dynamiclinks"
	"github.com/wavite/wavite/pkg/wavite/groups"
	"github.com/wavite/wavite/pkg/wavite/models"
	"github.com/wavite/wavite/pkg/wavite/whatsapp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// errLostRace means another caller is rotating or has rotated the link; the
// caller re-reads the link and tries again.
var errLostRace = errors.New("rotation in progress elsewhere")

// Options tunes the engine. Zero values take the defaults in brackets.
type Options struct {
	// LiveCheck asks the provider for the active group's participant count
	// before each hand-out.
	LiveCheck bool
	// LiveCheckTimeout bounds that provider call [3s].
	LiveCheckTimeout time.Duration
	// LeaseTTL is how long a rotation lease is honoured [60s].
	LeaseTTL time.Duration
	// ProvisionTimeout bounds group creation [30s].
	ProvisionTimeout time.Duration
	// MaxAttempts bounds re-reads after losing a race [5].
	MaxAttempts int
	// SwapRetries bounds retries of the pointer update [5].
	SwapRetries uint64
	// SwapTimeout bounds the time spent retrying the pointer update [5s].
	SwapTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.LiveCheckTimeout <= 0 {
		o.LiveCheckTimeout = 3 * time.Second
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 60 * time.Second
	}
	if o.ProvisionTimeout <= 0 {
		o.ProvisionTimeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.SwapRetries == 0 {
		o.SwapRetries = 5
	}
	if o.SwapTimeout <= 0 {
		o.SwapTimeout = 5 * time.Second
	}
}

// Engine resolves slugs to invite links.
type Engine struct {
	registry *dynamiclinks.Registry
	dir      *groups.Directory
	provider whatsapp.Provider
	opts     Options
	log      *zap.Logger
	flight   singleflight.Group
}

// NewEngine creates a rotation engine.
func NewEngine(registry *dynamiclinks.Registry, dir *groups.Directory, provider whatsapp.Provider, opts Options, log *zap.Logger) *Engine {
	opts.setDefaults()
	return &Engine{
		registry: registry,
		dir:      dir,
		provider: provider,
		opts:     opts,
		log:      log.Named("rotation"),
	}
}

// GetRedirectLink returns an invite link for a group of the slug's dynamic
// link that had room at hand-out time, rotating first when needed.
//
// The work is detached from ctx: if the caller goes away mid-rotation the
// rotation still finishes and the next visitor benefits from it. The caller
// itself stops waiting when ctx ends.
func (e *Engine) GetRedirectLink(ctx context.Context, slug string) (string, error) {
	ch := e.flight.DoChan(slug, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.LeaseTTL+e.opts.ProvisionTimeout)
		defer cancel()
		return e.resolve(rctx, slug)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Sync reconciles the link's instance with the provider and then runs the
// capacity check, so the link is ready for the next visitor.
func (e *Engine) Sync(ctx context.Context, tenantID uint, linkID string) (*models.DynamicLink, string, error) {
	link, err := e.registry.GetForTenant(ctx, tenantID, linkID)
	if err != nil {
		return nil, "", err
	}

	result, err := e.dir.SyncGroupsFromEvolution(ctx, tenantID, link.InstanceName)
	if result == nil {
		return nil, "", err
	}
	if err != nil {
		e.log.Warn("partial sync before rotation check", zap.String("slug", link.Slug), zap.Error(err))
	}

	invite, err := e.GetRedirectLink(ctx, link.Slug)
	if err != nil {
		return nil, "", err
	}

	link, err = e.registry.GetForTenant(ctx, tenantID, linkID)
	if err != nil {
		return nil, "", err
	}
	return link, invite, nil
}

func (e *Engine) resolve(ctx context.Context, slug string) (string, error) {
	for attempt := 1; ; attempt++ {
		link, err := e.registry.GetBySlug(ctx, slug)
		if err != nil {
			return "", err
		}

		invite, err := e.ensureActive(ctx, link)
		if !errors.Is(err, errLostRace) {
			return invite, err
		}
		if attempt >= e.opts.MaxAttempts {
			return "", fmt.Errorf("rotation of %q did not settle after %d attempts", slug, attempt)
		}
	}
}

// ensureActive hands out the active group if it has room and rotates
// otherwise.
func (e *Engine) ensureActive(ctx context.Context, link *models.DynamicLink) (string, error) {
	if link.ActiveGroupID != nil {
		g, err := e.dir.Get(ctx, *link.ActiveGroupID)
		switch {
		case err == nil && g.TenantID == link.TenantID:
			if e.hasRoom(ctx, g) {
				return e.inviteLink(ctx, g)
			}
		case err == nil:
			e.log.Error("active group belongs to another tenant", zap.String("slug", link.Slug), zap.String("group_id", g.ID))
		case apperr.IsNotFound(err):
			e.log.Warn("active group is missing", zap.String("slug", link.Slug), zap.String("group_id", *link.ActiveGroupID))
		default:
			return "", err
		}
	}
	return e.rotate(ctx, link)
}

// hasRoom re-validates capacity. With live checks on, the provider's count
// is authoritative and is written back; if the provider cannot answer in
// time the stored counter is used.
func (e *Engine) hasRoom(ctx context.Context, g *models.Group) bool {
	if e.opts.LiveCheck {
		cctx, cancel := context.WithTimeout(ctx, e.opts.LiveCheckTimeout)
		info, err := e.provider.FetchGroup(cctx, g.InstanceName, g.JID)
		cancel()
		if err != nil {
			e.log.Warn("live participant check failed, using stored count",
				zap.String("group_id", g.ID), zap.String("instance", g.InstanceName), zap.Error(err))
		} else if info.Participants != g.CurrentParticipants {
			if err := e.dir.SetParticipants(ctx, g.ID, info.Participants); err != nil {
				e.log.Warn("failed to store live participant count", zap.String("group_id", g.ID), zap.Error(err))
			}
			g.CurrentParticipants = info.Participants
		}
	}
	return g.HasCapacity()
}

func (e *Engine) inviteLink(ctx context.Context, g *models.Group) (string, error) {
	if g.InviteLink != "" {
		return g.InviteLink, nil
	}
	if err := e.dir.RefreshInvite(ctx, g); err != nil {
		return "", err
	}
	return g.InviteLink, nil
}

func (e *Engine) rotate(ctx context.Context, link *models.DynamicLink) (string, error) {
	expected := link.ActiveGroupID
	token := uuid.NewString()

	won, err := e.registry.ClaimRotation(ctx, link.ID, expected, token, e.opts.LeaseTTL)
	if err != nil {
		return "", err
	}
	if !won {
		e.waitForRotation(ctx, link)
		return "", errLostRace
	}

	group, err := e.replacement(ctx, link)
	if err != nil {
		e.release(ctx, link, token)
		return "", err
	}

	swapped, err := e.swap(ctx, link, expected, group.ID, token)
	if err != nil {
		// The group keeps its back-reference and is adopted by the next rotation.
		e.log.Error("failed to point dynamic link at new group",
			zap.String("slug", link.Slug), zap.String("group_id", group.ID), zap.Error(err))
		e.release(ctx, link, token)
		return "", fmt.Errorf("rotate %q: update active group: %w", link.Slug, err)
	}
	if !swapped {
		e.log.Warn("rotation lease expired before the pointer update",
			zap.String("slug", link.Slug), zap.String("group_id", group.ID))
		return "", errLostRace
	}

	e.log.Info("dynamic link rotated",
		zap.Uint("tenant_id", link.TenantID),
		zap.String("slug", link.Slug),
		zap.Stringp("from_group_id", expected),
		zap.String("group_id", group.ID),
		zap.String("group_name", group.Name),
	)
	return e.inviteLink(ctx, group)
}

// replacement adopts a spare group spawned earlier by this link if one has
// room, otherwise provisions "<base> #<n>". n comes from the groups that
// exist when the lease is taken, so a holder that lost an expired lease may
// leave a spare with the same name as the group that replaced it.
func (e *Engine) replacement(ctx context.Context, link *models.DynamicLink) (*models.Group, error) {
	spare, err := e.dir.FindSpare(ctx, link, link.ActiveGroupID)
	if err != nil {
		return nil, err
	}
	if spare != nil && e.hasRoom(ctx, spare) {
		e.log.Info("adopting spare group", zap.String("slug", link.Slug), zap.String("group_id", spare.ID))
		return spare, nil
	}

	n, err := e.dir.CountForLink(ctx, link.ID)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, e.opts.ProvisionTimeout)
	defer cancel()
	return e.dir.CreateGroup(pctx, link.TenantID, groups.CreateGroupInput{
		InstanceName:  link.InstanceName,
		GroupName:     fmt.Sprintf("%s #%d", link.BaseGroupName, n+1),
		DynamicLinkID: &link.ID,
	})
}

// swap retries the conditional pointer update on transient errors.
func (e *Engine) swap(ctx context.Context, link *models.DynamicLink, expected *string, next, token string) (bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = e.opts.SwapTimeout

	var swapped bool
	err := backoff.Retry(func() error {
		ok, err := e.registry.SwapActiveGroup(ctx, link.ID, expected, next, token)
		if err != nil {
			return err
		}
		swapped = ok
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, e.opts.SwapRetries), ctx))
	return swapped, err
}

func (e *Engine) release(ctx context.Context, link *models.DynamicLink, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.registry.ReleaseRotation(rctx, link.ID, token); err != nil {
		e.log.Warn("failed to release rotation lease", zap.String("slug", link.Slug), zap.Error(err))
	}
}

// waitForRotation polls until the pointer moves away from what link saw or
// the lease is released, at most for one lease period.
func (e *Engine) waitForRotation(ctx context.Context, link *models.DynamicLink) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = e.opts.LeaseTTL

	errPending := errors.New("rotation pending")
	_ = backoff.Retry(func() error {
		cur, err := e.registry.GetBySlug(ctx, link.Slug)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !samePointer(cur.ActiveGroupID, link.ActiveGroupID) || cur.RotationToken == nil {
			return nil
		}
		return errPending
	}, backoff.WithContext(b, ctx))
}

func samePointer(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
