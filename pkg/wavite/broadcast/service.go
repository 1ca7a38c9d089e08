// Package broadcast sends one text message to many groups of a tenant.
package broadcast

import (
	"context"
	"strings"

	"github.com/wavite/wavite/pkg/wavite/apperr"
	"github.com/wavite/wavite/pkg/wavite/groups"
	"github.com/wavite/wavite/pkg/wavite/instances"
	"github.com/wavite/wavite/pkg/wavite/whatsapp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxGroups bounds the number of recipients of a single broadcast.
const MaxGroups = 256

const defaultConcurrency = 8

// Result is the outcome of the send to one group.
type Result struct {
	GroupJID string `json:"groupJid"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Service fans a message out to groups through the provider.
type Service struct {
	dir         *groups.Directory
	instances   *instances.Service
	provider    whatsapp.Provider
	concurrency int
	log         *zap.Logger
}

// NewService creates a broadcast service. concurrency caps in-flight sends.
func NewService(dir *groups.Directory, inst *instances.Service, provider whatsapp.Provider, concurrency int, log *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		dir:         dir,
		instances:   inst,
		provider:    provider,
		concurrency: concurrency,
		log:         log.Named("broadcast"),
	}
}

// BroadcastMessage attempts every JID independently and returns one result
// per input JID, in input order. The error is non-nil only when the request
// itself is invalid; per-group failures are reported in the results.
func (s *Service) BroadcastMessage(ctx context.Context, tenantID uint, instanceName string, groupJIDs []string, message string) ([]Result, error) {
	if strings.TrimSpace(instanceName) == "" {
		return nil, apperr.Validation("instanceName is required")
	}
	if strings.TrimSpace(message) == "" {
		return nil, apperr.Validation("message is required")
	}
	if len(groupJIDs) == 0 {
		return nil, apperr.Validation("groupJids must not be empty")
	}
	if len(groupJIDs) > MaxGroups {
		return nil, apperr.Validation("at most %d groupJids per broadcast", MaxGroups)
	}
	if _, err := s.instances.Require(ctx, tenantID, instanceName); err != nil {
		return nil, err
	}

	owned, err := s.dir.OwnedJIDs(ctx, tenantID, instanceName, groupJIDs)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(groupJIDs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, jid := range groupJIDs {
		results[i].GroupJID = jid
		if !owned[jid] {
			results[i].Error = "group not found"
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Error = err.Error()
				return nil
			}
			if err := s.provider.SendText(ctx, instanceName, jid, message); err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Success = true
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	s.log.Info("broadcast finished",
		zap.Uint("tenant_id", tenantID),
		zap.String("instance", instanceName),
		zap.Int("groups", len(results)),
		zap.Int("failed", failed),
	)
	return results, nil
}
