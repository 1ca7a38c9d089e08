// Package whatsapptest provides an in-memory whatsapp.Provider for tests.
package whatsapptest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wavite/wavite/pkg/wavite/whatsapp"
)

// ErrGroupNotFound is returned for JIDs the fake does not know.
var ErrGroupNotFound = errors.New("group not found")

// Message is a text the fake accepted for delivery.
type Message struct {
	Instance string
	JID      string
	Text     string
}

type group struct {
	instance     string
	subject      string
	participants int
	code         string
}

// Provider is a thread-safe fake. Zero value is not usable; call New.
type Provider struct {
	mu       sync.Mutex
	groups   map[string]*group
	sent     []Message
	sendErrs map[string]error
	seq      int

	// CreateErr, InviteErr and FetchErr make the matching calls fail.
	CreateErr error
	InviteErr error
	FetchErr  error

	// CreateGate, when set, blocks CreateGroup until it is closed or the
	// context ends.
	CreateGate chan struct{}

	creates atomic.Int64
	fetches atomic.Int64
	invites atomic.Int64
}

var _ whatsapp.Provider = (*Provider)(nil)

// New returns an empty fake.
func New() *Provider {
	return &Provider{
		groups:   make(map[string]*group),
		sendErrs: make(map[string]error),
	}
}

// CreateGroup records a group with sequential JID and invite code.
func (p *Provider) CreateGroup(ctx context.Context, instance string, req whatsapp.CreateGroupRequest) (string, error) {
	p.creates.Add(1)
	if p.CreateGate != nil {
		select {
		case <-p.CreateGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return "", p.CreateErr
	}
	p.seq++
	jid := fmt.Sprintf("1203630%05d@g.us", p.seq)
	p.groups[jid] = &group{
		instance:     instance,
		subject:      req.Subject,
		participants: len(req.Participants),
		code:         fmt.Sprintf("INV%05d", p.seq),
	}
	return jid, nil
}

// InviteCode returns the group's invite code.
func (p *Provider) InviteCode(ctx context.Context, instance, jid string) (whatsapp.Invite, error) {
	p.invites.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.InviteErr != nil {
		return whatsapp.Invite{}, p.InviteErr
	}
	g, ok := p.groups[jid]
	if !ok || g.instance != instance {
		return whatsapp.Invite{}, ErrGroupNotFound
	}
	return whatsapp.NewInvite(g.code), nil
}

// FetchGroup reports the group's current participant count.
func (p *Provider) FetchGroup(ctx context.Context, instance, jid string) (whatsapp.GroupInfo, error) {
	p.fetches.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FetchErr != nil {
		return whatsapp.GroupInfo{}, p.FetchErr
	}
	g, ok := p.groups[jid]
	if !ok || g.instance != instance {
		return whatsapp.GroupInfo{}, ErrGroupNotFound
	}
	return whatsapp.GroupInfo{JID: jid, Subject: g.subject, Participants: g.participants}, nil
}

// FetchGroups lists the instance's groups ordered by JID.
func (p *Provider) FetchGroups(ctx context.Context, instance string) ([]whatsapp.GroupInfo, error) {
	p.fetches.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FetchErr != nil {
		return nil, p.FetchErr
	}
	var out []whatsapp.GroupInfo
	for jid, g := range p.groups {
		if g.instance == instance {
			out = append(out, whatsapp.GroupInfo{JID: jid, Subject: g.subject, Participants: g.participants})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out, nil
}

// SendText records the message unless FailSend was set for jid.
func (p *Provider) SendText(ctx context.Context, instance, jid, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.sendErrs[jid]; ok {
		return err
	}
	p.sent = append(p.sent, Message{Instance: instance, JID: jid, Text: text})
	return nil
}

// AddParticipants raises the group's participant count.
func (p *Provider) AddParticipants(ctx context.Context, instance, jid string, participants []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.groups[jid]
	if !ok || g.instance != instance {
		return ErrGroupNotFound
	}
	g.participants += len(participants)
	return nil
}

// AddGroup seeds a group that exists only on the provider side.
func (p *Provider) AddGroup(instance, jid, subject string, participants int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups[jid] = &group{instance: instance, subject: subject, participants: participants, code: "SEED" + jid}
}

// SetParticipants simulates joins or leaves that happened on the provider.
func (p *Provider) SetParticipants(jid string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.groups[jid]; ok {
		g.participants = n
	}
}

// FailSend makes SendText to jid fail with err.
func (p *Provider) FailSend(jid string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErrs[jid] = err
}

// Sent returns the delivered messages.
func (p *Provider) Sent() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.sent...)
}

// Subjects returns the subjects of the groups created or seeded on instance.
func (p *Provider) Subjects(instance string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, g := range p.groups {
		if g.instance == instance {
			out = append(out, g.subject)
		}
	}
	sort.Strings(out)
	return out
}

// CreateCalls counts CreateGroup invocations, including failed ones.
func (p *Provider) CreateCalls() int { return int(p.creates.Load()) }

// FetchCalls counts FetchGroup and FetchGroups invocations.
func (p *Provider) FetchCalls() int { return int(p.fetches.Load()) }

// InviteCalls counts InviteCode invocations.
func (p *Provider) InviteCalls() int { return int(p.invites.Load()) }
