// Package whatsapp declares the capabilities the core needs from a WhatsApp
// integration. The rotation engine, the group directory and broadcast only
// see this interface; pkg/wavite/evolution implements it over HTTP and
// whatsapptest provides an in-memory fake.
package whatsapp

import (
	"context"
	"fmt"
	"strings"
)

// InviteURLPrefix is prepended to invite codes to build a shareable link.
const InviteURLPrefix = "https://chat.whatsapp.com/"

// CreateGroupRequest describes a group to create on an instance.
type CreateGroupRequest struct {
	Subject      string
	Description  string
	Participants []string
}

// GroupInfo is the provider's view of a group.
type GroupInfo struct {
	JID          string
	Subject      string
	Participants int
}

// Invite is an invite code with its shareable link.
type Invite struct {
	Code string
	Link string
}

// Provider is the WhatsApp capability set. Every call is scoped to an
// instance (a connected WhatsApp session) and may block on the network.
type Provider interface {
	CreateGroup(ctx context.Context, instance string, req CreateGroupRequest) (string, error)
	InviteCode(ctx context.Context, instance, jid string) (Invite, error)
	FetchGroup(ctx context.Context, instance, jid string) (GroupInfo, error)
	FetchGroups(ctx context.Context, instance string) ([]GroupInfo, error)
	SendText(ctx context.Context, instance, jid, text string) error
	AddParticipants(ctx context.Context, instance, jid string, participants []string) error
}

// NewInvite builds an Invite from a bare code or a full invite URL.
func NewInvite(codeOrURL string) Invite {
	code := strings.TrimPrefix(codeOrURL, InviteURLPrefix)
	return Invite{Code: code, Link: InviteURLPrefix + code}
}

// NormalizeParticipant turns a phone number into a WhatsApp user JID.
// Values that already carry a domain are returned unchanged.
func NormalizeParticipant(p string) (string, error) {
	p = strings.TrimSpace(p)
	if strings.Contains(p, "@") {
		return p, nil
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		if r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return 'x'
	}, p)
	if digits == "" || strings.ContainsRune(digits, 'x') {
		return "", fmt.Errorf("invalid participant %q", p)
	}
	return digits + "@s.whatsapp.net", nil
}
