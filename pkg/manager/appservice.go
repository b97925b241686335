// Copyright 2024-2026 Aiku AI

package manager

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/id"
)

// IntentProvisioner creates rooms and sends messages through appservice
// intents.
type IntentProvisioner struct {
	as  *appservice.AppService
	log zerolog.Logger
}

var (
	_ RoomCreator = (*IntentProvisioner)(nil)
	_ TextSender  = (*IntentProvisioner)(nil)
)

// NewIntentProvisioner wraps as.
func NewIntentProvisioner(as *appservice.AppService, log zerolog.Logger) *IntentProvisioner {
	return &IntentProvisioner{
		as:  as,
		log: log.With().Str("component", "intents").Logger(),
	}
}

// CreateRoom registers the acting user if needed and creates the room as it.
func (p *IntentProvisioner) CreateRoom(ctx context.Context, as id.UserID, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	intent := p.as.Intent(as)
	if as != p.as.BotMXID() {
		if err := intent.EnsureRegistered(ctx); err != nil {
			return "", err
		}
	}
	resp, err := intent.CreateRoom(ctx, req)
	if err != nil {
		return "", err
	}
	p.log.Debug().Stringer("as", as).Stringer("room_id", resp.RoomID).Msg("Room created")
	return resp.RoomID, nil
}

// SendText sends a m.text message as the acting user.
func (p *IntentProvisioner) SendText(ctx context.Context, as id.UserID, roomID id.RoomID, text string) error {
	_, err := p.as.Intent(as).SendText(ctx, roomID, text)
	return err
}

// NamespaceMembership treats every user matching one of the registration's
// exclusive user namespaces as provisioned by the appservice.
type NamespaceMembership struct {
	patterns []*regexp.Regexp
}

var _ Membership = (*NamespaceMembership)(nil)

// NewNamespaceMembership compiles the exclusive user namespaces of reg.
func NewNamespaceMembership(reg *appservice.Registration) (*NamespaceMembership, error) {
	nm := &NamespaceMembership{}
	for _, ns := range reg.Namespaces.UserIDs {
		if !ns.Exclusive {
			continue
		}
		re, err := regexp.Compile(ns.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid user namespace %q: %w", ns.Regex, err)
		}
		nm.patterns = append(nm.patterns, re)
	}
	return nm, nil
}

func (nm *NamespaceMembership) IsRemoteUser(userID id.UserID) bool {
	for _, re := range nm.patterns {
		if re.MatchString(string(userID)) {
			return true
		}
	}
	return false
}
