// Copyright 2024-2026 Aiku AI

package manager

import (
	"strings"

	"github.com/google/uuid"
	"maunium.net/go/mautrix/id"
)

// Kind classifies a Matrix user ID from the bridge's point of view.
type Kind int

const (
	// KindHuman is a real Matrix user.
	KindHuman Kind = iota
	// KindBot is the appservice's own sender.
	KindBot
	// KindVirtual is a user provisioned by the appservice for a Wechaty contact.
	KindVirtual
)

func (k Kind) String() string {
	switch k {
	case KindBot:
		return "bot"
	case KindVirtual:
		return "virtual"
	default:
		return "human"
	}
}

// Account is a user ID together with its classification.
type Account struct {
	ID   id.UserID
	Kind Kind
}

func (a Account) IsBot() bool     { return a.Kind == KindBot }
func (a Account) IsVirtual() bool { return a.Kind == KindVirtual }
func (a Account) IsHuman() bool   { return a.Kind == KindHuman }

// BotUserID returns the appservice sender, @<sender_localpart>:<domain>.
func (m *Manager) BotUserID() id.UserID {
	return m.botID
}

// Classify computes the Account for userID.
func (m *Manager) Classify(userID id.UserID) Account {
	kind := KindHuman
	switch {
	case userID == m.botID:
		kind = KindBot
	case m.membership.IsRemoteUser(userID):
		kind = KindVirtual
	}
	return Account{ID: userID, Kind: kind}
}

// IsBot reports whether userID is the appservice bot.
func (m *Manager) IsBot(userID id.UserID) bool {
	return m.Classify(userID).IsBot()
}

// IsVirtual reports whether userID is a virtual user. The bot is never virtual.
func (m *Manager) IsVirtual(userID id.UserID) bool {
	return m.Classify(userID).IsVirtual()
}

// IsHuman reports whether userID is neither the bot nor a virtual user.
func (m *Manager) IsHuman(userID id.UserID) bool {
	return m.Classify(userID).IsHuman()
}

// GenerateVirtualUserID returns a fresh @<virtual_localpart>_<token>:<domain>
// ID. The token is the 32 hex digits of a random UUID; uniqueness is not
// checked against the store.
func (m *Manager) GenerateVirtualUserID() id.UserID {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id.NewUserID(m.opts.VirtualLocalpart+"_"+token, m.opts.Domain)
}
