// Copyright 2024-2026 Aiku AI

package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-wechaty/pkg/store"
)

// Membership reports whether a user ID is provisioned by the appservice.
type Membership interface {
	IsRemoteUser(userID id.UserID) bool
}

// RoomCreator creates a room while acting as the given user.
type RoomCreator interface {
	CreateRoom(ctx context.Context, as id.UserID, req *mautrix.ReqCreateRoom) (id.RoomID, error)
}

// TextSender sends a plain text message while acting as the given user.
type TextSender interface {
	SendText(ctx context.Context, as id.UserID, roomID id.RoomID, text string) error
}

// Options holds the static bridge settings the manager needs.
type Options struct {
	// BotLocalpart is the registration's sender_localpart.
	BotLocalpart string
	// Domain is the homeserver domain.
	Domain string
	// VirtualLocalpart prefixes every generated virtual user localpart.
	VirtualLocalpart string
	// RoomNamePostfix is appended to caller-supplied room names.
	RoomNamePostfix string
	// DirectRoomName names direct rooms created without an explicit name.
	DirectRoomName string
}

// Params are the collaborators a Manager is built from. All are required.
type Params struct {
	Store      store.Store
	Rooms      RoomCreator
	Sender     TextSender
	Membership Membership
	Options    Options
	Log        zerolog.Logger
}

// Manager is the identity and room mapping coordinator.
type Manager struct {
	users      store.Collection
	rooms      store.Collection
	creator    RoomCreator
	sender     TextSender
	membership Membership
	opts       Options
	botID      id.UserID

	directLocks keyedMutex
	log         zerolog.Logger
}

// New creates a Manager. It fails if any collaborator or required option is missing.
func New(p Params) (*Manager, error) {
	switch {
	case p.Store == nil:
		return nil, errors.New("manager: store is required")
	case p.Rooms == nil:
		return nil, errors.New("manager: room creator is required")
	case p.Sender == nil:
		return nil, errors.New("manager: text sender is required")
	case p.Membership == nil:
		return nil, errors.New("manager: membership registry is required")
	case p.Options.BotLocalpart == "":
		return nil, errors.New("manager: bot localpart is required")
	case p.Options.Domain == "":
		return nil, errors.New("manager: domain is required")
	case p.Options.VirtualLocalpart == "":
		return nil, errors.New("manager: virtual localpart is required")
	}
	m := &Manager{
		users:      p.Store.Users(),
		rooms:      p.Store.Rooms(),
		creator:    p.Rooms,
		sender:     p.Sender,
		membership: p.Membership,
		opts:       p.Options,
		botID:      id.NewUserID(p.Options.BotLocalpart, p.Options.Domain),
		log:        p.Log.With().Str("component", "manager").Logger(),
	}
	m.log.Debug().Stringer("bot_mxid", m.botID).Msg("Manager created")
	return m, nil
}

// maxUpdateAttempts bounds how often a read-modify-write is re-run after a
// concurrent writer changed the same document.
const maxUpdateAttempts = 3

// update loads the document stored under docID (or a fresh one), applies
// mutate and writes it back. mutate is re-run against the latest document
// when the write loses a version race.
func (m *Manager) update(ctx context.Context, coll store.Collection, docID string, mutate func(doc *store.Document) error) error {
	for attempt := 1; ; attempt++ {
		doc, err := coll.Get(ctx, docID)
		if errors.Is(err, store.ErrNotFound) {
			doc = store.NewDocument(docID)
		} else if err != nil {
			return err
		}
		if err := mutate(doc); err != nil {
			return err
		}
		err = coll.Put(ctx, doc)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= maxUpdateAttempts {
			return err
		}
		m.log.Debug().
			Str("doc_id", docID).
			Int("attempt", attempt).
			Msg("Document changed concurrently, retrying update")
	}
}

// lookup decodes key of the document stored under docID into into. Missing
// documents and missing keys both report false.
func (m *Manager) lookup(ctx context.Context, coll store.Collection, docID, key string, into any) (bool, error) {
	doc, err := coll.Get(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return doc.Decode(key, into)
}

// EnsureUser creates an empty document for user if none exists.
func (m *Manager) EnsureUser(ctx context.Context, user id.UserID) error {
	return m.ensure(ctx, m.users, string(user))
}

// EnsureRoom creates an empty document for room if none exists.
func (m *Manager) EnsureRoom(ctx context.Context, room id.RoomID) error {
	return m.ensure(ctx, m.rooms, string(room))
}

func (m *Manager) ensure(ctx context.Context, coll store.Collection, docID string) error {
	_, err := coll.Get(ctx, docID)
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	m.log.Debug().Str("doc_id", docID).Msg("Document does not exist in store, creating")
	err = coll.Put(ctx, store.NewDocument(docID))
	if errors.Is(err, store.ErrConflict) {
		// Created concurrently.
		return nil
	}
	return err
}

// VerifyBotUser checks that the bot's own document exists in the store.
func (m *Manager) VerifyBotUser(ctx context.Context) error {
	if _, err := m.users.Get(ctx, string(m.botID)); err != nil {
		return fmt.Errorf("no store entry for bot %s: %w", m.botID, err)
	}
	return nil
}
