// Copyright 2024-2026 Aiku AI

package manager

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-wechaty/pkg/store"
)

const (
	presetTrustedPrivateChat = "trusted_private_chat"
	visibilityPrivate        = "private"
)

// CreateDirectRoom creates a direct room between the human consumer and
// peer, acting as peer. An empty peer means the bot. The room is recorded
// and bound to the peer; ErrBindingExists is returned if the peer already
// has a direct room, in which case the newly created room stays behind
// unbound.
func (m *Manager) CreateDirectRoom(ctx context.Context, consumer, peer id.UserID, name string) (id.RoomID, error) {
	directUser := peer
	if directUser == "" {
		directUser = m.botID
	}
	log := m.log.With().
		Stringer("consumer_id", consumer).
		Stringer("direct_user_id", directUser).
		Logger()

	unlock, err := m.directLocks.Lock(ctx, string(directUser))
	if err != nil {
		return "", fmt.Errorf("failed to lock direct user %s: %w", directUser, err)
	}
	defer unlock()

	roomName := m.opts.DirectRoomName
	if name != "" {
		roomName = name + m.opts.RoomNamePostfix
	}

	roomID, err := m.creator.CreateRoom(ctx, directUser, &mautrix.ReqCreateRoom{
		Invite:     []id.UserID{consumer},
		IsDirect:   true,
		Name:       roomName,
		Preset:     presetTrustedPrivateChat,
		Visibility: visibilityPrivate,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create direct room")
		return "", err
	}
	log = log.With().Stringer("room_id", roomID).Logger()

	err = m.update(ctx, m.rooms, string(roomID), func(doc *store.Document) error {
		return doc.Encode(RoomKey, RoomRecord{ConsumerID: consumer, DirectUserID: directUser})
	})
	if err != nil {
		log.Error().Err(err).Msg("Direct room created but its room record could not be stored")
		return "", fmt.Errorf("failed to store room record for %s: %w", roomID, err)
	}

	if err := m.setDirectRoom(ctx, directUser, roomID); err != nil {
		return "", err
	}
	log.Info().Msg("Created direct room")
	return roomID, nil
}

// CreateGroupRoom creates a room as the bot and invites members. Group
// rooms get no room record and no binding.
func (m *Manager) CreateGroupRoom(ctx context.Context, members []id.UserID, name string) (id.RoomID, error) {
	roomID, err := m.creator.CreateRoom(ctx, m.botID, &mautrix.ReqCreateRoom{
		Invite:     members,
		Name:       name + m.opts.RoomNamePostfix,
		Visibility: visibilityPrivate,
	})
	if err != nil {
		m.log.Error().Err(err).Int("member_count", len(members)).Msg("Failed to create group room")
		return "", err
	}
	m.log.Info().Stringer("room_id", roomID).Int("member_count", len(members)).Msg("Created group room")
	return roomID, nil
}

// Room returns the room record of room, or nil if room is not a direct room.
func (m *Manager) Room(ctx context.Context, room id.RoomID) (*RoomRecord, error) {
	var rec RoomRecord
	found, err := m.lookup(ctx, m.rooms, string(room), RoomKey, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// DirectMessage sends text into a direct room as the room's direct user.
// Send failures are logged and returned unchanged.
func (m *Manager) DirectMessage(ctx context.Context, room id.RoomID, text string) error {
	rec, err := m.Room(ctx, room)
	if err != nil {
		return err
	}
	if rec == nil || rec.DirectUserID == "" {
		return fmt.Errorf("%w: %s", ErrNotADirectRoom, room)
	}
	if err := m.sender.SendText(ctx, rec.DirectUserID, room, text); err != nil {
		m.log.Error().Err(err).
			Stringer("room_id", room).
			Stringer("direct_user_id", rec.DirectUserID).
			Msg("Failed to send direct message")
		return err
	}
	return nil
}
