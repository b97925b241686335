// Copyright 2024-2026 Aiku AI

// Package manager coordinates the identity and room bookkeeping of the
// Wechaty appservice.
//
// One bridge bot account multiplexes many Wechaty contacts, each of which is
// represented on Matrix by a virtual user. A real Matrix user talks to a
// virtual user (or to the bot itself) through a dedicated direct room.
//
// # Core Types
//
// [Manager] is constructed once at startup with every collaborator it needs
// and exposes the public operations: account classification, the
// per-user enable/disable lifecycle, direct and group room provisioning,
// direct messaging and virtual user ID generation.
//
// [Account] is the classified form of a Matrix user ID. Classify an ID once
// where an event enters the bridge and pass the [Account] along.
//
// # Records
//
// Bookkeeping lives in [store.Document] blobs under reserved top-level keys:
//
//   - [EnablementKey] on a user holds an [EnablementRecord].
//   - [BindingKey] on a user holds a [BindingRecord] pointing at the single
//     direct room owned by that user.
//   - [RoomKey] on a room holds a [RoomRecord]. Its presence is what makes a
//     room a direct room; group rooms have none.
//
// Each record is read and written on its own; sibling keys in the same blob
// are always preserved.
package manager
