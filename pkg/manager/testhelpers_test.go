// Copyright 2024-2026 Aiku AI

package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-wechaty/pkg/store"
)

const (
	testDomain = "example.org"
	testBot    = id.UserID("@wechaty-bot:example.org")
	testAlice  = id.UserID("@alice:example.org")
	testBob    = id.UserID("@bob:example.org")
)

// createRoomCall records one CreateRoom invocation.
type createRoomCall struct {
	As  id.UserID
	Req mautrix.ReqCreateRoom
}

// sendTextCall records one SendText invocation.
type sendTextCall struct {
	As     id.UserID
	RoomID id.RoomID
	Text   string
}

// fakeHomeserver implements RoomCreator and TextSender in memory.
type fakeHomeserver struct {
	mu      sync.Mutex
	nextID  int
	creates []createRoomCall
	sends   []sendTextCall

	// CreateErr, if set, is returned by CreateRoom.
	CreateErr error
	// SendErr, if set, is returned by SendText.
	SendErr error
}

func (f *fakeHomeserver) CreateRoom(_ context.Context, as id.UserID, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, createRoomCall{As: as, Req: *req})
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	return id.RoomID(fmt.Sprintf("!room%d:%s", f.nextID, testDomain)), nil
}

func (f *fakeHomeserver) SendText(_ context.Context, as id.UserID, roomID id.RoomID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendTextCall{As: as, RoomID: roomID, Text: text})
	return f.SendErr
}

func (f *fakeHomeserver) Creates() []createRoomCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]createRoomCall, len(f.creates))
	copy(cp, f.creates)
	return cp
}

func (f *fakeHomeserver) Sends() []sendTextCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sendTextCall, len(f.sends))
	copy(cp, f.sends)
	return cp
}

// prefixMembership treats every user whose localpart starts with prefix as
// provisioned.
type prefixMembership struct {
	prefix string
}

func (p prefixMembership) IsRemoteUser(userID id.UserID) bool {
	return strings.HasPrefix(string(userID), "@"+p.prefix)
}

// testOptions returns the Options used by newTestManager.
func testOptions() Options {
	return Options{
		BotLocalpart:     "wechaty-bot",
		Domain:           testDomain,
		VirtualLocalpart: "wechaty",
		RoomNamePostfix:  " (Wechaty)",
		DirectRoomName:   "Wechaty Appservice Bot",
	}
}

// newTestManager creates a Manager over a memory store and a fake homeserver.
func newTestManager() (*Manager, *fakeHomeserver, *store.MemoryStore) {
	st := store.NewMemoryStore()
	hs := &fakeHomeserver{}
	m, err := New(Params{
		Store:      st,
		Rooms:      hs,
		Sender:     hs,
		Membership: prefixMembership{prefix: "wechaty_"},
		Options:    testOptions(),
		Log:        zerolog.Nop(),
	})
	if err != nil {
		panic(err)
	}
	return m, hs, st
}

// conflictOnceCollection wraps a Collection and makes the first Put for
// each ID fail with store.ErrConflict after letting a competing writer in.
type conflictOnceCollection struct {
	store.Collection
	mu      sync.Mutex
	tripped map[string]bool
	// Compete runs before the first Put of every ID is rejected.
	Compete func(ctx context.Context, docID string)
}

func (c *conflictOnceCollection) Put(ctx context.Context, doc *store.Document) error {
	c.mu.Lock()
	first := !c.tripped[doc.ID]
	if c.tripped == nil {
		c.tripped = make(map[string]bool)
	}
	c.tripped[doc.ID] = true
	c.mu.Unlock()
	if first && c.Compete != nil {
		c.Compete(ctx, doc.ID)
		return fmt.Errorf("%w: injected", store.ErrConflict)
	}
	return c.Collection.Put(ctx, doc)
}

// splitStore serves the given users collection alongside a base store's rooms.
type splitStore struct {
	users store.Collection
	base  store.Store
}

func (s splitStore) Users() store.Collection { return s.users }
func (s splitStore) Rooms() store.Collection { return s.base.Rooms() }
func (s splitStore) Close() error            { return nil }

var errTransport = errors.New("homeserver unreachable")
