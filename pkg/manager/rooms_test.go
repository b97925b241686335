// Copyright 2024-2026 Aiku AI

package manager

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"maunium.net/go/mautrix/id"
)

func TestCreateDirectRoomWithBot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, hs, _ := newTestManager()

	room, err := m.CreateDirectRoom(ctx, testAlice, "", "")
	if err != nil {
		t.Fatalf("CreateDirectRoom: %v", err)
	}

	bound, err := m.DirectRoom(ctx, testBot)
	if err != nil {
		t.Fatalf("DirectRoom(bot): %v", err)
	}
	if bound != room {
		t.Errorf("DirectRoom(bot): got %q, want %q", bound, room)
	}
	if consumerRoom, _ := m.DirectRoom(ctx, testAlice); consumerRoom != "" {
		t.Errorf("consumer should not be bound, got %q", consumerRoom)
	}

	rec, err := m.Room(ctx, room)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}
	want := &RoomRecord{ConsumerID: testAlice, DirectUserID: testBot}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("Room: got %+v, want %+v", rec, want)
	}

	creates := hs.Creates()
	if len(creates) != 1 {
		t.Fatalf("CreateRoom calls: got %d, want 1", len(creates))
	}
	call := creates[0]
	if call.As != testBot {
		t.Errorf("created as %q, want %q", call.As, testBot)
	}
	if !call.Req.IsDirect {
		t.Error("request should be direct")
	}
	if call.Req.Preset != "trusted_private_chat" {
		t.Errorf("Preset: got %q", call.Req.Preset)
	}
	if call.Req.Visibility != "private" {
		t.Errorf("Visibility: got %q", call.Req.Visibility)
	}
	if call.Req.Name != "Wechaty Appservice Bot" {
		t.Errorf("Name: got %q", call.Req.Name)
	}
	if !reflect.DeepEqual(call.Req.Invite, []id.UserID{testAlice}) {
		t.Errorf("Invite: got %v", call.Req.Invite)
	}
}

func TestCreateDirectRoomRebindRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, hs, _ := newTestManager()

	first, err := m.CreateDirectRoom(ctx, testAlice, "", "")
	if err != nil {
		t.Fatalf("first CreateDirectRoom: %v", err)
	}
	_, err = m.CreateDirectRoom(ctx, testAlice, "", "")
	if !errors.Is(err, ErrBindingExists) {
		t.Fatalf("second CreateDirectRoom: got %v, want ErrBindingExists", err)
	}
	// The second room was created on the homeserver before the binding
	// check and is left behind.
	if n := len(hs.Creates()); n != 2 {
		t.Errorf("CreateRoom calls: got %d, want 2", n)
	}
	bound, err := m.DirectRoom(ctx, testBot)
	if err != nil || bound != first {
		t.Errorf("DirectRoom(bot): got %q, %v; want %q", bound, err, first)
	}
}

func TestCreateDirectRoomWithVirtualPeer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, hs, _ := newTestManager()
	peer := m.GenerateVirtualUserID()

	room, err := m.CreateDirectRoom(ctx, testAlice, peer, "Bob Wang")
	if err != nil {
		t.Fatalf("CreateDirectRoom: %v", err)
	}
	call := hs.Creates()[0]
	if call.As != peer {
		t.Errorf("created as %q, want %q", call.As, peer)
	}
	if call.Req.Name != "Bob Wang (Wechaty)" {
		t.Errorf("Name: got %q", call.Req.Name)
	}
	bound, err := m.DirectRoom(ctx, peer)
	if err != nil || bound != room {
		t.Errorf("DirectRoom(peer): got %q, %v; want %q", bound, err, room)
	}
	if botRoom, _ := m.DirectRoom(ctx, testBot); botRoom != "" {
		t.Errorf("bot should not be bound, got %q", botRoom)
	}

	// The same consumer can have direct rooms with several peers.
	other := m.GenerateVirtualUserID()
	if _, err := m.CreateDirectRoom(ctx, testAlice, other, "Carol"); err != nil {
		t.Errorf("CreateDirectRoom with second peer: %v", err)
	}
}

func TestCreateDirectRoomTransportFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, hs, st := newTestManager()
	hs.CreateErr = errTransport

	_, err := m.CreateDirectRoom(ctx, testAlice, "", "")
	if err != errTransport {
		t.Fatalf("CreateDirectRoom: got %v, want the transport error unchanged", err)
	}
	if _, err := st.Users().Get(ctx, string(testBot)); err == nil {
		t.Error("no binding should be written after a failed create")
	}
	ids, err := st.Rooms().Query(ctx, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("no room record should be written, got %v", ids)
	}
}

func TestCreateDirectRoomConcurrentSamePeer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _, _ := newTestManager()

	const callers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		exists    int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateDirectRoom(ctx, testAlice, "", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrBindingExists):
				exists++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || exists != callers-1 {
		t.Errorf("got %d successes and %d ErrBindingExists, want 1 and %d", successes, exists, callers-1)
	}
}

func TestCreateGroupRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, hs, _ := newTestManager()
	members := []id.UserID{testAlice, testBob, m.GenerateVirtualUserID()}

	room, err := m.CreateGroupRoom(ctx, members, "Family")
	if err != nil {
		t.Fatalf("CreateGroupRoom: %v", err)
	}
	call := hs.Creates()[0]
	if call.As != testBot {
		t.Errorf("created as %q, want bot", call.As)
	}
	if call.Req.IsDirect {
		t.Error("group room must not be direct")
	}
	if call.Req.Name != "Family (Wechaty)" {
		t.Errorf("Name: got %q", call.Req.Name)
	}
	if !reflect.DeepEqual(call.Req.Invite, members) {
		t.Errorf("Invite: got %v", call.Req.Invite)
	}

	rec, err := m.Room(ctx, room)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}
	if rec != nil {
		t.Errorf("group room should have no room record, got %+v", rec)
	}
	if bound, _ := m.DirectRoom(ctx, testBot); bound != "" {
		t.Errorf("group room must not bind the bot, got %q", bound)
	}
}

func TestCreateGroupRoomTransportFailure(t *testing.T) {
	t.Parallel()
	m, hs, _ := newTestManager()
	hs.CreateErr = errTransport
	if _, err := m.CreateGroupRoom(context.Background(), []id.UserID{testAlice}, "x"); err != errTransport {
		t.Errorf("CreateGroupRoom: got %v, want the transport error unchanged", err)
	}
}

func TestDirectMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, hs, _ := newTestManager()
	peer := m.GenerateVirtualUserID()
	room, err := m.CreateDirectRoom(ctx, testAlice, peer, "Bob")
	if err != nil {
		t.Fatalf("CreateDirectRoom: %v", err)
	}

	if err := m.DirectMessage(ctx, room, "hello"); err != nil {
		t.Fatalf("DirectMessage: %v", err)
	}
	sends := hs.Sends()
	want := []sendTextCall{{As: peer, RoomID: room, Text: "hello"}}
	if !reflect.DeepEqual(sends, want) {
		t.Errorf("SendText calls: got %+v, want %+v", sends, want)
	}
}

func TestDirectMessageNotADirectRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, hs, _ := newTestManager()
	group, err := m.CreateGroupRoom(ctx, []id.UserID{testAlice}, "g")
	if err != nil {
		t.Fatalf("CreateGroupRoom: %v", err)
	}
	for _, room := range []id.RoomID{group, "!unknown:example.org"} {
		if err := m.DirectMessage(ctx, room, "hi"); !errors.Is(err, ErrNotADirectRoom) {
			t.Errorf("DirectMessage(%s): got %v, want ErrNotADirectRoom", room, err)
		}
	}
	if n := len(hs.Sends()); n != 0 {
		t.Errorf("SendText calls: got %d, want 0", n)
	}
}

func TestDirectMessageTransportFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, hs, _ := newTestManager()
	room, err := m.CreateDirectRoom(ctx, testAlice, "", "")
	if err != nil {
		t.Fatalf("CreateDirectRoom: %v", err)
	}
	hs.SendErr = errTransport
	if err := m.DirectMessage(ctx, room, "hi"); err != errTransport {
		t.Errorf("DirectMessage: got %v, want the transport error unchanged", err)
	}
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var k keyedMutex
	unlockA, err := k.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	unlockB, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	unlockA()
	unlockB()
	if len(k.locks) != 0 {
		t.Errorf("locks left behind: %d", len(k.locks))
	}
}

func TestKeyedMutexLockHonoursContext(t *testing.T) {
	t.Parallel()
	var k keyedMutex
	unlock, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("waiting Lock: got %v, want deadline exceeded", err)
	}

	unlock()
	if len(k.locks) != 0 {
		t.Errorf("locks left behind after cancelled wait: %d", len(k.locks))
	}
	again, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	again()
}

func TestCreateDirectRoomCancelledWhilePeerBusy(t *testing.T) {
	t.Parallel()
	m, hs, _ := newTestManager()
	peer := m.GenerateVirtualUserID()

	unlock, err := m.directLocks.Lock(context.Background(), string(peer))
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.CreateDirectRoom(ctx, testAlice, peer, "Peer"); !errors.Is(err, context.Canceled) {
		t.Errorf("CreateDirectRoom: got %v, want context.Canceled", err)
	}
	if n := len(hs.Creates()); n != 0 {
		t.Errorf("no room should be created, got %d", n)
	}
}
