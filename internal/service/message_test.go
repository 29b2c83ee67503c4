package service

import (
	"errors"
	"testing"

	"communities/internal/models"
	"communities/internal/realtime"
)

func setupMessaging(t *testing.T) (*fakeNotifier, *CommunityService, *MessageService, uint, []uint) {
	t.Helper()
	gdb := testDB(t)
	fake := &fakeNotifier{}
	cfg := testCfg()
	communitySvc := NewCommunityService(gdb, cfg, fake)
	msgSvc := NewMessageService(gdb, cfg, fake)
	ids := seedUsers(t, gdb, "alice", "bob", "carol")

	dto, err := communitySvc.Create(ids[0], "pulse", []uint{ids[1], ids[2]})
	if err != nil {
		t.Fatalf("create community: %v", err)
	}
	fake.rooms = nil
	fake.users = nil
	return fake, communitySvc, msgSvc, dto.ID, ids
}

func TestSend_FillsIdentityAndBroadcasts(t *testing.T) {
	fake, _, msgSvc, cid, ids := setupMessaging(t)

	dto, err := msgSvc.Send(cid, ids[0], "hello there", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if dto.SenderDisplayName == "" {
		t.Error("empty display name was not replaced with a generated identity")
	}
	if dto.SenderDisplayEmoji != "🐶" {
		t.Errorf("display emoji = %q, want default", dto.SenderDisplayEmoji)
	}
	got := fake.roomEvents(realtime.EvtNewMessage)
	if len(got) != 1 || got[0].Target != cid {
		t.Fatalf("newCommunityMessage broadcasts = %+v", got)
	}
	if b, ok := got[0].Data.(MessageDTO); !ok || b.Content != "hello there" {
		t.Errorf("broadcast payload = %+v", got[0].Data)
	}
}

func TestSend_PersistsBeforeBroadcast(t *testing.T) {
	gdb := testDB(t)
	fake := &fakeNotifier{}
	cfg := testCfg()
	communitySvc := NewCommunityService(gdb, cfg, fake)
	msgSvc := NewMessageService(gdb, cfg, fake)
	ids := seedUsers(t, gdb, "alice")

	dto, err := communitySvc.Create(ids[0], "pulse", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// At broadcast time the message must already be readable from the store.
	fake.onRoom = func(roomID uint, event string, data interface{}) {
		if event != realtime.EvtNewMessage {
			return
		}
		var count int64
		gdb.Model(&models.Message{}).Where("community_id = ?", roomID).Count(&count)
		if count == 0 {
			t.Error("broadcast fired before the message was persisted")
		}
	}
	if _, err := msgSvc.Send(dto.ID, ids[0], "ordered", "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSend_NonMemberRejected(t *testing.T) {
	_, _, msgSvc, cid, _ := setupMessaging(t)

	if _, err := msgSvc.Send(cid, 9999, "hi", "", ""); !errors.Is(err, ErrNotMember) {
		t.Errorf("outsider send: err = %v, want ErrNotMember", err)
	}
}

func TestDelete_SenderOnly(t *testing.T) {
	fake, _, msgSvc, cid, ids := setupMessaging(t)

	dto, err := msgSvc.Send(cid, ids[1], "mine", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := msgSvc.Delete(dto.ID, ids[0]); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("delete by non-sender: err = %v, want ErrNotAllowed", err)
	}
	if err := msgSvc.Delete(dto.ID, ids[1]); err != nil {
		t.Fatalf("delete by sender: %v", err)
	}
	if got := fake.roomEvents(realtime.EvtMessageDeleted); len(got) != 1 {
		t.Errorf("communityMessageDeleted broadcasts = %+v", got)
	}
}

func TestToggleReaction_AddAndRemove(t *testing.T) {
	fake, _, msgSvc, cid, ids := setupMessaging(t)

	msg, err := msgSvc.Send(cid, ids[0], "react to me", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	dto, err := msgSvc.ToggleReaction(msg.ID, ids[1], "🔥")
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if users := dto.Reactions["🔥"]; len(users) != 1 || users[0] != ids[1] {
		t.Errorf("reactions after add = %v", dto.Reactions)
	}

	dto, err = msgSvc.ToggleReaction(msg.ID, ids[1], "🔥")
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if len(dto.Reactions["🔥"]) != 0 {
		t.Errorf("reactions after remove = %v", dto.Reactions)
	}
	if got := fake.roomEvents(realtime.EvtReactionUpdate); len(got) != 2 {
		t.Errorf("messageReactionUpdate broadcasts = %d, want 2", len(got))
	}
}

func TestReport_AutoDeleteAtThreshold(t *testing.T) {
	fake, _, msgSvc, cid, ids := setupMessaging(t)

	msg, err := msgSvc.Send(cid, ids[0], "reported", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	result, err := msgSvc.Report(msg.ID, ids[1], "spam")
	if err != nil {
		t.Fatalf("first report: %v", err)
	}
	if result.Deleted || result.Reports != 1 {
		t.Fatalf("after first report: %+v", result)
	}
	if _, err := msgSvc.Report(msg.ID, ids[1], "spam"); !errors.Is(err, ErrAlreadyReported) {
		t.Errorf("duplicate report: err = %v, want ErrAlreadyReported", err)
	}

	// testCfg threshold is 2
	result, err = msgSvc.Report(msg.ID, ids[2], "harassment")
	if err != nil {
		t.Fatalf("second report: %v", err)
	}
	if !result.Deleted {
		t.Fatalf("threshold report did not delete: %+v", result)
	}
	if err := msgSvc.Delete(msg.ID, ids[0]); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("message still present after auto-delete")
	}
	if got := fake.roomEvents(realtime.EvtMessageDeleted); len(got) != 1 {
		t.Errorf("communityMessageDeleted broadcasts = %+v", got)
	}
}

func TestReport_InvalidReasonRejected(t *testing.T) {
	_, _, msgSvc, cid, ids := setupMessaging(t)

	msg, err := msgSvc.Send(cid, ids[0], "x", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := msgSvc.Report(msg.ID, ids[1], "because"); !errors.Is(err, ErrInvalidReason) {
		t.Errorf("bogus reason: err = %v, want ErrInvalidReason", err)
	}
}

func TestPin_ReplacesPrevious(t *testing.T) {
	fake, communitySvc, msgSvc, cid, ids := setupMessaging(t)

	first, err := msgSvc.Send(cid, ids[0], "first", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, err := msgSvc.Send(cid, ids[1], "second", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := msgSvc.Pin(cid, first.ID, ids[0]); err != nil {
		t.Fatalf("pin first: %v", err)
	}
	if _, err := msgSvc.Pin(cid, second.ID, ids[1]); err != nil {
		t.Fatalf("pin second: %v", err)
	}

	profile, err := communitySvc.Profile(cid)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.PinnedMessageID == nil || *profile.PinnedMessageID != second.ID {
		t.Errorf("pinned message = %v, want %d", profile.PinnedMessageID, second.ID)
	}
	if got := fake.roomEvents(realtime.EvtMessagePinned); len(got) != 2 {
		t.Errorf("communityMessagePinned broadcasts = %d, want 2", len(got))
	}
}

func TestPin_ForeignMessageRejected(t *testing.T) {
	gdb := testDB(t)
	fake := &fakeNotifier{}
	cfg := testCfg()
	communitySvc := NewCommunityService(gdb, cfg, fake)
	msgSvc := NewMessageService(gdb, cfg, fake)
	ids := seedUsers(t, gdb, "alice")

	one, err := communitySvc.Create(ids[0], "one", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	two, err := communitySvc.Create(ids[0], "two", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	msg, err := msgSvc.Send(one.ID, ids[0], "belongs to one", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := msgSvc.Pin(two.ID, msg.ID, ids[0]); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("cross-community pin: err = %v, want ErrMessageNotFound", err)
	}
}

func TestUnpin_Permissions(t *testing.T) {
	fake, _, msgSvc, cid, ids := setupMessaging(t)

	msg, err := msgSvc.Send(cid, ids[1], "pin me", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	// ids[2] pins, so admin (ids[0]), pinner (ids[2]) and sender (ids[1]) may unpin
	if _, err := msgSvc.Pin(cid, msg.ID, ids[2]); err != nil {
		t.Fatalf("pin: %v", err)
	}

	if err := msgSvc.Unpin(cid, ids[1]); err != nil {
		t.Fatalf("unpin by sender: %v", err)
	}
	if got := fake.roomEvents(realtime.EvtMessageUnpinned); len(got) != 1 {
		t.Errorf("communityMessageUnpinned broadcasts = %+v", got)
	}
	if err := msgSvc.Unpin(cid, ids[0]); !errors.Is(err, ErrNothingPinned) {
		t.Errorf("second unpin: err = %v, want ErrNothingPinned", err)
	}
}

func TestUnpin_StrangerRejected(t *testing.T) {
	_, _, msgSvc, cid, ids := setupMessaging(t)

	msg, err := msgSvc.Send(cid, ids[0], "pinned", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := msgSvc.Pin(cid, msg.ID, ids[0]); err != nil {
		t.Fatalf("pin: %v", err)
	}
	// ids[1] is a member but neither admin, pinner nor sender
	if err := msgSvc.Unpin(cid, ids[1]); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("unpin by regular member: err = %v, want ErrNotAllowed", err)
	}
}

func TestSeen_Tracking(t *testing.T) {
	_, _, msgSvc, cid, ids := setupMessaging(t)

	first, err := msgSvc.Send(cid, ids[0], "one", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := msgSvc.Send(cid, ids[0], "two", "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	count, err := msgSvc.UnseenCount(cid, ids[1])
	if err != nil {
		t.Fatalf("unseen: %v", err)
	}
	if count != 2 {
		t.Errorf("unseen = %d, want 2", count)
	}

	if err := msgSvc.MarkSeen(first.ID, ids[1]); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if err := msgSvc.MarkSeen(first.ID, ids[1]); err != nil {
		t.Fatalf("mark seen twice: %v", err)
	}

	count, err = msgSvc.UnseenCount(cid, ids[1])
	if err != nil {
		t.Fatalf("unseen: %v", err)
	}
	if count != 1 {
		t.Errorf("unseen after marking = %d, want 1", count)
	}

	// own messages never count as unseen
	count, err = msgSvc.UnseenCount(cid, ids[0])
	if err != nil {
		t.Fatalf("unseen: %v", err)
	}
	if count != 0 {
		t.Errorf("sender unseen = %d, want 0", count)
	}
}
