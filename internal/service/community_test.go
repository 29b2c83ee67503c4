package service

import (
	"errors"
	"testing"

	"communities/internal/models"
	"communities/internal/realtime"
)

func TestCreate_AddsMembersAndNotifiesInvitees(t *testing.T) {
	gdb := testDB(t)
	fake := &fakeNotifier{}
	svc := NewCommunityService(gdb, testCfg(), fake)
	ids := seedUsers(t, gdb, "alice", "bob", "carol")

	dto, err := svc.Create(ids[0], "night owls", []uint{ids[1], ids[2], ids[2], 999})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if dto.MemberCount != 3 {
		t.Errorf("member count = %d, want 3", dto.MemberCount)
	}
	if len(fake.users) != 2 {
		t.Fatalf("got %d targeted notifications, want 2 (one per invitee)", len(fake.users))
	}
	for _, n := range fake.users {
		if n.Event != realtime.EvtCommunityCreated {
			t.Errorf("invitee notification event = %s", n.Event)
		}
		if n.Target != ids[1] && n.Target != ids[2] {
			t.Errorf("notification sent to unexpected user %d", n.Target)
		}
	}
}

func TestJoin_LockedCommunityRejected(t *testing.T) {
	gdb := testDB(t)
	svc := NewCommunityService(gdb, testCfg(), &fakeNotifier{})
	ids := seedUsers(t, gdb, "alice", "bob")

	dto, err := svc.Create(ids[0], "club", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	locked := true
	if _, err := svc.UpdateSettings(dto.ID, ids[0], nil, &locked); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if err := svc.Join(dto.ID, ids[1]); !errors.Is(err, ErrCommunityLocked) {
		t.Errorf("join locked community: err = %v, want ErrCommunityLocked", err)
	}
}

func TestUpdateSettings_AdminOnly(t *testing.T) {
	gdb := testDB(t)
	svc := NewCommunityService(gdb, testCfg(), &fakeNotifier{})
	ids := seedUsers(t, gdb, "alice", "bob")

	dto, err := svc.Create(ids[0], "club", []uint{ids[1]})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	name := "renamed"
	if _, err := svc.UpdateSettings(dto.ID, ids[1], &name, nil); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("non-admin settings change: err = %v, want ErrNotAdmin", err)
	}
}

func TestLeave_CreatorRejected(t *testing.T) {
	gdb := testDB(t)
	svc := NewCommunityService(gdb, testCfg(), &fakeNotifier{})
	ids := seedUsers(t, gdb, "alice", "bob")

	dto, err := svc.Create(ids[0], "club", []uint{ids[1]})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Leave(dto.ID, ids[0]); !errors.Is(err, ErrCreatorCantLeave) {
		t.Errorf("creator leave: err = %v, want ErrCreatorCantLeave", err)
	}
	if err := svc.Leave(dto.ID, ids[1]); err != nil {
		t.Errorf("member leave: %v", err)
	}
}

func TestAddMembers_SkipsExistingAndUnknown(t *testing.T) {
	gdb := testDB(t)
	fake := &fakeNotifier{}
	svc := NewCommunityService(gdb, testCfg(), fake)
	ids := seedUsers(t, gdb, "alice", "bob", "carol")

	dto, err := svc.Create(ids[0], "club", []uint{ids[1]})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fake.users = nil

	added, err := svc.AddMembers(dto.ID, ids[1], []uint{ids[1], ids[2], 12345})
	if err != nil {
		t.Fatalf("add members: %v", err)
	}
	if len(added) != 1 || added[0] != ids[2] {
		t.Errorf("added = %v, want [%d]", added, ids[2])
	}
	if len(fake.users) != 1 || fake.users[0].Target != ids[2] {
		t.Errorf("expected one notification to carol, got %+v", fake.users)
	}
}

func TestAddMembers_RequiresMembership(t *testing.T) {
	gdb := testDB(t)
	svc := NewCommunityService(gdb, testCfg(), &fakeNotifier{})
	ids := seedUsers(t, gdb, "alice", "eve", "carol")

	dto, err := svc.Create(ids[0], "club", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AddMembers(dto.ID, ids[1], []uint{ids[2]}); !errors.Is(err, ErrNotMember) {
		t.Errorf("outsider add members: err = %v, want ErrNotMember", err)
	}
}

func TestSuggestions_ExcludesJoined(t *testing.T) {
	gdb := testDB(t)
	svc := NewCommunityService(gdb, testCfg(), &fakeNotifier{})
	ids := seedUsers(t, gdb, "alice", "bob")

	if _, err := svc.Create(ids[0], "mine", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	other, err := svc.Create(ids[1], "other", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := svc.Suggestions(ids[0], 0)
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	if len(out) != 1 || out[0].ID != other.ID {
		t.Errorf("suggestions = %+v, want only community %d", out, other.ID)
	}
}

func TestDeleteVote_MajorityDeletesAndAnnounces(t *testing.T) {
	gdb := testDB(t)
	fake := &fakeNotifier{}
	cfg := testCfg()
	communitySvc := NewCommunityService(gdb, cfg, fake)
	msgSvc := NewMessageService(gdb, cfg, fake)
	ids := seedUsers(t, gdb, "alice", "bob", "carol", "dave")

	dto, err := communitySvc.Create(ids[0], "doomed", []uint{ids[1], ids[2], ids[3]})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := msgSvc.Send(dto.ID, ids[1], "soon gone", "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	status, err := communitySvc.StartDeleteVote(dto.ID, ids[0])
	if err != nil {
		t.Fatalf("start vote: %v", err)
	}
	if status.Votes != 1 || status.Deleted {
		t.Fatalf("after start: %+v", status)
	}

	// 2 of 4 votes reaches the half mark
	status, err = communitySvc.VoteDelete(dto.ID, ids[1])
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !status.Deleted {
		t.Fatalf("2/4 votes did not delete: %+v", status)
	}

	if _, err := communitySvc.Profile(dto.ID); !errors.Is(err, ErrCommunityNotFound) {
		t.Errorf("community still readable after deletion: %v", err)
	}
	var msgCount int64
	gdb.Model(&models.Message{}).Where("community_id = ?", dto.ID).Count(&msgCount)
	if msgCount != 0 {
		t.Errorf("%d messages survived community deletion", msgCount)
	}
	if got := fake.roomEvents(realtime.EvtCommunityDeleted); len(got) != 1 || got[0].Target != dto.ID {
		t.Errorf("communityDeleted broadcasts = %+v", got)
	}
}

func TestDeleteVote_ToggleRetracts(t *testing.T) {
	gdb := testDB(t)
	svc := NewCommunityService(gdb, testCfg(), &fakeNotifier{})
	ids := seedUsers(t, gdb, "alice", "bob", "carol", "dave", "erin", "frank")

	dto, err := svc.Create(ids[0], "club", []uint{ids[1], ids[2], ids[3], ids[4], ids[5]})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.StartDeleteVote(dto.ID, ids[0]); err != nil {
		t.Fatalf("start vote: %v", err)
	}

	status, err := svc.VoteDelete(dto.ID, ids[1])
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if status.Votes != 2 {
		t.Fatalf("votes = %d, want 2", status.Votes)
	}

	status, err = svc.VoteDelete(dto.ID, ids[1])
	if err != nil {
		t.Fatalf("retract: %v", err)
	}
	if status.Votes != 1 || status.Deleted {
		t.Errorf("after retract: %+v", status)
	}
}

func TestDeleteVote_RequiresActiveVote(t *testing.T) {
	gdb := testDB(t)
	svc := NewCommunityService(gdb, testCfg(), &fakeNotifier{})
	ids := seedUsers(t, gdb, "alice", "bob")

	dto, err := svc.Create(ids[0], "club", []uint{ids[1]})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.VoteDelete(dto.ID, ids[1]); !errors.Is(err, ErrNoActiveVote) {
		t.Errorf("vote without active ballot: err = %v, want ErrNoActiveVote", err)
	}
}

func TestCancelDeleteVote_WindowEnforced(t *testing.T) {
	gdb := testDB(t)
	ids := seedUsers(t, gdb, "alice", "bob", "carol", "dave")

	// Inside the window the cancel is rejected.
	svc := NewCommunityService(gdb, testCfg(), &fakeNotifier{})
	dto, err := svc.Create(ids[0], "club", []uint{ids[1], ids[2], ids[3]})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.StartDeleteVote(dto.ID, ids[0]); err != nil {
		t.Fatalf("start vote: %v", err)
	}
	if err := svc.CancelDeleteVote(dto.ID, ids[0]); !errors.Is(err, ErrVoteWindowActive) {
		t.Errorf("cancel inside window: err = %v, want ErrVoteWindowActive", err)
	}

	// With a zero-hour window the cancel goes through and clears ballots.
	cfg := testCfg()
	cfg.DeleteVoteCancelHours = 0
	free := NewCommunityService(gdb, cfg, &fakeNotifier{})
	if err := free.CancelDeleteVote(dto.ID, ids[0]); err != nil {
		t.Fatalf("cancel with zero window: %v", err)
	}
	var votes int64
	gdb.Model(&models.DeleteVote{}).Where("community_id = ?", dto.ID).Count(&votes)
	if votes != 0 {
		t.Errorf("%d ballots survived the cancel", votes)
	}
}
