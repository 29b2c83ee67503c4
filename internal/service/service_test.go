package service

import (
	"path/filepath"
	"testing"

	"communities/internal/config"
	"communities/internal/db"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeNotifier records every notification so tests can assert on
// fan-out without a live hub. onRoom lets a test observe database
// state at the moment of the broadcast.
type notification struct {
	Target uint
	Event  string
	Data   interface{}
}

type fakeNotifier struct {
	rooms  []notification
	users  []notification
	onRoom func(roomID uint, event string, data interface{})
}

func (f *fakeNotifier) NotifyRoom(roomID uint, event string, data interface{}) {
	if f.onRoom != nil {
		f.onRoom(roomID, event, data)
	}
	f.rooms = append(f.rooms, notification{Target: roomID, Event: event, Data: data})
}

func (f *fakeNotifier) NotifyUser(userID uint, event string, data interface{}) {
	f.users = append(f.users, notification{Target: userID, Event: event, Data: data})
}

func (f *fakeNotifier) roomEvents(event string) []notification {
	var out []notification
	for _, n := range f.rooms {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func testCfg() config.Config {
	return config.Config{
		JWTSecret:                 "test-secret",
		Env:                       "dev",
		AccessTokenTTLMinutes:     15,
		RefreshTokenTTLDays:       7,
		ReportAutoDeleteThreshold: 2,
		DeleteVoteCancelHours:     24,
	}
}

func seedUsers(t *testing.T, gdb *gorm.DB, names ...string) []uint {
	t.Helper()
	svc := NewUserService(gdb, testCfg())
	ids := make([]uint, 0, len(names))
	for _, name := range names {
		res, err := svc.Register(name, "pass1234")
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		ids = append(ids, res.ID)
	}
	return ids
}
