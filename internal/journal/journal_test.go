package journal

import (
	"context"
	"fmt"
	"testing"

	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	logpkg "github.com/rzbill/relay/pkg/log"
)

func openTestJournal(t *testing.T, capEntries int) *Journal {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	j, err := Open(db, logpkg.NewTestLogger(), capEntries)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return j
}

func TestAppendAndReadNewestFirst(t *testing.T) {
	j := openTestJournal(t, 10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := j.Append(ctx, "delivery", fmt.Sprintf("msg-%d", i), nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := j.ReadRecent(10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "msg-2" || entries[2].Message != "msg-0" {
		t.Fatalf("not newest-first: %v", entries)
	}
}

func TestCapTrimsOldest(t *testing.T) {
	j := openTestJournal(t, 5)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		if err := j.Append(ctx, "k", fmt.Sprintf("m-%d", i), nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if j.Len() != 5 {
		t.Fatalf("len: want 5, got %d", j.Len())
	}
	entries, _ := j.ReadRecent(100)
	if len(entries) != 5 {
		t.Fatalf("stored entries: %d", len(entries))
	}
	if entries[0].Message != "m-11" || entries[4].Message != "m-7" {
		t.Fatalf("wrong window after trim: first=%s last=%s", entries[0].Message, entries[4].Message)
	}
}

func TestRecordSwallowsBadDetails(t *testing.T) {
	j := openTestJournal(t, 5)
	j.Record("k", "bad details", func() {}) // unserializable, must not panic
	j.Record("k", "good", map[string]string{"a": "b"})
	if j.Len() != 2 {
		t.Fatalf("len: %d", j.Len())
	}
}
