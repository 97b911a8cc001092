package journal

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/tabkeep/dbopen"
)

func newJournal(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	j := New(db, append([]Option{WithFlushInterval(time.Hour)}, opts...)...)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	base := time.Now()
	j.Record(Entry{Kind: KindLock, TabID: 1, Domain: "a.example", URL: "https://a.example/", CreatedAt: base})
	j.Record(Entry{Kind: KindRevert, TabID: 1, Domain: "a.example", CreatedAt: base.Add(time.Second)})
	j.Record(Entry{Kind: KindRecreate, TabID: 1, NewTabID: 7, Domain: "a.example", CreatedAt: base.Add(2 * time.Second)})

	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Kind != KindRecreate || got[0].NewTabID != 7 {
		t.Fatalf("newest = %+v", got[0])
	}
	if got[1].Kind != KindRevert {
		t.Fatalf("second = %+v", got[1])
	}
	if !strings.HasPrefix(got[0].ID, "lev_") {
		t.Fatalf("id %q lacks lev_ prefix", got[0].ID)
	}
}

func TestBufferFlushesInlineWhenFull(t *testing.T) {
	j := newJournal(t, WithBufferSize(2))
	j.Record(Entry{Kind: KindLock, TabID: 1})
	j.Record(Entry{Kind: KindLock, TabID: 2})

	var n int
	if err := j.db.QueryRow("SELECT COUNT(*) FROM lock_events").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rows after full buffer = %d, want 2", n)
	}
}

func TestCloseFlushes(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	j := New(db, WithFlushInterval(time.Hour))
	j.Record(Entry{Kind: KindUnlock, TabID: 3})
	j.Close()
	j.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM lock_events").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rows after Close = %d, want 1", n)
	}
}

func TestCleanup(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	j.Record(Entry{Kind: KindLock, TabID: 1, CreatedAt: time.Now().AddDate(0, 0, -40)})
	j.Record(Entry{Kind: KindLock, TabID: 2})
	j.Flush()

	n, err := j.Cleanup(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("removed = %d, want 1", n)
	}
	left, _ := j.Recent(ctx, 0)
	if len(left) != 1 || left[0].TabID != 2 {
		t.Fatalf("left = %+v", left)
	}
}

func TestCustomIDGenerator(t *testing.T) {
	var n int
	j := newJournal(t, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}))
	j.Record(Entry{Kind: KindRestore})
	got, err := j.Recent(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "id-1" {
		t.Fatalf("got %+v", got)
	}
}
