package lockstate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hazyhaar/tabkeep/pinstay/host"
)

// recorder counts Persist calls and keeps the last table.
type recorder struct {
	mu    sync.Mutex
	calls int
	last  Table
}

func (r *recorder) Persist(t Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = t
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type loaderFunc func(context.Context) (Table, error)

func (f loaderFunc) Load(ctx context.Context) (Table, error) { return f(ctx) }

var recA = Record{Domain: "a.example", URL: "https://a.example/"}

func TestInsert_PersistsOnce(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec, nil)

	if !r.Insert(7, recA) {
		t.Fatal("first Insert: want true")
	}
	if r.Insert(7, Record{Domain: "b.example", URL: "https://b.example/"}) {
		t.Fatal("second Insert on same id: want false")
	}
	if got, _ := r.Get(7); got != recA {
		t.Fatalf("Get(7) = %+v, want %+v", got, recA)
	}
	if rec.count() != 1 {
		t.Fatalf("persist calls = %d, want 1", rec.count())
	}
}

func TestInsert_RejectsEmptyDomain(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec, nil)

	if r.Insert(1, Record{URL: "about:blank"}) {
		t.Fatal("Insert with empty domain: want false")
	}
	if r.Len() != 0 || rec.count() != 0 {
		t.Fatalf("len=%d persist=%d, want 0/0", r.Len(), rec.count())
	}
}

func TestDelete(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec, nil)
	r.Insert(3, recA)

	if _, ok := r.Delete(4); ok {
		t.Fatal("Delete of unknown id: want false")
	}
	if rec.count() != 1 {
		t.Fatalf("delete of unknown id persisted: calls=%d", rec.count())
	}
	got, ok := r.Delete(3)
	if !ok || got != recA {
		t.Fatalf("Delete(3) = %+v, %v", got, ok)
	}
	if rec.count() != 2 || len(rec.last) != 0 {
		t.Fatalf("after delete: calls=%d last=%v", rec.count(), rec.last)
	}
}

func TestTransfer(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec, nil)
	r.Insert(7, recA)

	got, ok := r.Transfer(7, 42)
	if !ok || got != recA {
		t.Fatalf("Transfer = %+v, %v", got, ok)
	}
	if _, ok := r.Get(7); ok {
		t.Fatal("old id still locked after transfer")
	}
	if got, ok := r.Get(42); !ok || got != recA {
		t.Fatalf("Get(42) = %+v, %v", got, ok)
	}
	// One persist for the insert, one for the transfer; the persisted
	// copy never shows the domain unlocked.
	if rec.count() != 2 {
		t.Fatalf("persist calls = %d, want 2", rec.count())
	}
	if _, ok := rec.last[42]; !ok || len(rec.last) != 1 {
		t.Fatalf("persisted table = %v", rec.last)
	}

	if _, ok := r.Transfer(7, 43); ok {
		t.Fatal("Transfer from unlocked id: want false")
	}
}

func TestTransfer_AtomicForReaders(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Insert(1, recA)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	var gap bool
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := r.Snapshot()
			if len(snap) != 1 {
				gap = true
			}
		}
	}()

	from := host.TabID(1)
	for i := 2; i < 500; i++ {
		r.Transfer(from, host.TabID(i))
		from = host.TabID(i)
	}
	close(stop)
	wg.Wait()
	if gap {
		t.Fatal("a reader observed the table without exactly one lock during transfers")
	}
}

func TestMerge_ExistingWins(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec, nil)
	r.Insert(1, recA)

	n := r.Merge(Table{
		1: {Domain: "other.example", URL: "https://other.example/"},
		2: {Domain: "b.example", URL: "https://b.example/"},
		3: {Domain: "", URL: "broken"},
	})
	if n != 1 {
		t.Fatalf("Merge added %d, want 1", n)
	}
	if got, _ := r.Get(1); got != recA {
		t.Fatalf("existing lock overwritten: %+v", got)
	}
	if _, ok := r.Get(3); ok {
		t.Fatal("record without domain merged")
	}
	if rec.count() != 2 {
		t.Fatalf("persist calls = %d, want 2", rec.count())
	}

	if r.Merge(Table{2: {Domain: "b.example"}}) != 0 || rec.count() != 2 {
		t.Fatal("no-op merge must not persist")
	}
}

func TestRetain(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Insert(1, recA)
	r.Insert(2, Record{Domain: "b.example", URL: "https://b.example/"})

	dropped := r.Retain(map[host.TabID]bool{2: true})
	if len(dropped) != 1 || dropped[1] != recA {
		t.Fatalf("dropped = %v", dropped)
	}
	if ids := r.Snapshot().IDs(); len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("remaining ids = %v", ids)
	}
}

func TestRestore_LoadErrorDegradesToEmpty(t *testing.T) {
	r := NewRegistry(nil, nil)
	n := r.Restore(context.Background(), loaderFunc(func(context.Context) (Table, error) {
		return nil, errors.New("disk on fire")
	}))
	if n != 0 || r.Len() != 0 {
		t.Fatalf("Restore after error: n=%d len=%d", n, r.Len())
	}
}

func TestRestore_Merges(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Insert(9, recA)
	n := r.Restore(context.Background(), loaderFunc(func(context.Context) (Table, error) {
		return Table{5: {Domain: "c.example", URL: "https://c.example/"}}, nil
	}))
	if n != 1 || r.Len() != 2 {
		t.Fatalf("Restore: n=%d len=%d, want 1/2", n, r.Len())
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Insert(1, recA)
	snap := r.Snapshot()
	delete(snap, 1)
	if _, ok := r.Get(1); !ok {
		t.Fatal("mutating a snapshot changed the registry")
	}
}
