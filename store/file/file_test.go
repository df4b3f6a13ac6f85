package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/seamline-io/conveyor/store"
	"github.com/seamline-io/conveyor/types"
)

func testItem(key string) types.Item {
	return types.Item{
		SourceID: "src-" + key,
		DedupKey: key,
		Title:    "title " + key,
		URL:      "https://example.com/" + key,
		Status:   types.ItemAdmitted,
		SeenAt:   time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC),
	}
}

func TestPutIfAbsent_InsertThenDuplicate(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "items.mp"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	inserted, err := s.PutIfAbsent(ctx, testItem("k1"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should win")
	}

	inserted, err = s.PutIfAbsent(ctx, testItem("k1"))
	if err != nil {
		t.Fatalf("put dup: %v", err)
	}
	if inserted {
		t.Fatal("second insert for the same key must lose")
	}
}

func TestPutIfAbsent_MissingKey(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "items.mp"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.PutIfAbsent(context.Background(), types.Item{Title: "no key"}); err != store.ErrMissingDedupKey {
		t.Errorf("expected ErrMissingDedupKey, got %v", err)
	}
}

func TestPutIfAbsent_ConcurrentSameKey(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "items.mp"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := s.PutIfAbsent(ctx, testItem("race"))
			if err != nil {
				t.Errorf("put: %v", err)
				return
			}
			wins <- inserted
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func TestReopen_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.mp")
	ctx := context.Background()

	s, err := Open(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.PutIfAbsent(ctx, testItem("persisted")); err != nil {
		t.Fatalf("put: %v", err)
	}

	reopened, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	item, ok, err := reopened.Get(ctx, "persisted")
	if err != nil || !ok {
		t.Fatalf("get after reopen: ok=%v err=%v", ok, err)
	}
	if item.Title != "title persisted" {
		t.Errorf("item round-trip: %+v", item)
	}

	inserted, err := reopened.PutIfAbsent(ctx, testItem("persisted"))
	if err != nil {
		t.Fatalf("put after reopen: %v", err)
	}
	if inserted {
		t.Error("key must stay occupied across restart")
	}
}

func TestSnapshot_OnDiskFormatIsMsgpack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.mp")
	s, err := Open(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.PutIfAbsent(context.Background(), testItem("wire")); err != nil {
		t.Fatalf("put: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		t.Fatalf("snapshot should decode as msgpack: %v", err)
	}
	if _, ok := snap.Items["wire"]; !ok {
		t.Errorf("snapshot missing inserted key: %+v", snap)
	}
}

func TestEviction_OldestFirst(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "items.mp"), 3)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c", "d"} {
		if _, err := s.PutIfAbsent(ctx, testItem(k)); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Error("oldest key should be evicted")
	}
	if _, ok, _ := s.Get(ctx, "d"); !ok {
		t.Error("newest key should remain")
	}

	items, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 items after eviction, got %d", len(items))
	}
}
