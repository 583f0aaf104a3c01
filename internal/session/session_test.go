package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestFilterValid_DropsBadMessages keeps only messages with a known role and
// non-empty content.
func TestFilterValid_DropsBadMessages(t *testing.T) {
	input := []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleUser, Content: "   "},
		{Role: "moderator", Content: "not a real role"},
		{Role: RoleNudge, Content: "are you still there?"},
		{Role: RoleBot, Content: "hi", Persona: "Ollama gemma"},
	}

	valid := FilterValid(input)
	if len(valid) != 3 {
		t.Fatalf("expected 3 valid messages, got %d", len(valid))
	}
	if valid[0].Content != "hello" || valid[1].Role != RoleNudge || valid[2].Persona != "Ollama gemma" {
		t.Errorf("unexpected surviving messages: %+v", valid)
	}
}

// TestTrim_KeepsMostRecentInOrder verifies the context bound: after appending
// max+k messages, exactly max survive and they are the most recent ones in
// their original relative order.
func TestTrim_KeepsMostRecentInOrder(t *testing.T) {
	const max = 5
	var history []Message
	for i := 0; i < max+3; i++ {
		history = append(history, Message{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i)})
	}

	trimmed := Trim(history, max)
	if len(trimmed) != max {
		t.Fatalf("expected %d messages after trim, got %d", max, len(trimmed))
	}
	for i, m := range trimmed {
		want := fmt.Sprintf("msg-%d", i+3)
		if m.Content != want {
			t.Errorf("position %d: expected %q, got %q", i, want, m.Content)
		}
	}
}

// TestTrim_NoopUnderLimit leaves short histories untouched.
func TestTrim_NoopUnderLimit(t *testing.T) {
	history := []Message{{Role: RoleUser, Content: "only one"}}
	if got := Trim(history, 10); len(got) != 1 {
		t.Errorf("expected untouched history, got %d messages", len(got))
	}
}

// TestMemoryStore_RoundTrip covers Put/Get/Delete and Get's absence
// semantics (nil, no error).
func TestMemoryStore_RoundTrip(t *testing.T) {
	store, err := NewStore(StoreKindMemory)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	if history, err := store.Get(ctx, "nobody"); err != nil || history != nil {
		t.Fatalf("expected (nil, nil) for unknown client, got (%v, %v)", history, err)
	}

	want := []Message{{Role: RoleUser, Content: "hello"}}
	if err := store.Put(ctx, "c1", want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "c1")
	if err != nil || len(got) != 1 || got[0].Content != "hello" {
		t.Fatalf("Get after Put: got (%v, %v)", got, err)
	}

	// Mutating the returned slice must not leak back into the store.
	got[0].Content = "mutated"
	again, _ := store.Get(ctx, "c1")
	if again[0].Content != "hello" {
		t.Error("store returned a shared slice; callers can corrupt stored history")
	}

	if err := store.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if history, _ := store.Get(ctx, "c1"); history != nil {
		t.Error("expected nil history after delete")
	}
}

// TestNewStore_RejectsBadConfig rejects unknown kinds and a redis driver
// without a client.
func TestNewStore_RejectsBadConfig(t *testing.T) {
	if _, err := NewStore("etcd"); err != ErrInvalidStoreKind {
		t.Errorf("expected ErrInvalidStoreKind, got %v", err)
	}
	if _, err := NewStore(StoreKindRedis); err != ErrInvalidConfig {
		t.Errorf("expected ErrInvalidConfig for redis without client, got %v", err)
	}
}

// TestTracker_MutualExclusion instruments the client lock with a shared
// counter that must never observe two concurrent holders for the same key.
func TestTracker_MutualExclusion(t *testing.T) {
	store, _ := NewStore(StoreKindMemory)
	tracker := NewTracker(store, time.Hour)

	var inCritical atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				lock := tracker.Lock("same-client")
				lock.Lock()
				if inCritical.Add(1) > 1 {
					violations.Add(1)
				}
				inCritical.Add(-1)
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	if violations.Load() != 0 {
		t.Errorf("observed %d overlapping lock holds for one client key", violations.Load())
	}
}

// TestTracker_LockIsStablePerKey returns the same mutex for repeated calls
// with one key and distinct mutexes for distinct keys.
func TestTracker_LockIsStablePerKey(t *testing.T) {
	store, _ := NewStore(StoreKindMemory)
	tracker := NewTracker(store, time.Hour)

	if tracker.Lock("a") != tracker.Lock("a") {
		t.Error("expected a stable mutex per client key")
	}
	if tracker.Lock("a") == tracker.Lock("b") {
		t.Error("expected distinct mutexes for distinct keys")
	}
}

// TestTracker_AcquireSurvivesConcurrentEviction races turns against a sweep
// that evicts the key at every unlocked moment. Acquire must still guarantee
// a single holder: a turn that fetched a mutex the sweep then replaced has to
// retry on the fresh one instead of running alongside its successor.
func TestTracker_AcquireSurvivesConcurrentEviction(t *testing.T) {
	store, _ := NewStore(StoreKindMemory)

	// Clock pinned far in the past so every sweep sees the client as idle.
	tracker := NewTracker(store, time.Minute).
		WithClock(func() time.Time { return time.Unix(0, 0) })

	sweeperDone := make(chan struct{})
	stopSweeping := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		for {
			select {
			case <-stopSweeping:
				return
			default:
				tracker.EvictIdle(context.Background())
			}
		}
	}()

	var inCritical atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				lock := tracker.Acquire("contested")
				tracker.Touch("contested")
				if inCritical.Add(1) > 1 {
					violations.Add(1)
				}
				inCritical.Add(-1)
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	close(stopSweeping)
	<-sweeperDone

	if violations.Load() != 0 {
		t.Errorf("observed %d overlapping holds across eviction sweeps", violations.Load())
	}
}

// TestTracker_AcquireIgnoresStaleMutex evicts a client after its mutex
// pointer was fetched; a later Acquire must contend on the freshly registered
// mutex, not the orphaned one.
func TestTracker_AcquireIgnoresStaleMutex(t *testing.T) {
	store, _ := NewStore(StoreKindMemory)

	current := time.Unix(1_700_000_000, 0)
	tracker := NewTracker(store, time.Minute).WithClock(func() time.Time { return current })

	stale := tracker.Lock("x")
	tracker.Touch("x")

	current = current.Add(10 * time.Minute)
	if evicted := tracker.EvictIdle(context.Background()); len(evicted) != 1 {
		t.Fatalf("expected eviction, got %v", evicted)
	}

	fresh := tracker.Acquire("x")
	if fresh == stale {
		t.Fatal("Acquire returned the evicted mutex generation")
	}

	// The stale mutex is free, but a second Acquire must still block on the
	// fresh holder rather than sneak in through the orphan.
	acquired := make(chan *sync.Mutex)
	go func() {
		acquired <- tracker.Acquire("x")
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire proceeded while the fresh lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	fresh.Unlock()
	second := <-acquired
	if second != fresh {
		t.Error("second Acquire landed on a different mutex generation")
	}
	second.Unlock()
}

// TestTracker_EvictIdle removes lock, timestamp, and stored history together
// once a client has been idle past the timeout, and leaves active clients
// alone.
func TestTracker_EvictIdle(t *testing.T) {
	store, _ := NewStore(StoreKindMemory)

	current := time.Unix(1_700_000_000, 0)
	tracker := NewTracker(store, 30*time.Minute).WithClock(func() time.Time { return current })
	ctx := context.Background()

	tracker.Lock("idle")
	tracker.Touch("idle")
	_ = store.Put(ctx, "idle", []Message{{Role: RoleUser, Content: "old"}})

	current = current.Add(10 * time.Minute)
	tracker.Lock("fresh")
	tracker.Touch("fresh")

	current = current.Add(25 * time.Minute) // "idle" is now 35m old, "fresh" 25m

	evicted := tracker.EvictIdle(ctx)
	if len(evicted) != 1 || evicted[0] != "idle" {
		t.Fatalf("expected exactly [idle] evicted, got %v", evicted)
	}
	if history, _ := store.Get(ctx, "idle"); history != nil {
		t.Error("expected evicted client's history to be deleted")
	}
	if tracker.ActiveClients() != 1 {
		t.Errorf("expected 1 remaining client, got %d", tracker.ActiveClients())
	}
}

// TestTracker_EvictIdle_SkipsHeldLock never evicts a client whose request is
// still in flight, even past the idle timeout.
func TestTracker_EvictIdle_SkipsHeldLock(t *testing.T) {
	store, _ := NewStore(StoreKindMemory)

	current := time.Unix(1_700_000_000, 0)
	tracker := NewTracker(store, time.Minute).WithClock(func() time.Time { return current })

	lock := tracker.Lock("busy")
	tracker.Touch("busy")
	lock.Lock()
	defer lock.Unlock()

	current = current.Add(10 * time.Minute)

	if evicted := tracker.EvictIdle(context.Background()); len(evicted) != 0 {
		t.Errorf("expected no evictions while the lock is held, got %v", evicted)
	}
	if tracker.ActiveClients() != 1 {
		t.Error("busy client should still be tracked")
	}
}
