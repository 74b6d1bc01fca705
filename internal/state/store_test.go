package state

import (
	"sync"
	"testing"
	"time"

	"ontime/internal/meeting"
)

func TestUpdateReplacesWholeValue(t *testing.T) {
	store := NewStore(nil)
	before := store.Load()

	store.Update(func(s Snapshot) Snapshot {
		s.Locations = map[string]meeting.LocationSnapshot{"u-1": {ParticipantID: "u-1"}}
		return s
	})

	if before.Locations != nil {
		t.Fatalf("earlier snapshot must not observe later update")
	}
	after := store.Load()
	if after.Version != before.Version+1 {
		t.Fatalf("expected version bump, got %d -> %d", before.Version, after.Version)
	}
	if len(after.Locations) != 1 {
		t.Fatalf("expected published locations")
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	store := NewStore(nil)
	ch, cancel := store.Subscribe()
	defer cancel()

	first := <-ch
	if first.Session.Phase != PhaseIdle {
		t.Fatalf("expected initial idle snapshot, got %s", first.Session.Phase)
	}

	for i := 0; i < 5; i++ {
		store.UpdateSession(func(s Session) Session {
			s.Phase = PhaseAwaitingScan
			return s
		})
	}

	select {
	case snap := <-ch:
		if snap.Version != 5 {
			t.Fatalf("expected only the newest snapshot (v5), got v%d", snap.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	store := NewStore(nil)
	ch, cancel := store.Subscribe()
	<-ch
	cancel()
	cancel()

	store.Update(func(s Snapshot) Snapshot { return s })
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	store := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Update(func(s Snapshot) Snapshot { return s })
		}()
	}
	wg.Wait()
	if v := store.Load().Version; v != 50 {
		t.Fatalf("expected version 50, got %d", v)
	}
}
