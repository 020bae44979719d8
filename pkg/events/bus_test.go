package events

import (
	"testing"
)

func TestBus_EmitAndUnsubscribe(t *testing.T) {
	bus := NewBus()

	var got []Event
	unsub := bus.AddListener(func(ev Event) {
		got = append(got, ev)
	})

	bus.Emit(DownloadStart, map[string]int{"totalTiles": 12})
	bus.Emit(DownloadComplete, nil)

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != DownloadStart || got[1].Type != DownloadComplete {
		t.Errorf("unexpected event types: %s, %s", got[0].Type, got[1].Type)
	}

	unsub()
	bus.Emit(SyncStart, nil)
	if len(got) != 2 {
		t.Errorf("listener received event after unsubscribe")
	}

	// Double unsubscribe must be a no-op.
	unsub()
}

func TestBus_PanicIsolation(t *testing.T) {
	bus := NewBus()

	bus.AddListener(func(ev Event) {
		panic("listener bug")
	})

	delivered := 0
	bus.AddListener(func(ev Event) {
		delivered++
	})

	bus.Emit(SyncComplete, nil)
	bus.Emit(SyncComplete, nil)

	if delivered != 2 {
		t.Errorf("healthy listener missed events: got %d deliveries", delivered)
	}
}

func TestBus_MultipleListeners(t *testing.T) {
	bus := NewBus()

	counts := make([]int, 3)
	for i := range counts {
		i := i
		bus.AddListener(func(ev Event) { counts[i]++ })
	}

	bus.Emit(NetworkOnline, nil)

	for i, c := range counts {
		if c != 1 {
			t.Errorf("listener %d: expected 1 delivery, got %d", i, c)
		}
	}
}
