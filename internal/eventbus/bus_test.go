package eventbus

import "testing"

func TestSubscribePrefixFilter(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	resp, unsubResp := b.Subscribe(4, "notification.response")
	defer unsubResp()

	b.Publish(Event{Type: "notification.delivered"})
	b.Publish(Event{Type: "notification.response", Data: 1})

	if got := len(all); got != 2 {
		t.Fatalf("len(all) = %d, want 2", got)
	}
	if got := len(resp); got != 1 {
		t.Fatalf("len(resp) = %d, want 1", got)
	}
	e := <-resp
	if e.Time.IsZero() {
		t.Fatal("Publish should stamp Time")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "c"})
}
