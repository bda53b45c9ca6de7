package hub

import (
	"testing"
	"time"

	"github.com/atikulmunna/warden/internal/model"
)

func TestHubBroadcast(t *testing.T) {
	h := New(nil)
	sub1, _ := h.Subscribe()
	sub2, _ := h.Subscribe()

	h.Publish(model.Event{ID: "e1", Verdict: model.Verdict{Classification: "xss"}})

	for i, sub := range []<-chan model.Event{sub1, sub2} {
		select {
		case ev := <-sub:
			if ev.ID != "e1" || ev.Verdict.Classification != "xss" {
				t.Errorf("sub%d: got %+v", i+1, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub%d: timed out", i+1)
		}
	}
}

func TestHubSlowConsumer(t *testing.T) {
	h := New(nil)
	_, _ = h.Subscribe() // never read

	for i := 0; i < subscriberBuffer+100; i++ {
		h.Publish(model.Event{ID: "e"})
	}
	if got := h.Dropped(); got != 100 {
		t.Errorf("dropped = %d, want 100", got)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := New(nil)
	sub, cancel := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", h.Subscribers())
	}
	cancel()
	cancel()

	if _, ok := <-sub; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Errorf("subscribers = %d", h.Subscribers())
	}
	h.Publish(model.Event{ID: "after"})
}

func TestHubClose(t *testing.T) {
	h := New(nil)
	sub, cancel := h.Subscribe()
	h.Close()
	cancel()

	if _, ok := <-sub; ok {
		t.Error("channel should be closed")
	}
	late, _ := h.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribe after close should return a closed channel")
	}
	h.Publish(model.Event{ID: "ignored"})
}
