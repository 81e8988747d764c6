package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: "notification.admitted", Data: "n1"})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != "notification.admitted" || e.Time.IsZero() {
				t.Fatalf("event = %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel open after unsubscribe")
	}
	if got := b.(Stats).Subscribers(); got != 1 {
		t.Fatalf("subscribers = %d", got)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x"})
	}
	st := b.(Stats)
	if st.Published() != 5 || st.Dropped() != 4 {
		t.Fatalf("published=%d dropped=%d", st.Published(), st.Dropped())
	}
}

func TestConcurrentUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		_, unsub := b.Subscribe(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{Type: "tick"})
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
		}()
	}
	wg.Wait()
}

func TestMatchType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		filter, typ string
		want        bool
	}{
		{"", "anything", true},
		{"notification.", "notification.read", true},
		{"delivery., poll.", "poll.failed", true},
		{"delivery.", "notification.read", false},
		{" , ", "x", false},
	}
	for _, tt := range tests {
		if got := MatchType(tt.filter, tt.typ); got != tt.want {
			t.Fatalf("MatchType(%q, %q) = %v, want %v", tt.filter, tt.typ, got, tt.want)
		}
	}
}
