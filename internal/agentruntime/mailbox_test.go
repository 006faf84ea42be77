package agentruntime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustOffer(t *testing.T, m *Mailbox, a *Activity) {
	t.Helper()
	if err := m.Offer(context.Background(), a); err != nil {
		t.Fatalf("Offer: %v", err)
	}
}

func TestMailboxFIFOWithinBucket(t *testing.T) {
	m := NewMailbox(MailboxConfig{EnablePrioritization: true})
	for i := 0; i < 5; i++ {
		a := NewActivity("r1", ActivityEvent, i, WithPriority(PriorityNormal))
		mustOffer(t, m, a)
	}
	for i := 0; i < 5; i++ {
		got, err := m.Take(context.Background())
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		if got.Payload.(int) != i {
			t.Fatalf("want payload %d, got %v", i, got.Payload)
		}
	}
}

func TestMailboxStrictPriority(t *testing.T) {
	m := NewMailbox(MailboxConfig{EnablePrioritization: true})
	mustOffer(t, m, NewActivity("r1", ActivityEvent, "low", WithPriority(PriorityLow)))
	mustOffer(t, m, NewActivity("r1", ActivityEvent, "high", WithPriority(PriorityHigh)))
	mustOffer(t, m, NewActivity("r1", ActivityEvent, "normal", WithPriority(PriorityNormal)))

	order := []string{}
	for i := 0; i < 3; i++ {
		got, err := m.Take(context.Background())
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		order = append(order, got.Payload.(string))
	}
	want := []string{"high", "normal", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", order, want)
		}
	}
}

// TestMailboxAntiStarvation reproduces S2 from spec.md §8: 100 HIGH and 10
// NORMAL activities, N=16. The first 16 dequeues must be HIGH, the 17th
// NORMAL, and the pattern repeats until both buckets drain; 110 total.
func TestMailboxAntiStarvation(t *testing.T) {
	const n = 16
	m := NewMailbox(MailboxConfig{EnablePrioritization: true, AntiStarvationN: n, PriorityQueueSize: 200})

	for i := 0; i < 100; i++ {
		mustOffer(t, m, NewActivity("r1", ActivityEvent, "high", WithPriority(PriorityHigh)))
	}
	for i := 0; i < 10; i++ {
		mustOffer(t, m, NewActivity("r1", ActivityEvent, "normal", WithPriority(PriorityNormal)))
	}

	var dequeued []string
	for i := 0; i < 110; i++ {
		got, err := m.Take(context.Background())
		if err != nil {
			t.Fatalf("Take #%d: %v", i, err)
		}
		dequeued = append(dequeued, got.Payload.(string))
	}

	if len(dequeued) != 110 {
		t.Fatalf("got %d activities, want 110", len(dequeued))
	}

	// First 16 are HIGH, 17th is NORMAL.
	for i := 0; i < n; i++ {
		if dequeued[i] != "high" {
			t.Fatalf("dequeue[%d] = %q, want high", i, dequeued[i])
		}
	}
	if dequeued[n] != "normal" {
		t.Fatalf("dequeue[%d] = %q, want normal (anti-starvation service)", n, dequeued[n])
	}

	var highCount, normalCount int
	for _, v := range dequeued {
		if v == "high" {
			highCount++
		} else {
			normalCount++
		}
	}
	if highCount != 100 || normalCount != 10 {
		t.Fatalf("high=%d normal=%d, want 100/10", highCount, normalCount)
	}
}

func TestMailboxOfferFullTimesOut(t *testing.T) {
	m := NewMailbox(MailboxConfig{
		EnablePrioritization: true,
		PriorityQueueSize:    1,
		BackpressureTimeout:  30 * time.Millisecond,
	})
	mustOffer(t, m, NewActivity("r1", ActivityEvent, 1, WithPriority(PriorityNormal)))

	start := time.Now()
	err := m.Offer(context.Background(), NewActivity("r1", ActivityEvent, 2, WithPriority(PriorityNormal)))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrMailboxFull) {
		t.Fatalf("want ErrMailboxFull, got %v", err)
	}
	if elapsed < 25*time.Millisecond {
		t.Fatalf("Offer returned too early: %v", elapsed)
	}
}

func TestMailboxOfferDrainsBeforeTimeout(t *testing.T) {
	m := NewMailbox(MailboxConfig{
		EnablePrioritization: true,
		PriorityQueueSize:    1,
		BackpressureTimeout:  500 * time.Millisecond,
	})
	mustOffer(t, m, NewActivity("r1", ActivityEvent, 1, WithPriority(PriorityNormal)))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = m.Take(context.Background())
	}()

	start := time.Now()
	if err := m.Offer(context.Background(), NewActivity("r1", ActivityEvent, 2, WithPriority(PriorityNormal))); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Fatalf("Offer waited for the full backpressure timeout instead of draining early")
	}
}

// TestMailboxShutdownDrain reproduces S6: enqueue 5 activities, shut down,
// and confirm every one is still delivered before ErrMailboxClosed.
func TestMailboxShutdownDrain(t *testing.T) {
	m := NewMailbox(MailboxConfig{EnablePrioritization: true})
	for i := 0; i < 5; i++ {
		mustOffer(t, m, NewActivity("r1", ActivityEvent, i, WithPriority(PriorityNormal)))
	}
	m.Shutdown()

	for i := 0; i < 5; i++ {
		got, err := m.Take(context.Background())
		if err != nil {
			t.Fatalf("Take #%d: %v", i, err)
		}
		if got.Payload.(int) != i {
			t.Fatalf("out of order drain: got %v want %d", got.Payload, i)
		}
	}

	_, err := m.Take(context.Background())
	if !errors.Is(err, ErrMailboxClosed) {
		t.Fatalf("want ErrMailboxClosed after drain, got %v", err)
	}

	err = m.Offer(context.Background(), NewActivity("r1", ActivityEvent, "late", WithPriority(PriorityNormal)))
	if !errors.Is(err, ErrMailboxShutdown) {
		t.Fatalf("want ErrMailboxShutdown, got %v", err)
	}
}

func TestMailboxSubscribeBroadcastOrder(t *testing.T) {
	m := NewMailbox(MailboxConfig{EnablePrioritization: true})
	sub := m.Subscribe()

	for i := 0; i < 3; i++ {
		a := NewActivity("r1", ActivityEvent, i, WithPriority(PriorityNormal))
		mustOffer(t, m, a)
		got, err := m.Take(context.Background())
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		m.broadcast(got)
	}

	for i := 0; i < 3; i++ {
		select {
		case a := <-sub:
			if a.Payload.(int) != i {
				t.Fatalf("broadcast order: got %v, want %d", a.Payload, i)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}
}

func TestMailboxSlowSubscriberDropped(t *testing.T) {
	m := NewMailbox(MailboxConfig{
		EnablePrioritization:          true,
		SubscriberBufferSize:          1,
		SubscriberBackpressureTimeout: 10 * time.Millisecond,
	})
	sub := m.Subscribe()

	// Fill then exceed the subscriber's buffer without ever draining it.
	for i := 0; i < 3; i++ {
		m.broadcast(NewActivity("r1", ActivityEvent, i, WithPriority(PriorityNormal)))
	}

	// The producer must not have blocked; the subscriber channel should now
	// be closed (dropped) rather than still accepting sends.
	_, open := <-sub
	if !open {
		return
	}
	// Drain until closed or fail if it never closes.
	for {
		select {
		case _, ok := <-sub:
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("slow subscriber was never dropped")
		}
	}
}
