package agentruntime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMailboxSize is the fallback single-bucket capacity when
// prioritization is disabled.
const DefaultMailboxSize = 1000

// DefaultPriorityQueueSize is the fallback per-bucket capacity when
// prioritization is enabled.
const DefaultPriorityQueueSize = 100

// DefaultAntiStarvationN is the number of consecutive HIGH-priority
// dequeues serviced before the mailbox forces one dequeue from the next
// non-empty lower bucket, per SPEC_FULL.md's resolution of the open
// question left by spec.md §4.1/§9.
const DefaultAntiStarvationN = 16

// DefaultSubscriberBufferSize is the capacity of each subscriber's channel.
const DefaultSubscriberBufferSize = 100

// MailboxConfig configures a Mailbox at construction time.
type MailboxConfig struct {
	// Size is the single-bucket capacity used when EnablePrioritization is
	// false. Defaults to DefaultMailboxSize.
	Size int

	// EnablePrioritization routes activities into one of priorityBucketCount
	// buckets by Metadata.Priority instead of a single FIFO.
	EnablePrioritization bool

	// PriorityQueueSize is the per-bucket capacity when prioritization is
	// enabled. Defaults to DefaultPriorityQueueSize.
	PriorityQueueSize int

	// BackpressureTimeout bounds how long Offer waits for room in a full
	// bucket before failing with ErrMailboxFull.
	BackpressureTimeout time.Duration

	// AntiStarvationN bounds consecutive HIGH dequeues before a lower
	// bucket is serviced. Defaults to DefaultAntiStarvationN. Only
	// meaningful when EnablePrioritization is true.
	AntiStarvationN int

	// SubscriberBufferSize is each subscriber channel's capacity. Defaults
	// to DefaultSubscriberBufferSize.
	SubscriberBufferSize int

	// SubscriberBackpressureTimeout bounds how long a broadcast waits on a
	// slow subscriber before dropping it. Defaults to BackpressureTimeout.
	SubscriberBackpressureTimeout time.Duration
}

func (c MailboxConfig) withDefaults() MailboxConfig {
	if c.Size <= 0 {
		c.Size = DefaultMailboxSize
	}
	if c.PriorityQueueSize <= 0 {
		c.PriorityQueueSize = DefaultPriorityQueueSize
	}
	if c.AntiStarvationN <= 0 {
		c.AntiStarvationN = DefaultAntiStarvationN
	}
	if c.SubscriberBufferSize <= 0 {
		c.SubscriberBufferSize = DefaultSubscriberBufferSize
	}
	if c.SubscriberBackpressureTimeout <= 0 {
		c.SubscriberBackpressureTimeout = c.BackpressureTimeout
	}
	return c
}

// queue is a minimal FIFO over *Activity. It is not safe for concurrent
// use; callers hold Mailbox.mu.
type queue struct {
	items []*Activity
	head  int
}

func (q *queue) len() int { return len(q.items) - q.head }

func (q *queue) push(a *Activity) { q.items = append(q.items, a) }

func (q *queue) pop() *Activity {
	a := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	// Reclaim the backing array once it is more head than tail to avoid
	// unbounded growth on a long-lived, busy bucket.
	if q.head > 0 && q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		remaining := len(q.items) - q.head
		copy(q.items, q.items[q.head:])
		q.items = q.items[:remaining]
		q.head = 0
	}
	return a
}

// Mailbox is a bounded multi-priority FIFO feeding exactly one processing
// loop, generalized from the teacher's registry.Cell mailbox channel plus
// registry.connect's backpressure-with-timeout Send, restructured around a
// mutex-protected queue-of-queues so the anti-starvation scheduling policy
// in Take can inspect every bucket at once — a single Go channel cannot
// express "peek bucket N only when bucket 0..N-1 are empty or throttled".
type Mailbox struct {
	cfg MailboxConfig

	mu              sync.Mutex
	buckets         [priorityBucketCount]queue
	bucketCap       [priorityBucketCount]int
	closed          bool
	consecutiveHigh int
	seq             atomic.Int64

	wake       chan struct{}
	shutdownCh chan struct{}
	closeSubs  sync.Once

	subsMu sync.Mutex
	subs   map[uint64]chan *Activity
	nextID uint64
}

// NewMailbox constructs a Mailbox ready to accept Offer/Take/Subscribe
// calls.
func NewMailbox(cfg MailboxConfig) *Mailbox {
	cfg = cfg.withDefaults()
	m := &Mailbox{
		cfg:        cfg,
		wake:       make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
		subs:       make(map[uint64]chan *Activity),
	}
	if cfg.EnablePrioritization {
		for i := range m.bucketCap {
			m.bucketCap[i] = cfg.PriorityQueueSize
		}
	} else {
		m.bucketCap[0] = cfg.Size
	}
	return m
}

func (m *Mailbox) bucketIndex(a *Activity) int {
	if !m.cfg.EnablePrioritization {
		return 0
	}
	idx := int(a.Metadata.Priority)
	if idx < 0 || idx >= priorityBucketCount {
		idx = int(PriorityNormal)
	}
	return idx
}

func (m *Mailbox) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Offer enqueues an activity, assigning its Sequence (see SPEC_FULL.md's
// resolution of the sequence-numbering open question: assigned here, by
// the mailbox, at offer time). It blocks up to BackpressureTimeout when
// the target bucket is full and fails with ErrMailboxFull if it never
// drains in time, or immediately with ErrMailboxShutdown once Shutdown has
// been called.
func (m *Mailbox) Offer(ctx context.Context, a *Activity) error {
	idx := m.bucketIndex(a)

	deadline := time.Time{}
	if m.cfg.BackpressureTimeout > 0 {
		deadline = time.Now().Add(m.cfg.BackpressureTimeout)
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return newErr("mailbox", "Offer", "mailbox is shut down", ErrMailboxShutdown)
		}
		if m.buckets[idx].len() < m.bucketCap[idx] {
			a.Sequence = m.seq.Add(1)
			m.buckets[idx].push(a)
			m.mu.Unlock()
			m.signalWake()
			return nil
		}
		m.mu.Unlock()

		if !deadline.IsZero() && time.Now().After(deadline) {
			return newErr("mailbox", "Offer", "bucket full after backpressure timeout", ErrMailboxFull)
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if !deadline.IsZero() {
			timer = time.NewTimer(time.Until(deadline))
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-m.shutdownCh:
			if timer != nil {
				timer.Stop()
			}
			continue // loop once more to surface ErrMailboxShutdown uniformly
		case <-timerC:
			return newErr("mailbox", "Offer", "bucket full after backpressure timeout", ErrMailboxFull)
		case <-m.wake:
			if timer != nil {
				timer.Stop()
			}
			// Something drained; retry immediately.
		}
	}
}

// dequeueLocked implements the scheduling algorithm from spec.md §4.1:
// strict priority across buckets, FIFO within a bucket, with a bounded
// anti-starvation counter that forces one service of the next non-empty
// lower bucket after AntiStarvationN consecutive HIGH dequeues.
func (m *Mailbox) dequeueLocked() (*Activity, bool) {
	high := int(PriorityHigh)

	if m.cfg.EnablePrioritization && m.buckets[high].len() > 0 && m.consecutiveHigh >= m.cfg.AntiStarvationN {
		for b := high + 1; b < priorityBucketCount; b++ {
			if m.buckets[b].len() > 0 {
				m.consecutiveHigh = 0
				return m.buckets[b].pop(), true
			}
		}
	}

	for b := 0; b < priorityBucketCount; b++ {
		if m.buckets[b].len() > 0 {
			if b == high {
				m.consecutiveHigh++
			} else {
				m.consecutiveHigh = 0
			}
			return m.buckets[b].pop(), true
		}
	}
	return nil, false
}

// Take blocks until an activity is available, the mailbox is shut down and
// drained (ErrMailboxClosed), or ctx is cancelled.
func (m *Mailbox) Take(ctx context.Context) (*Activity, error) {
	for {
		m.mu.Lock()
		if a, ok := m.dequeueLocked(); ok {
			m.mu.Unlock()
			// A bucket just freed a slot; wake any Offer blocked on
			// backpressure so it can retry before its timeout expires.
			m.signalWake()
			return a, nil
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			m.closeSubs.Do(m.closeAllSubscribers)
			return nil, newErr("mailbox", "Take", "mailbox closed", ErrMailboxClosed)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.wake:
		case <-m.shutdownCh:
		}
	}
}

// Shutdown is idempotent: it stops accepting new Offers and wakes any
// blocked Take so it can drain the remaining queue and, once empty,
// observe closure and terminate subscribers.
func (m *Mailbox) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.shutdownCh)
}

// Subscribe returns a bounded channel receiving every activity the
// processing loop takes, plus every STATE_CHANGE it produces, in
// processing order. The mailbox never blocks the processing loop on a slow
// subscriber: if a broadcast can't be delivered within
// SubscriberBackpressureTimeout the subscriber is dropped and its channel
// closed.
func (m *Mailbox) Subscribe() <-chan *Activity {
	ch := make(chan *Activity, m.cfg.SubscriberBufferSize)
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subsMu.Unlock()
	return ch
}

// broadcast fans an activity out to every live subscriber. Called by the
// processing loop, never by Offer/Take callers directly.
func (m *Mailbox) broadcast(a *Activity) {
	m.subsMu.Lock()
	targets := make(map[uint64]chan *Activity, len(m.subs))
	for id, ch := range m.subs {
		targets[id] = ch
	}
	m.subsMu.Unlock()

	var dead []uint64
	timeout := m.cfg.SubscriberBackpressureTimeout
	for id, ch := range targets {
		if timeout <= 0 {
			select {
			case ch <- a:
			default:
				dead = append(dead, id)
			}
			continue
		}
		timer := time.NewTimer(timeout)
		select {
		case ch <- a:
			timer.Stop()
		case <-timer.C:
			dead = append(dead, id)
		}
	}

	if len(dead) == 0 {
		return
	}
	m.subsMu.Lock()
	for _, id := range dead {
		if ch, ok := m.subs[id]; ok {
			close(ch)
			delete(m.subs, id)
		}
	}
	m.subsMu.Unlock()
}

func (m *Mailbox) closeAllSubscribers() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}
