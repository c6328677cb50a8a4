/**
 * @description
 * This package implements the transient notification queue that backs the
 * toast stack shown above every screen. One queue is created per app session
 * and shared by every orchestrator in it.
 *
 * Key features:
 * - Capacity is fixed at MaxEntries; overflow evicts the oldest entry (FIFO).
 * - An entry with the same kind and message as a queued one is not duplicated.
 * - Every entry owns its dismiss timer; eviction and dismissal release it.
 *
 * @dependencies
 * - github.com/google/uuid: entry identifiers.
 * - internal/clock: owned, cancellable timers.
 * - go.uber.org/zap: structured logging.
 */

package toast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payflow/internal/clock"
	"go.uber.org/zap"
)

const (
	MaxEntries = 3
	DefaultTTL = 3000 * time.Millisecond
)

// Kind is the visual style of a toast.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Entry is one queued toast.
type Entry struct {
	ID        string        `json:"id"`
	Kind      Kind          `json:"kind"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"-"`

	timer clock.Timer
}

// ChangeType classifies queue changes delivered to subscribers.
type ChangeType string

const (
	ChangeAdded     ChangeType = "added"
	ChangeDismissed ChangeType = "dismissed"
	ChangeEvicted   ChangeType = "evicted"
	ChangeCleared   ChangeType = "cleared"
)

// Change describes one mutation of the queue together with the resulting entries.
type Change struct {
	Type    ChangeType
	Entry   Entry
	Entries []Entry
}

// Options configures a Queue.
type Options struct {
	Clock  clock.Clock
	Logger *zap.Logger
}

// Queue is safe for concurrent use. Subscribers run with the queue locked and
// must not call back into it.
type Queue struct {
	mu     sync.Mutex
	clock  clock.Clock
	logger *zap.Logger

	entries  []*Entry
	disposed bool

	listeners    map[int]func(Change)
	nextListener int
}

func New(opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Queue{
		clock:     opts.Clock,
		logger:    opts.Logger.With(zap.String("component", "toast")),
		entries:   make([]*Entry, 0, MaxEntries),
		listeners: make(map[int]func(Change)),
	}
}

// Enqueue adds a toast and returns its id. When an entry with the same kind
// and message is already queued, its id is returned and nothing changes. A
// non-positive ttl selects DefaultTTL.
func (q *Queue) Enqueue(kind Kind, message string, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return ""
	}

	for _, existing := range q.entries {
		if existing.Kind == kind && existing.Message == message {
			return existing.ID
		}
	}

	for len(q.entries) >= MaxEntries {
		oldest := q.entries[0]
		q.entries = q.entries[1:]
		q.releaseLocked(oldest)
		q.logger.Debug("toast evicted", zap.String("toast_id", oldest.ID), zap.String("kind", string(oldest.Kind)))
		q.notifyLocked(ChangeEvicted, *oldest)
	}

	entry := &Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		CreatedAt: q.clock.Now(),
		TTL:       ttl,
	}
	id := entry.ID
	entry.timer = q.clock.AfterFunc(ttl, func() { q.Dismiss(id) })
	q.entries = append(q.entries, entry)
	q.notifyLocked(ChangeAdded, *entry)
	return id
}

func (q *Queue) Success(message string) string { return q.Enqueue(KindSuccess, message, 0) }
func (q *Queue) Error(message string) string   { return q.Enqueue(KindError, message, 0) }
func (q *Queue) Warning(message string) string { return q.Enqueue(KindWarning, message, 0) }

// Dismiss removes the entry with the given id. It is a no-op for unknown,
// already dismissed or evicted ids, and reports whether an entry was removed.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.entries {
		if entry.ID != id {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		q.releaseLocked(entry)
		q.notifyLocked(ChangeDismissed, *entry)
		return true
	}
	return false
}

// Entries returns the queued toasts, oldest first.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Clear dismisses every entry.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearLocked()
}

// Dispose clears the queue, releases every timer and rejects later enqueues.
func (q *Queue) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearLocked()
	q.disposed = true
	q.listeners = make(map[int]func(Change))
}

// Subscribe registers fn for queue changes. The returned func removes it.
func (q *Queue) Subscribe(fn func(Change)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextListener
	q.nextListener++
	q.listeners[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.listeners, id)
	}
}

func (q *Queue) clearLocked() {
	if len(q.entries) == 0 {
		return
	}
	for _, entry := range q.entries {
		q.releaseLocked(entry)
	}
	q.entries = q.entries[:0]
	q.notifyLocked(ChangeCleared, Entry{})
}

func (q *Queue) releaseLocked(entry *Entry) {
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
}

func (q *Queue) snapshotLocked() []Entry {
	out := make([]Entry, len(q.entries))
	for i, entry := range q.entries {
		out[i] = *entry
		out[i].timer = nil
	}
	return out
}

func (q *Queue) notifyLocked(typ ChangeType, entry Entry) {
	if len(q.listeners) == 0 {
		return
	}
	entry.timer = nil
	change := Change{Type: typ, Entry: entry, Entries: q.snapshotLocked()}
	for _, fn := range q.listeners {
		fn(change)
	}
}
