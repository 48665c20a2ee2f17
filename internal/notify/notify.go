// Package notify delivers shopper-facing messages (toasts). Delivery is fire
// and forget: senders never learn whether a message was shown.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/william-takayama/ecommerce-cart/pkg/logger"
)

// Severity classifies a notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Sink receives notifications. ctx carries the shopper session and, while a
// request is being served, its Collector.
type Sink interface {
	Notify(ctx context.Context, message string, severity Severity)
}

// Notification is a message queued for the presentation layer.
type Notification struct {
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

// Logger writes each notification to slog.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a sink that logs through l.
func NewLogger(l *slog.Logger) *Logger {
	return &Logger{logger: l}
}

func (s *Logger) Notify(ctx context.Context, message string, severity Severity) {
	level := slog.LevelInfo
	switch severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}
	logger.WithContext(ctx, s.logger).Log(ctx, level, "notification",
		slog.String("message", message),
		slog.String("severity", string(severity)),
	)
}

// maxQueuedSessions bounds how many sessions a Queue holds notifications for.
const maxQueuedSessions = 4096

// Queue buffers notifications per shopper session until that session drains
// them. Each session keeps at most limit entries; when full, its oldest entry
// is dropped. When too many sessions are waiting, the one with the stalest
// notification is forgotten.
type Queue struct {
	mu       sync.Mutex
	sessions map[string][]Notification
	limit    int
	now      func() time.Time
}

// NewQueue creates a queue holding at most limit notifications per session. A
// limit below 1 is treated as 1.
func NewQueue(limit int) *Queue {
	if limit < 1 {
		limit = 1
	}
	return &Queue{
		sessions: make(map[string][]Notification),
		limit:    limit,
		now:      time.Now,
	}
}

func (q *Queue) Notify(ctx context.Context, message string, severity Severity) {
	id := logger.SessionIDFromContext(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()

	items, ok := q.sessions[id]
	if !ok && len(q.sessions) >= maxQueuedSessions {
		q.forgetStalest()
	}
	if len(items) == q.limit {
		items = items[1:]
	}
	q.sessions[id] = append(items, Notification{
		Message:   message,
		Severity:  severity,
		CreatedAt: q.now().UTC(),
	})
}

func (q *Queue) forgetStalest() {
	var (
		stalest string
		oldest  time.Time
		found   bool
	)
	for id, items := range q.sessions {
		last := items[len(items)-1].CreatedAt
		if !found || last.Before(oldest) {
			stalest, oldest, found = id, last, true
		}
	}
	if found {
		delete(q.sessions, stalest)
	}
}

// Drain returns every notification queued for the session in ctx, in arrival
// order, and empties that session's queue. It never returns nil.
func (q *Queue) Drain(ctx context.Context) []Notification {
	id := logger.SessionIDFromContext(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.sessions[id]
	delete(q.sessions, id)

	out := make([]Notification, len(items))
	copy(out, items)
	return out
}

// Len returns the number of notifications queued for the session in ctx.
func (q *Queue) Len(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sessions[logger.SessionIDFromContext(ctx)])
}

// Collector gathers the notifications raised while one request is served.
type Collector struct {
	mu    sync.Mutex
	items []Notification
	now   func() time.Time
}

type collectorKey struct{}

// Collect returns a context whose notifications are captured by the returned
// Collector instead of being queued.
func Collect(ctx context.Context) (context.Context, *Collector) {
	c := &Collector{now: time.Now}
	return context.WithValue(ctx, collectorKey{}, c), c
}

func collectorFrom(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorKey{}).(*Collector)
	return c
}

func (c *Collector) add(message string, severity Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, Notification{
		Message:   message,
		Severity:  severity,
		CreatedAt: c.now().UTC(),
	})
}

// Notifications returns what was collected so far. It never returns nil.
func (c *Collector) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Scoped hands each notification to the Collector in ctx, or to Fallback when
// there is none.
type Scoped struct {
	Fallback Sink
}

func (s Scoped) Notify(ctx context.Context, message string, severity Severity) {
	if c := collectorFrom(ctx); c != nil {
		c.add(message, severity)
		return
	}
	if s.Fallback != nil {
		s.Fallback.Notify(ctx, message, severity)
	}
}

// Fanout delivers every notification to each of its sinks in order.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, message string, severity Severity) {
	for _, s := range f {
		s.Notify(ctx, message, severity)
	}
}

// Discard drops every notification.
var Discard Sink = discard{}

type discard struct{}

func (discard) Notify(context.Context, string, Severity) {}
