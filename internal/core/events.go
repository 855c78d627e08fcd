package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a point in the import lifecycle.
type EventType string

const (
	EventUploaded EventType = "uploaded"
	EventStarted  EventType = "started"
	EventBatch    EventType = "batch"
	EventCancel   EventType = "cancel"
	EventComplete EventType = "complete"
)

// Event is delivered to observers after the change it describes is stored.
type Event struct {
	Type      EventType
	RecordID  uuid.UUID
	Importer  string
	Initiator string
	Title     string

	// Offset and Rows describe the batch for EventBatch. Total is the
	// record's row count.
	Offset int
	Rows   int
	Total  int

	// Page is the admin page a cancel came from.
	Page string

	At time.Time
}

// Observer receives lifecycle events. Notify runs synchronously on the
// goroutine that changed the record, so it should return quickly.
type Observer interface {
	Notify(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Notify(ctx context.Context, e Event) {
	f(ctx, e)
}

// EventBus fans events out to subscribed observers in subscription order.
type EventBus struct {
	mu        sync.RWMutex
	observers []Observer
	logger    *slog.Logger
}

// NewEventBus returns a bus with the given observers subscribed.
func NewEventBus(logger *slog.Logger, observers ...Observer) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{observers: observers, logger: logger}
}

// Subscribe adds an observer.
func (b *EventBus) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Emit delivers e to every observer. A panicking observer is logged and
// does not stop delivery to the rest.
func (b *EventBus) Emit(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	for _, o := range observers {
		b.deliver(ctx, o, e)
	}
}

func (b *EventBus) deliver(ctx context.Context, o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "event observer panicked",
				"event", e.Type,
				"record_id", e.RecordID,
				"panic", r,
			)
		}
	}()
	o.Notify(ctx, e)
}

// LogObserver writes one structured line per event.
func LogObserver(logger *slog.Logger) Observer {
	return ObserverFunc(func(ctx context.Context, e Event) {
		attrs := []any{
			"record_id", e.RecordID,
			"importer", e.Importer,
			"initiator", e.Initiator,
		}
		switch e.Type {
		case EventBatch:
			attrs = append(attrs, "offset", e.Offset, "rows", e.Rows, "total", e.Total)
		case EventCancel:
			attrs = append(attrs, "page", e.Page)
		case EventUploaded, EventComplete:
			attrs = append(attrs, "total", e.Total)
		}
		logger.InfoContext(ctx, "import "+string(e.Type), attrs...)
	})
}
