package notifications

import (
	"context"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/shopspring/decimal"
)

// Kind distinguishes cart notifications.
type Kind string

const (
	KindFailed  Kind = "failed"
	KindChanged Kind = "changed"
)

// Event is one user-facing cart notification.
type Event struct {
	Kind      Kind
	SessionID string
	Operation string
	Code      pkgerrors.Code
	Message   string
	Count     int
	Total     decimal.Decimal
	At        time.Time
}

// Notifier receives the side effects of cart operations. Implementations
// must not block.
type Notifier interface {
	Failed(ctx context.Context, ev Event)
	Changed(ctx context.Context, ev Event)
}

// FailureEvent builds the event for a failed operation. The message is the
// user-safe text for the error code, extended with the error's own message
// when the code allows details.
func FailureEvent(sessionID, op string, err error) Event {
	code := pkgerrors.CodeOf(err)
	meta := pkgerrors.MetadataFor(code)
	message := meta.PublicMessage
	if typed := pkgerrors.As(err); typed != nil && meta.DetailsAllowed && strings.TrimSpace(typed.Message()) != "" {
		message = meta.PublicMessage + ": " + typed.Message()
	}
	return Event{
		Kind:      KindFailed,
		SessionID: sessionID,
		Operation: op,
		Code:      code,
		Message:   message,
		At:        time.Now().UTC(),
	}
}

// ChangeEvent builds the event announcing the new cart size.
func ChangeEvent(sessionID, op string, count int, total decimal.Decimal) Event {
	return Event{
		Kind:      KindChanged,
		SessionID: sessionID,
		Operation: op,
		Count:     count,
		Total:     total,
		At:        time.Now().UTC(),
	}
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) Failed(ctx context.Context, ev Event) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"session_id": ev.SessionID,
		"operation":  ev.Operation,
		"code":       string(ev.Code),
	})
	n.logg.Warn(ctx, ev.Message)
}

func (n *LogNotifier) Changed(ctx context.Context, ev Event) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"session_id": ev.SessionID,
		"operation":  ev.Operation,
		"count":      ev.Count,
		"total":      ev.Total.String(),
	})
	n.logg.Info(ctx, "cart updated")
}

// Recorder keeps every event in memory, newest last.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Failed(ctx context.Context, ev Event) {
	r.add(ev)
}

func (r *Recorder) Changed(ctx context.Context, ev Event) {
	r.add(ev)
}

func (r *Recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Last returns the most recent event of kind.
func (r *Recorder) Last(kind Kind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

func (m Multi) Failed(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Failed(ctx, ev)
		}
	}
}

func (m Multi) Changed(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Changed(ctx, ev)
		}
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Failed(context.Context, Event)  {}
func (Nop) Changed(context.Context, Event) {}
