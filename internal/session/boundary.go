package session

import (
	"context"
	"strings"
	"sync"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Listener is told about every identity transition.
type Listener interface {
	OnSessionChange(ctx context.Context, prev, next Identity) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, prev, next Identity) error

func (fn ListenerFunc) OnSessionChange(ctx context.Context, prev, next Identity) error {
	return fn(ctx, prev, next)
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithAnonymousID starts the boundary on a known anonymous session.
func WithAnonymousID(id string) Option {
	return func(b *Boundary) {
		if strings.TrimSpace(id) != "" {
			b.current = Anonymous(id)
		}
	}
}

// WithIDGenerator overrides how new anonymous session ids are made.
func WithIDGenerator(fn func() string) Option {
	return func(b *Boundary) {
		if fn != nil {
			b.newID = fn
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(b *Boundary) {
		if logg != nil {
			b.logg = logg
		}
	}
}

// Boundary owns the current identity and announces login and logout.
type Boundary struct {
	parser TokenParser
	newID  func() string
	logg   *logger.Logger

	// transition serializes Login/Logout including listener fan-out.
	transition sync.Mutex
	mu         sync.RWMutex
	current    Identity
	listeners  []Listener
}

func NewBoundary(parser TokenParser, opts ...Option) *Boundary {
	b := &Boundary{
		parser: parser,
		newID:  uuid.NewString,
		logg:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.current.IsZero() {
		b.current = Anonymous(b.newID())
	}
	return b
}

func (b *Boundary) Current() Identity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Subscribe registers a listener. Listeners run in registration order.
func (b *Boundary) Subscribe(l Listener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

// Resume adopts an authenticated identity from a stored token without
// announcing a transition. Used when a process starts already signed in.
func (b *Boundary) Resume(token string) (Identity, error) {
	next, err := b.authenticate(token)
	if err != nil {
		return Identity{}, err
	}
	b.transition.Lock()
	defer b.transition.Unlock()
	b.mu.Lock()
	b.current = next
	b.mu.Unlock()
	return next, nil
}

// Login switches to the user named by token and notifies listeners. The new
// identity is kept even when a listener fails; the listener errors are returned.
func (b *Boundary) Login(ctx context.Context, token string) (Identity, error) {
	next, err := b.authenticate(token)
	if err != nil {
		return b.Current(), err
	}

	b.transition.Lock()
	defer b.transition.Unlock()

	prev := b.swap(next)
	ctx = b.logg.WithFields(ctx, map[string]any{"user_id": next.UserID, "session_id": next.SessionID})
	b.logg.Info(ctx, "session authenticated")
	return next, b.notify(ctx, prev, next)
}

// Logout drops the authenticated identity in favour of a fresh anonymous one.
// Logging out of an anonymous session is a no-op.
func (b *Boundary) Logout(ctx context.Context) (Identity, error) {
	b.transition.Lock()
	defer b.transition.Unlock()

	if !b.Current().Authenticated {
		return b.Current(), nil
	}

	next := Anonymous(b.newID())
	prev := b.swap(next)
	ctx = b.logg.WithSessionID(ctx, next.SessionID)
	b.logg.Info(ctx, "session signed out")
	return next, b.notify(ctx, prev, next)
}

func (b *Boundary) authenticate(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeValidation, "token is required")
	}
	if b.parser == nil {
		return Identity{}, pkgerrors.New(pkgerrors.CodeInternal, "token parser not configured")
	}
	userID, err := b.parser.ParseUserID(token)
	if err != nil {
		return Identity{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "access token has no user id")
	}
	return Authenticated(userID, token), nil
}

func (b *Boundary) swap(next Identity) Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.current
	b.current = next
	return prev
}

func (b *Boundary) notify(ctx context.Context, prev, next Identity) error {
	b.mu.RLock()
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.RUnlock()

	var errs error
	for _, l := range listeners {
		if err := l.OnSessionChange(ctx, prev, next); err != nil {
			b.logg.Error(ctx, "session listener failed", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
