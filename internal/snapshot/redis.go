package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/cartsync/internal/cart"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/redis"
	"github.com/go-playground/validator/v10"
)

type keyValue interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	CartSnapshotKey(sessionID string) string
}

// RedisStore keeps snapshots as JSON strings under cs:cart:<session>.
type RedisStore struct {
	kv  keyValue
	ttl time.Duration
}

var _ cart.SnapshotStore = (*RedisStore)(nil)

func NewRedisStore(kv keyValue, ttl time.Duration) (*RedisStore, error) {
	if kv == nil {
		return nil, errors.New("redis client required")
	}
	return &RedisStore{kv: kv, ttl: ttl}, nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*cart.Snapshot, error) {
	if err := requireSession(sessionID); err != nil {
		return nil, err
	}
	raw, err := s.kv.Get(ctx, s.kv.CartSnapshotKey(sessionID))
	if errors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart snapshot")
	}
	return decode([]byte(raw), sessionID)
}

func (s *RedisStore) Save(ctx context.Context, snap *cart.Snapshot) error {
	if snap == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "snapshot is required")
	}
	if err := requireSession(snap.SessionID); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart snapshot")
	}
	if err := s.kv.Set(ctx, s.kv.CartSnapshotKey(snap.SessionID), string(payload), s.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart snapshot")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := requireSession(sessionID); err != nil {
		return err
	}
	if err := s.kv.Del(ctx, s.kv.CartSnapshotKey(sessionID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart snapshot")
	}
	return nil
}

func requireSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	return nil
}

var snapshotValidator = validator.New()

// decode parses a stored snapshot. A payload that does not parse, belongs
// to another session, or carries lines the engine could never have written
// is reported as an internal error so callers can discard it.
func decode(raw []byte, sessionID string) (*cart.Snapshot, error) {
	var snap cart.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode cart snapshot")
	}
	if err := snapshotValidator.Struct(&snap); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode cart snapshot")
	}
	if snap.SessionID != sessionID {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "decode cart snapshot").
			WithDetails(map[string]any{"stored_session": snap.SessionID})
	}
	if snap.Lines == nil {
		snap.Lines = []cart.Line{}
	}
	return &snap, nil
}
