package snapshot

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/angelmondragon/cartsync/internal/cart"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

// MemoryStore keeps snapshots in process. Payloads are stored encoded so a
// loaded snapshot never aliases a saved one.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

var _ cart.SnapshotStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*cart.Snapshot, error) {
	if err := requireSession(sessionID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	raw, ok := s.items[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decode(raw, sessionID)
}

func (s *MemoryStore) Save(ctx context.Context, snap *cart.Snapshot) error {
	if snap == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "snapshot is required")
	}
	if err := requireSession(snap.SessionID); err != nil {
		return err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart snapshot")
	}
	s.mu.Lock()
	s.items[snap.SessionID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := requireSession(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.items, sessionID)
	s.mu.Unlock()
	return nil
}

// Len reports how many sessions have a snapshot.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
