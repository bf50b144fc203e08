package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/pkg/db"
	"github.com/angelmondragon/cartsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps snapshots in the cart_snapshots table.
type SQLStore struct {
	client *db.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ cart.SnapshotStore = (*SQLStore)(nil)

func NewSQLStore(client *db.Client, ttl time.Duration) (*SQLStore, error) {
	if client == nil {
		return nil, errors.New("db client required")
	}
	return &SQLStore{client: client, ttl: ttl, now: time.Now}, nil
}

// Load returns the stored snapshot. Expired rows are removed and reported as absent.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*cart.Snapshot, error) {
	if err := requireSession(sessionID); err != nil {
		return nil, err
	}

	var (
		row     models.CartSnapshot
		expired bool
	)
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Take(&row).Error; err != nil {
			return err
		}
		if row.ExpiresAt != nil && !s.now().UTC().Before(*row.ExpiresAt) {
			expired = true
			return tx.Where("session_id = ?", sessionID).Delete(&models.CartSnapshot{}).Error
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart snapshot")
	}
	if expired {
		return nil, nil
	}
	return decode([]byte(row.Payload), sessionID)
}

// Save upserts the snapshot of a session.
func (s *SQLStore) Save(ctx context.Context, snap *cart.Snapshot) error {
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

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = s.now()
	}
	row := models.CartSnapshot{
		SessionID: snap.SessionID,
		Payload:   string(payload),
		Total:     snap.Total.String(),
		LineCount: len(snap.Lines),
		SavedAt:   savedAt.UTC(),
	}
	if s.ttl > 0 {
		expires := s.now().UTC().Add(s.ttl)
		row.ExpiresAt = &expires
	}

	err = s.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "total", "line_count", "saved_at", "expires_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart snapshot")
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	if err := requireSession(sessionID); err != nil {
		return err
	}
	err := s.client.DB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.CartSnapshot{}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart snapshot")
	}
	return nil
}

// PurgeExpired removes every expired snapshot and reports how many were dropped.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.client.DB().WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC()).
		Delete(&models.CartSnapshot{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "purge cart snapshots")
	}
	return res.RowsAffected, nil
}
