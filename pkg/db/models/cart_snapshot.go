package models

import "time"

// CartSnapshot is the persisted cart of one session. Payload holds the
// JSON encoded lines.
type CartSnapshot struct {
	SessionID string     `gorm:"column:session_id;primaryKey"`
	Payload   string     `gorm:"column:payload;not null"`
	Total     string     `gorm:"column:total;not null;default:'0'"`
	LineCount int        `gorm:"column:line_count;not null;default:0"`
	SavedAt   time.Time  `gorm:"column:saved_at;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
}

func (CartSnapshot) TableName() string {
	return "cart_snapshots"
}
