package models

import "time"

// Category groups transactions for reporting. Referenced by recurring
// payments; a schedule pointing at a deleted category fails validation.
type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Kind      string    `gorm:"type:varchar(10);not null;default:'expense'" json:"kind"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
