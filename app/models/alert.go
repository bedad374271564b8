package models

import "time"

// Alert types raised by the payment monitor and scheduler.
const (
	AlertTypeLowSuccessRate     = "low_success_rate"
	AlertTypeGatewayUnreachable = "gateway_unreachable"
	AlertTypeJobFailing         = "job_failing"
)

// Alert is a persisted monitoring alert. Alerts are deduplicated by type
// while active; a repeated breach refreshes RaisedAt instead of inserting a
// duplicate row.
type Alert struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Type      string     `gorm:"type:varchar(50);not null;index" json:"type"`
	Message   string     `gorm:"type:varchar(500);not null" json:"message"`
	RaisedAt  time.Time  `gorm:"type:timestamp;not null;index" json:"raised_at"`
	ClearedAt *time.Time `gorm:"type:timestamp;default:null" json:"cleared_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the alert has not been cleared yet.
func (a *Alert) IsActive() bool {
	return a.ClearedAt == nil
}
