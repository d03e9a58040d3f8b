package models

import "time"

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

// IdempotencyStaleAfter lets a STARTED key be reclaimed once its owner is presumed dead.
const IdempotencyStaleAfter = 5 * time.Minute

// IdempotencyKey provides durable idempotency for automation actions.
// Unique constraint: (case_id, handler_name, action_key).
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	CaseId      string            `gorm:"size:36;not null;index:uniq_idem,unique" json:"case_id"`
	HandlerName string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"handler_name"`
	ActionKey   string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"action_key"`
	Status      IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	LastError   *string           `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
