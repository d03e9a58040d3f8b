package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activity is the append-only engagement log of a case. Collaborators write sessions and tests;
// the automation engine writes one row per executed action.
type Activity struct {
	ID              string       `gorm:"type:char(36);primaryKey" json:"id"`
	CaseId          string       `gorm:"type:char(36);index:idx_activity_case_time;not null" json:"case_id"`
	Kind            ActivityKind `gorm:"size:20;not null" json:"kind"`
	Description     string       `gorm:"type:text;not null" json:"description"`
	DurationMinutes int          `gorm:"not null;default:0" json:"duration_minutes"`
	Actor           string       `gorm:"size:100;default:null" json:"actor,omitempty"`
	ActionKey       *string      `gorm:"size:255;uniqueIndex;default:null" json:"action_key,omitempty"`
	OccurredAt      time.Time    `gorm:"index:idx_activity_case_time;not null" json:"occurred_at"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

type NewActivity struct {
	Kind            ActivityKind `json:"kind" validate:"required,oneof=SESSION TEST DOCUMENT PHASE FOLLOW_UP"`
	Description     string       `json:"description" validate:"required"`
	DurationMinutes int          `json:"duration_minutes" validate:"gte=0,lte=720"`
	OccurredAt      *time.Time   `json:"occurred_at"`
}

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// AssessmentTest is a psychometric or skills test assigned to a case, written by a collaborator.
type AssessmentTest struct {
	ID          string     `gorm:"type:char(36);primaryKey" json:"id"`
	CaseId      string     `gorm:"type:char(36);index;not null" json:"case_id"`
	Name        string     `gorm:"size:255;not null" json:"name"`
	Status      TestStatus `gorm:"type:enum('PENDING','IN_PROGRESS','COMPLETED');not null" json:"status"`
	Summary     string     `gorm:"type:text;default:null" json:"summary,omitempty"`
	CompletedAt *time.Time `gorm:"default:null" json:"completed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (t *AssessmentTest) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

type NewAssessmentTest struct {
	Name    string     `json:"name" validate:"required,max=255"`
	Status  TestStatus `json:"status" validate:"required,oneof=PENDING IN_PROGRESS COMPLETED"`
	Summary string     `json:"summary"`
}
