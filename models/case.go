package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Case is one assessment engagement ("bilan") for a beneficiary, followed by a consultant.
type Case struct {
	ID                       string         `gorm:"type:char(36);primaryKey" json:"id"`
	OrganizationId           string         `gorm:"size:32;index;not null" json:"organization_id"`
	BeneficiaryId            string         `gorm:"size:64;index;not null" json:"beneficiary_id"`
	BeneficiaryName          string         `gorm:"size:255;default:null" json:"beneficiary_name"`
	ConsultantId             string         `gorm:"size:64;index;not null" json:"consultant_id"`
	Status                   CaseStatus     `gorm:"type:enum('AWAITING','PRELIMINARY','INVESTIGATION','CONCLUSION','COMPLETED','ABANDONED');not null;index" json:"status"`
	FinancerType             FinancerType   `gorm:"size:20;default:null" json:"financer_type"`
	StartDate                time.Time      `gorm:"not null" json:"start_date"`
	EndDate                  *time.Time     `gorm:"default:null" json:"end_date"`
	PreliminaryCompletedAt   *time.Time     `gorm:"default:null" json:"preliminary_completed_at"`
	InvestigationCompletedAt *time.Time     `gorm:"default:null" json:"investigation_completed_at"`
	ConclusionCompletedAt    *time.Time     `gorm:"default:null" json:"conclusion_completed_at"`
	Objectives               datatypes.JSON `gorm:"type:json;default:null" json:"objectives"`
	ObjectivesValidated      bool           `gorm:"not null;default:false" json:"objectives_validated"`
	ObjectivesValidatedAt    *time.Time     `gorm:"default:null" json:"objectives_validated_at"`
	AbandonReason            string         `gorm:"type:text;default:null" json:"abandon_reason,omitempty"`
	AbandonedAt              *time.Time     `gorm:"default:null" json:"abandoned_at,omitempty"`
	Version                  int            `gorm:"not null;default:1" json:"version"`
	CreatedAt                time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCase struct {
	OrganizationId  string       `json:"organization_id" validate:"required,numeric,len=14"`
	BeneficiaryId   string       `json:"beneficiary_id" validate:"required,max=64"`
	BeneficiaryName string       `json:"beneficiary_name" validate:"max=255"`
	ConsultantId    string       `json:"consultant_id" validate:"required,max=64"`
	FinancerType    FinancerType `json:"financer_type" validate:"omitempty,oneof=CPF OPCO EMPLOYER PERSONAL"`
	StartDate       time.Time    `json:"start_date" validate:"required"`
	EndDate         *time.Time   `json:"end_date" validate:"omitempty,gtfield=StartDate"`
	Objectives      []string     `json:"objectives" validate:"omitempty,dive,required"`
}

func (c *Case) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ObjectiveList decodes the objectives column; a malformed column reads as empty.
func (c *Case) ObjectiveList() []string {
	if len(c.Objectives) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(c.Objectives, &out); err != nil {
		return nil
	}
	return out
}

func (c *Case) SetObjectives(objectives []string) error {
	raw, err := json.Marshal(objectives)
	if err != nil {
		return err
	}
	c.Objectives = datatypes.JSON(raw)
	return nil
}

// PhaseCompletedAt returns the completion stamp of the phase that ends when the case leaves status.
func (c *Case) PhaseCompletedAt(status CaseStatus) *time.Time {
	switch status {
	case CaseStatusPreliminary:
		return c.PreliminaryCompletedAt
	case CaseStatusInvestigation:
		return c.InvestigationCompletedAt
	case CaseStatusConclusion:
		return c.ConclusionCompletedAt
	}
	return nil
}

// StampPhaseCompleted sets the completion stamp of status if it is still null.
// It reports whether a stamp was written.
func (c *Case) StampPhaseCompleted(status CaseStatus, at time.Time) bool {
	var slot **time.Time
	switch status {
	case CaseStatusPreliminary:
		slot = &c.PreliminaryCompletedAt
	case CaseStatusInvestigation:
		slot = &c.InvestigationCompletedAt
	case CaseStatusConclusion:
		slot = &c.ConclusionCompletedAt
	default:
		return false
	}
	if *slot != nil {
		return false
	}
	t := at
	*slot = &t
	return true
}

// Clone returns a deep copy; stores hand out clones so callers never share state.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	out.EndDate = cloneTime(c.EndDate)
	out.PreliminaryCompletedAt = cloneTime(c.PreliminaryCompletedAt)
	out.InvestigationCompletedAt = cloneTime(c.InvestigationCompletedAt)
	out.ConclusionCompletedAt = cloneTime(c.ConclusionCompletedAt)
	out.ObjectivesValidatedAt = cloneTime(c.ObjectivesValidatedAt)
	out.AbandonedAt = cloneTime(c.AbandonedAt)
	if c.Objectives != nil {
		out.Objectives = append(datatypes.JSON(nil), c.Objectives...)
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
