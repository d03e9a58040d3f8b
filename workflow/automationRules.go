package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
)

type ActionKind string

const (
	ActionNotification    ActionKind = "NOTIFICATION"
	ActionEmail           ActionKind = "EMAIL"
	ActionTask            ActionKind = "TASK"
	ActionReminder        ActionKind = "REMINDER"
	ActionEscalation      ActionKind = "ESCALATION"
	ActionDocumentRequest ActionKind = "DOCUMENT_REQUEST"
)

func (k ActionKind) IsValid() bool {
	switch k {
	case ActionNotification, ActionEmail, ActionTask, ActionReminder, ActionEscalation, ActionDocumentRequest:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

type Recipient string

const (
	RecipientBeneficiary Recipient = "BENEFICIARY"
	RecipientConsultant  Recipient = "CONSULTANT"
	RecipientBoth        Recipient = "BOTH"
)

// AutomationAction is a recommendation. It is persisted only once executed, as an activity.
type AutomationAction struct {
	CaseId         string     `json:"case_id" binding:"required"`
	Kind           ActionKind `json:"kind" binding:"required"`
	Priority       Priority   `json:"priority"`
	Recipient      Recipient  `json:"recipient"`
	Message        string     `json:"message"`
	RequiredAction string     `json:"required_action"`
	ActionRequired bool       `json:"action_required"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	GeneratedAt    time.Time  `json:"generated_at" binding:"required"`
}

// Key identifies one generated action for idempotent execution.
func (a AutomationAction) Key() string {
	return fmt.Sprintf("%s|%s|%s", a.CaseId, a.Kind, a.GeneratedAt.UTC().Format(time.RFC3339Nano))
}

// CaseStateSnapshot is the immutable view the rules evaluate.
type CaseStateSnapshot struct {
	Case             models.Case           `json:"case"`
	Progress         ProgressSnapshot      `json:"progress"`
	RecentActivity   []models.Activity     `json:"recent_activity"`
	MissingDocuments []models.DocumentKind `json:"missing_documents"`
	HasFollowUp      bool                  `json:"has_follow_up"`
	AnalyzedAt       time.Time             `json:"analyzed_at"`
}

// expectedDocuments lists the kinds a case must hold once it has reached each status.
var expectedDocuments = map[models.CaseStatus][]models.DocumentKind{
	models.CaseStatusPreliminary:   {models.DocumentKindConvention},
	models.CaseStatusInvestigation: {models.DocumentKindConvention, models.DocumentKindAttendanceSheet},
	models.CaseStatusConclusion:    {models.DocumentKindConvention, models.DocumentKindAttendanceSheet, models.DocumentKindSynthesis},
	models.CaseStatusCompleted:     models.AllDocumentKinds,
}

// MissingDocumentKinds returns the mandated kinds absent for the case's current status.
func MissingDocumentKinds(status models.CaseStatus, docs []*models.ComplianceDocument) []models.DocumentKind {
	present := map[models.DocumentKind]bool{}
	for _, d := range docs {
		present[d.Kind] = true
	}
	var missing []models.DocumentKind
	for _, k := range expectedDocuments[status] {
		if !present[k] {
			missing = append(missing, k)
		}
	}
	return missing
}

// GenerateActions evaluates the rules in order. Each rule emits at most one action and no two
// rules share a kind for the same snapshot.
func GenerateActions(snap CaseStateSnapshot, policy config.AutomationPolicy) []AutomationAction {
	status := snap.Case.Status
	if status == models.CaseStatusAbandoned {
		return nil
	}
	p := snap.Progress
	at := snap.AnalyzedAt
	active := !status.IsTerminal()
	name := snap.Case.BeneficiaryName
	if name == "" {
		name = snap.Case.BeneficiaryId
	}
	action := func(kind ActionKind, prio Priority, to Recipient, msg, required string, actionRequired bool) AutomationAction {
		return AutomationAction{
			CaseId:         snap.Case.ID,
			Kind:           kind,
			Priority:       prio,
			Recipient:      to,
			Message:        msg,
			RequiredAction: required,
			ActionRequired: actionRequired,
			GeneratedAt:    at,
		}
	}

	var actions []AutomationAction
	escalated := false
	if active && p.Health == HealthRed && p.DaysInactive > policy.InactivityDays {
		escalated = true
		actions = append(actions, action(ActionEscalation, PriorityUrgent, RecipientConsultant,
			fmt.Sprintf("Case of %s is at risk: no activity for %d days and progress lags the schedule", name, p.DaysInactive),
			"Contact the beneficiary and agree on a recovery plan", true))
	}

	if len(snap.MissingDocuments) > 0 {
		kinds := make([]string, len(snap.MissingDocuments))
		for i, k := range snap.MissingDocuments {
			kinds[i] = string(k)
		}
		prio := PriorityMedium
		if status == models.CaseStatusCompleted {
			prio = PriorityHigh
		}
		actions = append(actions, action(ActionDocumentRequest, prio, RecipientConsultant,
			fmt.Sprintf("Mandatory documents missing for the %s phase: %s", strings.ToLower(string(status)), strings.Join(kinds, ", ")),
			"Create the missing compliance documents", true))
	}

	if status == models.CaseStatusInvestigation && p.TestsRatio < policy.TestReminderRatio {
		actions = append(actions, action(ActionReminder, PriorityMedium, RecipientBeneficiary,
			fmt.Sprintf("%d of %d assessment tests completed", p.TestsCompleted, p.TestsTarget),
			"Complete the pending assessment tests", false))
	}

	if active && !escalated && p.DaysInactive >= policy.InactivityDays {
		actions = append(actions, action(ActionTask, PriorityHigh, RecipientConsultant,
			fmt.Sprintf("No activity on the case of %s for %d days", name, p.DaysInactive),
			"Schedule the next session", true))
	}

	if active && p.DelayDays > policy.DelayAlertDays {
		actions = append(actions, action(ActionEmail, PriorityHigh, RecipientBoth,
			fmt.Sprintf("The assessment is about %d days behind schedule", p.DelayDays),
			"Review the planning together", false))
	}

	if active && status != models.CaseStatusAwaiting && p.PhaseProgress >= policy.PhaseNearlyDone {
		actions = append(actions, action(ActionNotification, PriorityLow, RecipientConsultant,
			fmt.Sprintf("Progress reached %d%%, the %s phase is nearly done", p.PhaseProgress, strings.ToLower(string(status))),
			"Prepare the next phase", false))
	}

	if status == models.CaseStatusCompleted && !snap.HasFollowUp && snap.Case.ConclusionCompletedAt != nil {
		due := snap.Case.ConclusionCompletedAt.AddDate(0, policy.FollowUpMonths, 0)
		if !at.Before(due) {
			a := action(ActionTask, PriorityMedium, RecipientConsultant,
				fmt.Sprintf("%d-month follow-up interview with %s is due", policy.FollowUpMonths, name),
				"Hold the follow-up interview and log it", true)
			a.DueDate = &due
			actions = append(actions, a)
		}
	}
	return actions
}
