package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/mmdatafocus/bilan_backend/utils"
)

// RecordActivity appends a collaborator entry to the case log. AUTOMATION entries are reserved
// to the automation engine.
func (t *PhaseTracker) RecordActivity(ctx context.Context, caseID string, input models.NewActivity) (*models.Activity, error) {
	if err := models.ValidateInput(input); err != nil {
		return nil, err
	}
	c, err := t.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == models.CaseStatusAbandoned {
		return nil, models.NewInvalidTransition("case %s is abandoned", caseID)
	}
	now := t.now()
	occurred := utils.DereferencePtr(input.OccurredAt, now).UTC()
	if occurred.After(now) {
		return nil, models.NewValidationError("activity cannot be in the future", map[string]string{"OccurredAt": "lte"})
	}
	a := &models.Activity{
		CaseId:          caseID,
		Kind:            input.Kind,
		Description:     strings.TrimSpace(input.Description),
		DurationMinutes: input.DurationMinutes,
		Actor:           utils.ActorFromContext(ctx),
		OccurredAt:      occurred,
	}
	if err := t.store.AppendActivity(ctx, a); err != nil {
		config.LogError(t.logger, "workflow", "RecordActivity", "appending activity", input, err)
		return nil, models.AsDomainError(err, "append activity")
	}
	return a, nil
}

// RecordTest stores a test assigned to the case.
func (t *PhaseTracker) RecordTest(ctx context.Context, caseID string, input models.NewAssessmentTest) (*models.AssessmentTest, error) {
	if err := models.ValidateInput(input); err != nil {
		return nil, err
	}
	c, err := t.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, models.NewInvalidTransition("tests cannot be added to a %s case", c.Status)
	}
	test := &models.AssessmentTest{
		CaseId:  caseID,
		Name:    strings.TrimSpace(input.Name),
		Status:  input.Status,
		Summary: strings.TrimSpace(input.Summary),
	}
	if input.Status == models.TestStatusCompleted {
		now := t.now()
		test.CompletedAt = &now
	}
	if err := t.store.SaveTest(ctx, test); err != nil {
		config.LogError(t.logger, "workflow", "RecordTest", "saving test", input, err)
		return nil, models.AsDomainError(err, "save test")
	}
	return test, nil
}
