package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/mmdatafocus/bilan_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const synthesisPrompt = `Write the synthesis of a career assessment for {{.Beneficiary}}.
Objectives agreed at the start:
{{range .Objectives}}- {{.}}
{{end}}Completed tests:
{{range .Tests}}- {{.Name}}{{if .Summary}}: {{.Summary}}{{end}}
{{end}}Describe the strengths, the development areas and a realistic professional project.
Write in a neutral, professional tone addressed to the beneficiary.`

// DraftSynthesis asks the text generator for a synthesis narrative and stores it as a DRAFT
// synthesis. The consultant reviews it through the normal validate and sign path.
func (m *DocumentManager) DraftSynthesis(ctx context.Context, caseID string) (doc *models.ComplianceDocument, err error) {
	ctx, span := tracer.Start(ctx, "DocumentManager.DraftSynthesis", trace.WithAttributes(attribute.String("case.id", caseID)))
	defer func() { endSpan(span, err) }()

	c, err := m.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != models.CaseStatusInvestigation && c.Status != models.CaseStatusConclusion {
		return nil, models.NewPreconditionNotMet("a synthesis is drafted during investigation or conclusion",
			map[string]string{"status": string(c.Status)})
	}
	if m.textGen == nil {
		return nil, models.NewExternalServiceError("text generation is not configured", nil)
	}

	tests, err := m.store.ListTests(ctx, caseID)
	if err != nil {
		return nil, models.AsDomainError(err, "list tests")
	}
	completed := make([]*models.AssessmentTest, 0, len(tests))
	for _, t := range tests {
		if t.Status == models.TestStatusCompleted {
			completed = append(completed, t)
		}
	}
	beneficiary := c.BeneficiaryName
	if beneficiary == "" {
		beneficiary = "the beneficiary"
	}
	prompt, err := utils.ExecTemplate(synthesisPrompt, map[string]interface{}{
		"Beneficiary": beneficiary,
		"Objectives":  c.ObjectiveList(),
		"Tests":       completed,
	})
	if err != nil {
		return nil, models.NewPersistenceError("render synthesis prompt", err)
	}

	text, err := m.textGen.GenerateText(ctx, prompt)
	if err != nil {
		config.LogError(m.logger, "workflow", "DraftSynthesis", "generating synthesis", caseID, err)
		return nil, models.NewExternalServiceError("synthesis generation failed", err)
	}
	return m.create(ctx, c.ID, models.DocumentKindSynthesis, nil, &models.SynthesisPayload{
		Narrative: strings.TrimSpace(text),
		Generated: true,
	})
}
