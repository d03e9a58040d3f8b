package workflow

import (
	"context"

	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/mmdatafocus/bilan_backend/models/reports"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ComplianceReport computes one row per case matching filter, ordered as the store lists them.
func (e *AutomationEngine) ComplianceReport(ctx context.Context, filter models.CaseFilter) (summary reports.ComplianceSummary, rows []reports.CaseRow, err error) {
	ctx, span := tracer.Start(ctx, "AutomationEngine.ComplianceReport",
		trace.WithAttributes(attribute.String("organization.id", filter.OrganizationId)))
	defer func() { endSpan(span, err) }()

	cases, err := e.store.ListCases(ctx, filter)
	if err != nil {
		return summary, nil, models.AsDomainError(err, "list cases")
	}
	rows = make([]reports.CaseRow, 0, len(cases))
	for _, c := range cases {
		in, err := e.statsInput(ctx, c.ID)
		if err != nil {
			return summary, nil, err
		}
		snap := ComputeStats(in, e.policy)
		finalized := 0
		for _, d := range in.Documents {
			if d.Status == models.DocumentStatusFinalized {
				finalized++
			}
		}
		var missing []string
		for _, k := range MissingDocumentKinds(c.Status, in.Documents) {
			missing = append(missing, string(k))
		}
		rows = append(rows, reports.CaseRow{
			CaseId:             c.ID,
			BeneficiaryName:    c.BeneficiaryName,
			ConsultantId:       c.ConsultantId,
			Status:             c.Status,
			FinancerType:       c.FinancerType,
			StartDate:          c.StartDate,
			TimeProgress:       snap.TimeProgress,
			PhaseProgress:      snap.PhaseProgress,
			HoursRealized:      snap.HoursRealized,
			Health:             string(snap.Health),
			DropoutAlert:       snap.DropoutAlert,
			DocumentsFinalized: finalized,
			MissingDocuments:   missing,
		})
	}
	return reports.Summarize(rows, filter.StartedFrom, filter.StartedTo), rows, nil
}
