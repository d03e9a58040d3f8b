package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleRows() []CaseRow {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	return []CaseRow{
		{CaseId: "c1", BeneficiaryName: "Ada", Status: models.CaseStatusCompleted, FinancerType: models.FinancerTypeCPF, StartDate: start, HoursRealized: decimal.NewFromInt(24), Health: "GREEN", DocumentsFinalized: 5},
		{CaseId: "c2", BeneficiaryName: "Brune", Status: models.CaseStatusCompleted, FinancerType: models.FinancerTypeOPCO, StartDate: start, HoursRealized: decimal.NewFromFloat(20.5), Health: "GREEN"},
		{CaseId: "c3", BeneficiaryName: "Cyril", Status: models.CaseStatusAbandoned, FinancerType: models.FinancerTypeCPF, StartDate: start, Health: "RED"},
		{CaseId: "c4", BeneficiaryName: "Dora", Status: models.CaseStatusInvestigation, StartDate: start, Health: "RED", DropoutAlert: true, MissingDocuments: []string{"ATTENDANCE_SHEET", "SYNTHESIS"}},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRows(), nil, nil)

	assert.Equal(t, 4, s.TotalCases)
	assert.Equal(t, 2, s.ByStatus[models.CaseStatusCompleted])
	assert.Equal(t, 1, s.ByStatus[models.CaseStatusAbandoned])
	assert.Equal(t, 2, s.ByFinancer[models.FinancerTypeCPF])
	assert.Equal(t, 1, s.ByFinancer["UNKNOWN"])
	assert.Equal(t, 66.7, s.CompletionRate)
	assert.Equal(t, 1, s.DropoutAlerts)
	assert.True(t, decimal.NewFromFloat(44.5).Equal(s.HoursRealized))
}

func TestSummarizeWithoutClosedCases(t *testing.T) {
	s := Summarize([]CaseRow{{CaseId: "c1", Status: models.CaseStatusPreliminary}}, nil, nil)
	assert.Equal(t, 0.0, s.CompletionRate)
}

func TestWriteComplianceWorkbook(t *testing.T) {
	rows := sampleRows()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, WriteComplianceWorkbook(&buf, Summarize(rows, &from, &to), rows))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, casesSheet}, f.GetSheetList())

	period, err := f.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01 to 2026-03-31", period)
	total, err := f.GetCellValue(summarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "4", total)

	caseRows, err := f.GetRows(casesSheet)
	require.NoError(t, err)
	require.Len(t, caseRows, len(rows)+1)
	assert.Equal(t, "Case", caseRows[0][0])
	last := caseRows[4]
	assert.Equal(t, "c4", last[0])
	assert.Equal(t, "INVESTIGATION", last[3])
	assert.Equal(t, "yes", last[10])
	assert.Equal(t, "ATTENDANCE_SHEET, SYNTHESIS", last[12])
}
