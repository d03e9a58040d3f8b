package reports

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	casesSheet   = "Cases"
)

// CaseRow is one case of the compliance report.
type CaseRow struct {
	CaseId             string              `json:"case_id"`
	BeneficiaryName    string              `json:"beneficiary_name"`
	ConsultantId       string              `json:"consultant_id"`
	Status             models.CaseStatus   `json:"status"`
	FinancerType       models.FinancerType `json:"financer_type"`
	StartDate          time.Time           `json:"start_date"`
	TimeProgress       float64             `json:"time_progress"`
	PhaseProgress      int                 `json:"phase_progress"`
	HoursRealized      decimal.Decimal     `json:"hours_realized"`
	Health             string              `json:"health"`
	DropoutAlert       bool                `json:"dropout_alert"`
	DocumentsFinalized int                 `json:"documents_finalized"`
	MissingDocuments   []string            `json:"missing_documents"`
}

type ComplianceSummary struct {
	From           *time.Time                  `json:"from"`
	To             *time.Time                  `json:"to"`
	TotalCases     int                         `json:"total_cases"`
	ByStatus       map[models.CaseStatus]int   `json:"by_status"`
	ByFinancer     map[models.FinancerType]int `json:"by_financer"`
	CompletionRate float64                     `json:"completion_rate"`
	DropoutAlerts  int                         `json:"dropout_alerts"`
	HoursRealized  decimal.Decimal             `json:"hours_realized"`
}

// Summarize aggregates rows. CompletionRate is the share of closed cases (completed or
// abandoned) that completed, in percent.
func Summarize(rows []CaseRow, from, to *time.Time) ComplianceSummary {
	s := ComplianceSummary{
		From:          from,
		To:            to,
		TotalCases:    len(rows),
		ByStatus:      map[models.CaseStatus]int{},
		ByFinancer:    map[models.FinancerType]int{},
		HoursRealized: decimal.Zero,
	}
	for _, r := range rows {
		s.ByStatus[r.Status]++
		financer := r.FinancerType
		if financer == "" {
			financer = "UNKNOWN"
		}
		s.ByFinancer[financer]++
		if r.DropoutAlert {
			s.DropoutAlerts++
		}
		s.HoursRealized = s.HoursRealized.Add(r.HoursRealized)
	}
	completed := s.ByStatus[models.CaseStatusCompleted]
	if closed := completed + s.ByStatus[models.CaseStatusAbandoned]; closed > 0 {
		s.CompletionRate = math.Round(float64(completed)/float64(closed)*1000) / 10
	}
	return s
}

// WriteComplianceWorkbook renders the summary and per-case rows as an xlsx workbook.
func WriteComplianceWorkbook(w io.Writer, summary ComplianceSummary, rows []CaseRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(casesSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	period := "all time"
	if summary.From != nil || summary.To != nil {
		period = fmt.Sprintf("%s to %s", formatDate(summary.From), formatDate(summary.To))
	}
	summaryRows := [][]interface{}{
		{"Compliance report", period},
		{"Total cases", summary.TotalCases},
		{"Completion rate (%)", summary.CompletionRate},
		{"Dropout alerts", summary.DropoutAlerts},
		{"Hours realized", summary.HoursRealized.InexactFloat64()},
		{},
		{"Status", "Cases"},
	}
	for _, st := range append(models.CaseStatusOrder(), models.CaseStatusAbandoned) {
		summaryRows = append(summaryRows, []interface{}{string(st), summary.ByStatus[st]})
	}
	summaryRows = append(summaryRows, []interface{}{}, []interface{}{"Financer", "Cases"})
	financers := make([]string, 0, len(summary.ByFinancer))
	for k := range summary.ByFinancer {
		financers = append(financers, string(k))
	}
	sort.Strings(financers)
	for _, k := range financers {
		summaryRows = append(summaryRows, []interface{}{k, summary.ByFinancer[models.FinancerType(k)]})
	}
	for i, row := range summaryRows {
		if len(row) == 0 {
			continue
		}
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A1", bold); err != nil {
		return err
	}

	headers := []interface{}{
		"Case", "Beneficiary", "Consultant", "Status", "Financer", "Start date",
		"Time progress (%)", "Phase progress (%)", "Hours realized", "Health", "Dropout alert",
		"Finalized documents", "Missing documents",
	}
	if err := setRow(f, casesSheet, 1, headers); err != nil {
		return err
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(casesSheet, "A1", lastHeader, bold); err != nil {
		return err
	}
	for i, r := range rows {
		dropout := "no"
		if r.DropoutAlert {
			dropout = "yes"
		}
		err := setRow(f, casesSheet, i+2, []interface{}{
			r.CaseId,
			r.BeneficiaryName,
			r.ConsultantId,
			string(r.Status),
			string(r.FinancerType),
			r.StartDate.Format("2006-01-02"),
			r.TimeProgress,
			r.PhaseProgress,
			r.HoursRealized.InexactFloat64(),
			r.Health,
			dropout,
			r.DocumentsFinalized,
			strings.Join(r.MissingDocuments, ", "),
		})
		if err != nil {
			return err
		}
	}
	return f.Write(w)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "..."
	}
	return t.Format("2006-01-02")
}
