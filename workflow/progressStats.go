package workflow

import (
	"math"
	"time"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/mmdatafocus/bilan_backend/utils"
	"github.com/shopspring/decimal"
)

type HealthStatus string

const (
	HealthGreen  HealthStatus = "GREEN"
	HealthOrange HealthStatus = "ORANGE"
	HealthRed    HealthStatus = "RED"
)

// Phase-weighted progress weights.
const (
	preliminaryWeight = 0.2
	testsWeight       = 0.5
	documentsWeight   = 0.3
)

// StatsInput is everything ComputeStats reads. Callers fetch it; ComputeStats does no I/O.
type StatsInput struct {
	Case       *models.Case
	Tests      []*models.AssessmentTest
	Documents  []*models.ComplianceDocument
	Activities []*models.Activity
	Now        time.Time
}

type ProgressSnapshot struct {
	CaseId             string            `json:"case_id"`
	Status             models.CaseStatus `json:"status"`
	TimeProgress       float64           `json:"time_progress"`
	PhaseProgress      int               `json:"phase_progress"`
	HoursRealized      decimal.Decimal   `json:"hours_realized"`
	HoursTarget        decimal.Decimal   `json:"hours_target"`
	TestsCompleted     int               `json:"tests_completed"`
	TestsTarget        int               `json:"tests_target"`
	TestsRatio         float64           `json:"tests_ratio"`
	DocumentsGenerated int               `json:"documents_generated"`
	DocumentsTarget    int               `json:"documents_target"`
	DocumentsRatio     float64           `json:"documents_ratio"`
	LastActivityAt     *time.Time        `json:"last_activity_at"`
	DaysInactive       int               `json:"days_inactive"`
	DelayDays          int               `json:"delay_days"`
	Health             HealthStatus      `json:"health"`
	DropoutAlert       bool              `json:"dropout_alert"`
	ComputedAt         time.Time         `json:"computed_at"`
}

// ComputeStats derives progress and health for one case. It is deterministic in its inputs.
func ComputeStats(in StatsInput, policy config.AutomationPolicy) ProgressSnapshot {
	c := in.Case
	snap := ProgressSnapshot{
		CaseId:          c.ID,
		Status:          c.Status,
		TestsTarget:     policy.TestsTarget,
		DocumentsTarget: policy.DocumentsTarget,
		HoursTarget:     decimal.NewFromInt(int64(policy.HoursTarget)),
		ComputedAt:      in.Now,
	}

	window := windowDays(c, policy)
	snap.TimeProgress = timeProgress(c, in.Now, window)

	for _, t := range in.Tests {
		if t.Status == models.TestStatusCompleted {
			snap.TestsCompleted++
		}
	}
	kinds := map[models.DocumentKind]bool{}
	for _, d := range in.Documents {
		kinds[d.Kind] = true
	}
	snap.DocumentsGenerated = len(kinds)
	snap.TestsRatio = ratio(snap.TestsCompleted, policy.TestsTarget)
	snap.DocumentsRatio = ratio(snap.DocumentsGenerated, policy.DocumentsTarget)

	preliminary := 0.0
	if c.PreliminaryCompletedAt != nil {
		preliminary = 100
	}
	phase := preliminaryWeight*preliminary +
		testsWeight*utils.Clamp(snap.TestsRatio*100, 0, 100) +
		documentsWeight*utils.Clamp(snap.DocumentsRatio*100, 0, 100)
	snap.PhaseProgress = int(math.Round(utils.Clamp(phase, 0, 100)))

	minutes := int64(0)
	var last *time.Time
	for _, a := range in.Activities {
		if a.Kind == models.ActivityKindAutomation {
			continue
		}
		minutes += int64(a.DurationMinutes)
		if last == nil || a.OccurredAt.After(*last) {
			at := a.OccurredAt
			last = &at
		}
	}
	snap.HoursRealized = decimal.NewFromInt(minutes).Div(decimal.NewFromInt(60)).Round(1)
	snap.LastActivityAt = last
	since := c.StartDate
	if last != nil {
		since = *last
	}
	if inactive := utils.DaysBetween(since, in.Now); inactive > 0 {
		snap.DaysInactive = inactive
	}

	lag := snap.TimeProgress - float64(snap.PhaseProgress)
	if lag > 0 {
		snap.DelayDays = int(math.Round(lag / 100 * float64(window)))
	}
	snap.Health, snap.DropoutAlert = classifyHealth(c.Status, lag, snap.DaysInactive, policy)
	return snap
}

func windowDays(c *models.Case, policy config.AutomationPolicy) int {
	if c.EndDate != nil && c.EndDate.After(c.StartDate) {
		if days := int(math.Ceil(c.EndDate.Sub(c.StartDate).Hours() / 24)); days > 0 {
			return days
		}
	}
	return policy.DefaultWindowDays
}

// timeProgress is the elapsed share of the engagement window, in percent with one decimal.
func timeProgress(c *models.Case, now time.Time, window int) float64 {
	end := c.StartDate.AddDate(0, 0, window)
	if c.EndDate != nil && c.EndDate.After(c.StartDate) {
		end = *c.EndDate
	}
	total := end.Sub(c.StartDate)
	if total <= 0 {
		return 0
	}
	p := utils.Clamp(float64(now.Sub(c.StartDate))/float64(total), 0, 1) * 100
	return math.Round(p*10) / 10
}

func ratio(n, target int) float64 {
	if target <= 0 {
		return 1
	}
	return utils.Clamp(float64(n)/float64(target), 0, 1)
}

func classifyHealth(status models.CaseStatus, lag float64, daysInactive int, policy config.AutomationPolicy) (HealthStatus, bool) {
	switch status {
	case models.CaseStatusCompleted:
		return HealthGreen, false
	case models.CaseStatusAbandoned:
		return HealthRed, false
	}

	level := 0
	switch {
	case lag > policy.OrangeMaxLag:
		level = 2
	case lag > policy.GreenMaxLag:
		level = 1
	}
	inactive := daysInactive >= policy.InactivityDays
	if inactive && level < 2 {
		level++
	}
	health := []HealthStatus{HealthGreen, HealthOrange, HealthRed}[level]
	dropout := daysInactive >= policy.DropoutInactivityDays || (health == HealthRed && inactive)
	return health, dropout
}
