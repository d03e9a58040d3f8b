package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	automationHandler   = "automation"
	automationActor     = "automation"
	recentActivityLimit = 20
)

type ExecutionStatus string

const (
	ExecutionExecuted ExecutionStatus = "EXECUTED"
	ExecutionSkipped  ExecutionStatus = "SKIPPED"
	ExecutionFailed   ExecutionStatus = "FAILED"
)

type ExecutionResult struct {
	Key        string           `json:"key"`
	Kind       ActionKind       `json:"kind"`
	Status     ExecutionStatus  `json:"status"`
	ActivityId string           `json:"activity_id,omitempty"`
	ErrorKind  models.ErrorKind `json:"error,omitempty"`
	Message    string           `json:"message,omitempty"`
}

type ExecutionReport struct {
	CaseId   string            `json:"case_id"`
	Results  []ExecutionResult `json:"results"`
	Executed int               `json:"executed"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
}

func (r *ExecutionReport) add(res ExecutionResult) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case ExecutionExecuted:
		r.Executed++
	case ExecutionSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

type SweepReport struct {
	Cases    int      `json:"cases"`
	Executed int      `json:"executed"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// AutomationEngine turns case state into recommended actions and executes them.
type AutomationEngine struct {
	store    models.Store
	notifier Notifier
	policy   config.AutomationPolicy
	logger   *logrus.Logger
	now      func() time.Time
}

func NewAutomationEngine(store models.Store, notifier Notifier, policy config.AutomationPolicy, logger *logrus.Logger) *AutomationEngine {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &AutomationEngine{
		store:    store,
		notifier: notifier,
		policy:   policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *AutomationEngine) WithClock(now func() time.Time) *AutomationEngine {
	e.now = now
	return e
}

func (e *AutomationEngine) Policy() config.AutomationPolicy {
	return e.policy
}

// Stats computes the progress snapshot of one case.
func (e *AutomationEngine) Stats(ctx context.Context, caseID string) (ProgressSnapshot, error) {
	in, err := e.statsInput(ctx, caseID)
	if err != nil {
		return ProgressSnapshot{}, err
	}
	return ComputeStats(in, e.policy), nil
}

func (e *AutomationEngine) statsInput(ctx context.Context, caseID string) (StatsInput, error) {
	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return StatsInput{}, err
	}
	tests, err := e.store.ListTests(ctx, caseID)
	if err != nil {
		return StatsInput{}, models.AsDomainError(err, "list tests")
	}
	docs, err := e.store.ListDocuments(ctx, caseID)
	if err != nil {
		return StatsInput{}, models.AsDomainError(err, "list documents")
	}
	activities, err := e.store.ListActivities(ctx, caseID, 0)
	if err != nil {
		return StatsInput{}, models.AsDomainError(err, "list activities")
	}
	return StatsInput{Case: c, Tests: tests, Documents: docs, Activities: activities, Now: e.now()}, nil
}

// Analyze gathers one immutable view of the case.
func (e *AutomationEngine) Analyze(ctx context.Context, caseID string) (snap CaseStateSnapshot, err error) {
	ctx, span := tracer.Start(ctx, "AutomationEngine.Analyze", trace.WithAttributes(attribute.String("case.id", caseID)))
	defer func() { endSpan(span, err) }()

	in, err := e.statsInput(ctx, caseID)
	if err != nil {
		return CaseStateSnapshot{}, err
	}
	snap = CaseStateSnapshot{
		Case:             *in.Case.Clone(),
		Progress:         ComputeStats(in, e.policy),
		MissingDocuments: MissingDocumentKinds(in.Case.Status, in.Documents),
		AnalyzedAt:       in.Now,
	}
	// Activities come newest first.
	for i, a := range in.Activities {
		if i < recentActivityLimit {
			snap.RecentActivity = append(snap.RecentActivity, *a)
		}
		if a.Kind == models.ActivityKindFollowUp {
			snap.HasFollowUp = true
		}
	}
	return snap, nil
}

func (e *AutomationEngine) GenerateActions(snap CaseStateSnapshot) []AutomationAction {
	return GenerateActions(snap, e.policy)
}

// ExecuteActions runs each action on its own. A failed action is reported and the rest still run.
// An action that already succeeded is skipped without notifying again.
func (e *AutomationEngine) ExecuteActions(ctx context.Context, caseID string, actions []AutomationAction) (report ExecutionReport, err error) {
	ctx, span := tracer.Start(ctx, "AutomationEngine.ExecuteActions", trace.WithAttributes(
		attribute.String("case.id", caseID),
		attribute.Int("actions", len(actions)),
	))
	defer func() { endSpan(span, err) }()

	report = ExecutionReport{CaseId: caseID, Results: []ExecutionResult{}}
	if _, err := e.store.GetCase(ctx, caseID); err != nil {
		return report, err
	}
	for _, a := range actions {
		if a.CaseId == "" {
			a.CaseId = caseID
		}
		report.add(e.execute(ctx, caseID, a))
	}
	return report, nil
}

func (e *AutomationEngine) execute(ctx context.Context, caseID string, a AutomationAction) ExecutionResult {
	key := a.Key()
	res := ExecutionResult{Key: key, Kind: a.Kind}
	fail := func(err error) ExecutionResult {
		res.Status = ExecutionFailed
		res.ErrorKind = models.KindOf(err)
		res.Message = err.Error()
		return res
	}

	if a.CaseId != caseID || !a.Kind.IsValid() || a.GeneratedAt.IsZero() {
		return fail(models.NewValidationError("action does not belong to this case or is malformed",
			map[string]string{"CaseId": "eq", "Kind": "oneof", "GeneratedAt": "required"}))
	}

	skip, err := e.store.BeginIdempotency(ctx, caseID, automationHandler, key)
	if err != nil {
		if errors.Is(err, models.ErrIdempotencyInProgress) {
			return fail(models.NewConcurrentModification("action %s is being executed", key))
		}
		config.LogError(e.logger, "workflow", "ExecuteActions", "begin idempotency", key, err)
		return fail(models.AsDomainError(err, "begin idempotency"))
	}
	if skip {
		res.Status = ExecutionSkipped
		return res
	}
	// An activity already recorded under this key means an earlier run finished but lost its key mark.
	recorded, err := e.recordedActivity(ctx, caseID, key)
	if err != nil {
		config.LogError(e.logger, "workflow", "ExecuteActions", "look up action activity", key, err)
		e.markFailed(ctx, caseID, key, err)
		return fail(models.AsDomainError(err, "list activities"))
	}
	if recorded != nil {
		if err := e.store.MarkIdempotencySucceeded(ctx, caseID, automationHandler, key); err != nil {
			config.LogError(e.logger, "workflow", "ExecuteActions", "mark idempotency succeeded", key, err)
		}
		res.Status = ExecutionSkipped
		res.ActivityId = recorded.ID
		return res
	}

	actionKey := key
	activity := &models.Activity{
		CaseId:      caseID,
		Kind:        models.ActivityKindAutomation,
		Description: fmt.Sprintf("[%s] %s", a.Kind, a.Message),
		Actor:       automationActor,
		ActionKey:   &actionKey,
		OccurredAt:  e.now(),
	}
	// Notify last so a failed write never notifies and a failed notification rolls the write back.
	var notifyErr error
	err = e.store.WithinTransaction(ctx, func(tx models.Store) error {
		if err := tx.AppendActivity(ctx, activity); err != nil {
			return err
		}
		if err := tx.MarkIdempotencySucceeded(ctx, caseID, automationHandler, key); err != nil {
			return err
		}
		notifyErr = e.notifier.Notify(ctx, a)
		return notifyErr
	})
	if notifyErr != nil {
		config.LogError(e.logger, "workflow", "ExecuteActions", "notify", key, notifyErr)
		e.markFailed(ctx, caseID, key, notifyErr)
		return fail(models.NewExternalServiceError(fmt.Sprintf("notification for %s failed", a.Kind), notifyErr))
	}
	if err != nil {
		config.LogError(e.logger, "workflow", "ExecuteActions", "record action", key, err)
		e.markFailed(ctx, caseID, key, err)
		return fail(models.AsDomainError(err, "record action"))
	}
	res.Status = ExecutionExecuted
	res.ActivityId = activity.ID
	return res
}

func (e *AutomationEngine) recordedActivity(ctx context.Context, caseID, key string) (*models.Activity, error) {
	activities, err := e.store.ListActivities(ctx, caseID, 0)
	if err != nil {
		return nil, err
	}
	for _, act := range activities {
		if act.ActionKey != nil && *act.ActionKey == key {
			return act, nil
		}
	}
	return nil, nil
}

func (e *AutomationEngine) markFailed(ctx context.Context, caseID, key string, cause error) {
	if err := e.store.MarkIdempotencyFailed(ctx, caseID, automationHandler, key, cause); err != nil {
		config.LogError(e.logger, "workflow", "ExecuteActions", "mark idempotency failed", key, err)
	}
}

// Run analyses one case and executes every generated action.
func (e *AutomationEngine) Run(ctx context.Context, caseID string) (CaseStateSnapshot, ExecutionReport, error) {
	snap, err := e.Analyze(ctx, caseID)
	if err != nil {
		return CaseStateSnapshot{}, ExecutionReport{}, err
	}
	report, err := e.ExecuteActions(ctx, caseID, e.GenerateActions(snap))
	return snap, report, err
}

// Sweep runs every open or completed case once. It is meant for an external periodic trigger.
func (e *AutomationEngine) Sweep(ctx context.Context) (SweepReport, error) {
	cases, err := e.store.ListCases(ctx, models.CaseFilter{Statuses: []models.CaseStatus{
		models.CaseStatusAwaiting,
		models.CaseStatusPreliminary,
		models.CaseStatusInvestigation,
		models.CaseStatusConclusion,
		models.CaseStatusCompleted,
	}})
	if err != nil {
		return SweepReport{}, models.AsDomainError(err, "list cases")
	}

	var out SweepReport
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Cases++
		_, report, err := e.Run(ctx, c.ID)
		if err != nil {
			config.LogError(e.logger, "workflow", "Sweep", "running case automation", c.ID, err)
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", c.ID, err.Error()))
			continue
		}
		out.Executed += report.Executed
		out.Skipped += report.Skipped
		out.Failed += report.Failed
	}
	return out, nil
}
