package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/mmdatafocus/bilan_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PhaseTracker owns case status transitions and the phase completion stamps.
type PhaseTracker struct {
	store  models.Store
	locker CaseLocker
	logger *logrus.Logger
	now    func() time.Time
}

func NewPhaseTracker(store models.Store, locker CaseLocker, logger *logrus.Logger) *PhaseTracker {
	if locker == nil {
		locker = NoCaseLock{}
	}
	return &PhaseTracker{
		store:  store,
		locker: locker,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for stamps.
func (t *PhaseTracker) WithClock(now func() time.Time) *PhaseTracker {
	t.now = now
	return t
}

func (t *PhaseTracker) OpenCase(ctx context.Context, input models.NewCase) (*models.Case, error) {
	if err := models.ValidateInput(input); err != nil {
		return nil, err
	}
	c := &models.Case{
		OrganizationId:  input.OrganizationId,
		BeneficiaryId:   input.BeneficiaryId,
		BeneficiaryName: input.BeneficiaryName,
		ConsultantId:    input.ConsultantId,
		FinancerType:    input.FinancerType,
		Status:          models.CaseStatusAwaiting,
		StartDate:       input.StartDate.UTC(),
		EndDate:         input.EndDate,
	}
	if len(input.Objectives) > 0 {
		if err := c.SetObjectives(input.Objectives); err != nil {
			return nil, models.NewValidationError("objectives cannot be encoded", map[string]string{"Objectives": "json"})
		}
	}
	if err := t.store.CreateCase(ctx, c); err != nil {
		config.LogError(t.logger, "workflow", "OpenCase", "creating case", input, err)
		return nil, models.AsDomainError(err, "create case")
	}
	return c, nil
}

func (t *PhaseTracker) GetCase(ctx context.Context, caseID string) (*models.Case, error) {
	return t.store.GetCase(ctx, caseID)
}

func (t *PhaseTracker) ListCases(ctx context.Context, filter models.CaseFilter) ([]*models.Case, error) {
	cases, err := t.store.ListCases(ctx, filter)
	if err != nil {
		return nil, models.AsDomainError(err, "list cases")
	}
	return cases, nil
}

// ValidateObjectives records the agreed objectives. They are fixed once the preliminary phase ends.
func (t *PhaseTracker) ValidateObjectives(ctx context.Context, caseID string, objectives []string) (*models.Case, error) {
	unlock, err := t.locker.Lock(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := t.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != models.CaseStatusAwaiting && c.Status != models.CaseStatusPreliminary {
		return nil, models.NewInvalidTransition("objectives of a %s case cannot be validated", c.Status)
	}

	cleaned := make([]string, 0, len(objectives))
	for _, o := range objectives {
		if o = strings.TrimSpace(o); o != "" {
			cleaned = append(cleaned, o)
		}
	}
	cleaned = utils.UniqueSlice(cleaned)
	if len(cleaned) == 0 {
		cleaned = c.ObjectiveList()
	}
	if len(cleaned) == 0 {
		return nil, models.NewValidationError("at least one objective is required", map[string]string{"Objectives": "required"})
	}
	if err := c.SetObjectives(cleaned); err != nil {
		return nil, models.NewValidationError("objectives cannot be encoded", map[string]string{"Objectives": "json"})
	}
	now := t.now()
	c.ObjectivesValidated = true
	c.ObjectivesValidatedAt = &now

	if err := t.store.UpdateCase(ctx, c, c.Version); err != nil {
		return nil, models.AsDomainError(err, "update case")
	}
	return c, nil
}

// Advance moves a case to the immediate successor of its current status and stamps the phase
// that just ended.
func (t *PhaseTracker) Advance(ctx context.Context, caseID string, target models.CaseStatus) (c *models.Case, err error) {
	ctx, span := tracer.Start(ctx, "PhaseTracker.Advance", trace.WithAttributes(
		attribute.String("case.id", caseID),
		attribute.String("case.target_phase", string(target)),
	))
	defer func() { endSpan(span, err) }()

	if !target.IsValid() || target == models.CaseStatusAbandoned {
		return nil, models.NewValidationError("unknown target phase "+string(target), map[string]string{"TargetPhase": "oneof"})
	}

	unlock, err := t.locker.Lock(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err = t.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == target {
		return nil, models.NewAlreadyCompleted("case %s is already %s", caseID, target)
	}
	if c.Status.IsTerminal() {
		return nil, models.NewInvalidTransition("case %s is %s", caseID, c.Status)
	}
	next, ok := c.Status.Next()
	if !ok || next != target {
		return nil, models.NewInvalidTransition("case %s cannot move from %s to %s", caseID, c.Status, target)
	}
	if c.Status == models.CaseStatusPreliminary {
		if err := t.checkPreliminaryComplete(ctx, t.store, c); err != nil {
			return nil, err
		}
	}

	expected := c.Version
	c.StampPhaseCompleted(c.Status, t.now())
	c.Status = target
	if err := t.store.UpdateCase(ctx, c, expected); err != nil {
		if models.KindOf(err) == models.ErrKindPersistence {
			config.LogError(t.logger, "workflow", "Advance", "updating case status", caseID, err)
		}
		return nil, models.AsDomainError(err, "update case")
	}
	return c, nil
}

// checkPreliminaryComplete requires validated objectives and a signed convention.
func (t *PhaseTracker) checkPreliminaryComplete(ctx context.Context, store models.Store, c *models.Case) error {
	missing := map[string]string{}
	if !c.ObjectivesValidated {
		missing["objectives"] = "not validated"
	}
	docs, err := store.ListDocuments(ctx, c.ID)
	if err != nil {
		return models.AsDomainError(err, "list documents")
	}
	signed := false
	for _, d := range docs {
		if d.Kind == models.DocumentKindConvention &&
			(d.Status == models.DocumentStatusSigned || d.Status == models.DocumentStatusFinalized) {
			signed = true
			break
		}
	}
	if !signed {
		missing["convention"] = "not signed"
	}
	if len(missing) > 0 {
		return models.NewPreconditionNotMet("preliminary phase is not complete", missing)
	}
	return nil
}

// Abandon closes a non-terminal case.
func (t *PhaseTracker) Abandon(ctx context.Context, caseID, reason string) (c *models.Case, err error) {
	ctx, span := tracer.Start(ctx, "PhaseTracker.Abandon", trace.WithAttributes(attribute.String("case.id", caseID)))
	defer func() { endSpan(span, err) }()

	unlock, err := t.locker.Lock(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err = t.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, models.NewInvalidTransition("case %s is already %s", caseID, c.Status)
	}

	expected := c.Version
	now := t.now()
	c.Status = models.CaseStatusAbandoned
	c.AbandonedAt = &now
	c.AbandonReason = strings.TrimSpace(reason)
	if err := t.store.UpdateCase(ctx, c, expected); err != nil {
		return nil, models.AsDomainError(err, "update case")
	}
	return c, nil
}

// completeFromCertificate moves the case to COMPLETED inside the caller's transaction.
// The caller holds the case lock. An already completed case is left untouched.
func (t *PhaseTracker) completeFromCertificate(ctx context.Context, tx models.Store, caseID string) error {
	c, err := tx.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if err := certificateCanComplete(c); err != nil {
		return err
	}
	if c.Status == models.CaseStatusCompleted {
		return nil
	}
	expected := c.Version
	c.StampPhaseCompleted(models.CaseStatusConclusion, t.now())
	c.Status = models.CaseStatusCompleted
	return tx.UpdateCase(ctx, c, expected)
}

// certificateCanComplete accepts a case in CONCLUSION, or one already COMPLETED.
func certificateCanComplete(c *models.Case) error {
	switch c.Status {
	case models.CaseStatusConclusion, models.CaseStatusCompleted:
		return nil
	}
	return models.NewInvalidTransition("a certificate cannot complete a %s case", c.Status)
}
