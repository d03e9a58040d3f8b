package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testOrg = "12345678901234"

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	ctx     context.Context
	store   *models.MemoryStore
	tracker *PhaseTracker
	docs    *DocumentManager
	engine  *AutomationEngine
	clock   *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &testClock{now: testNow}
	store := models.NewMemoryStore()
	store.SetClock(clock.Now)
	logger := quietLogger()
	tracker := NewPhaseTracker(store, NewLocalCaseLocker(), logger).WithClock(clock.Now)
	docs := NewDocumentManager(store, tracker, logger).WithClock(clock.Now)
	engine := NewAutomationEngine(store, &recordingNotifier{}, config.DefaultAutomationPolicy(), logger).WithClock(clock.Now)
	return &testEnv{
		ctx:     context.Background(),
		store:   store,
		tracker: tracker,
		docs:    docs,
		engine:  engine,
		clock:   clock,
	}
}

func (e *testEnv) openCase(t *testing.T) *models.Case {
	t.Helper()
	c, err := e.tracker.OpenCase(e.ctx, models.NewCase{
		OrganizationId:  testOrg,
		BeneficiaryId:   "ben-1",
		BeneficiaryName: "Camille Martin",
		ConsultantId:    "cons-1",
		FinancerType:    models.FinancerTypeCPF,
		StartDate:       testNow.AddDate(0, 0, -10),
		Objectives:      []string{"Clarify a career change", "Identify transferable skills"},
	})
	require.NoError(t, err)
	return c
}

// signConvention creates a convention and collects all three signatures.
func (e *testEnv) signConvention(t *testing.T, caseID string) *models.ComplianceDocument {
	t.Helper()
	doc, err := e.docs.CreateDocument(e.ctx, models.NewComplianceDocument{
		CaseId:  caseID,
		Kind:    models.DocumentKindConvention,
		Payload: conventionJSON(),
	})
	require.NoError(t, err)
	_, err = e.docs.ValidateDocument(e.ctx, doc.ID)
	require.NoError(t, err)
	for _, p := range []models.Party{models.PartyBeneficiary, models.PartyConsultant, models.PartyOrganization} {
		doc, err = e.docs.SignDocument(e.ctx, doc.ID, p)
		require.NoError(t, err)
	}
	require.Equal(t, models.DocumentStatusSigned, doc.Status)
	return doc
}

// driveTo moves a fresh case forward until it reaches target.
func (e *testEnv) driveTo(t *testing.T, caseID string, target models.CaseStatus) {
	t.Helper()
	_, err := e.tracker.ValidateObjectives(e.ctx, caseID, nil)
	require.NoError(t, err)
	for _, next := range []models.CaseStatus{
		models.CaseStatusPreliminary, models.CaseStatusInvestigation, models.CaseStatusConclusion,
	} {
		if next == models.CaseStatusInvestigation {
			e.signConvention(t, caseID)
		}
		_, err := e.tracker.Advance(e.ctx, caseID, next)
		require.NoError(t, err)
		if next == target {
			return
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func conventionJSON() json.RawMessage {
	return mustJSON(map[string]any{
		"parties": []map[string]any{
			{"role": "BENEFICIARY", "name": "Camille Martin", "email": "camille@example.org", "phone": "06 12 34 56 78"},
			{"role": "CONSULTANT", "name": "Jean Dupont"},
			{"role": "ORGANIZATION", "name": "Bilan Conseil"},
		},
		"objectives": []string{"Clarify a career change"},
		"period": map[string]any{
			"start_date":  "2026-02-20T00:00:00Z",
			"end_date":    "2026-05-20T00:00:00Z",
			"total_hours": 24,
		},
		"financer_type":  "CPF",
		"price":          "1800.00",
		"legal_mentions": []string{"Code du travail L6313-4"},
	})
}

func attendanceJSON() json.RawMessage {
	return mustJSON(map[string]any{
		"session_date":     "2026-03-02T09:00:00Z",
		"duration_minutes": 120,
		"topic":            "Interests inventory",
		"location":         "Paris",
	})
}

func synthesisJSON() json.RawMessage {
	return mustJSON(map[string]any{
		"narrative":            "Camille has strong facilitation skills and a clear interest in training roles.",
		"strengths":            []string{"Facilitation"},
		"professional_project": "Corporate trainer",
	})
}

func attestationJSON() json.RawMessage {
	return mustJSON(map[string]any{
		"beneficiary_name": "Camille Martin",
		"start_date":       "2026-02-20T00:00:00Z",
		"end_date":         "2026-03-02T00:00:00Z",
		"hours_completed":  "24",
		"issuer_name":      "Bilan Conseil",
	})
}

func certificateJSON() json.RawMessage {
	return mustJSON(map[string]any{
		"beneficiary_name": "Camille Martin",
		"financer_type":    "CPF",
		"realization_rate": 100,
		"hours_completed":  "24",
		"issuer_name":      "Bilan Conseil",
		"legal_references": map[string]any{
			"labor_code_article":            "L6313-4",
			"qualiopi_certification_number": "QUA-2024-001",
			"activity_declaration_number":   "11755555575",
		},
	})
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []AutomationAction
	failOn map[ActionKind]error
}

func (n *recordingNotifier) Notify(ctx context.Context, a AutomationAction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failOn[a.Kind]; err != nil {
		return err
	}
	n.sent = append(n.sent, a)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type memoryArchiver struct {
	mu    sync.Mutex
	blobs map[string][]byte
	err   error
}

func (a *memoryArchiver) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	if a.blobs == nil {
		a.blobs = map[string][]byte{}
	}
	a.blobs[name] = data
	return "gs://test-bucket/" + name, nil
}

type stubTextGenerator struct {
	text   string
	err    error
	prompt string
}

func (g *stubTextGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.text, g.err
}

var errUnavailable = errors.New("service unavailable")
