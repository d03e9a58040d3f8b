package models_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newStore() *models.MemoryStore {
	s := models.NewMemoryStore()
	s.SetClock(func() time.Time { return fixedNow })
	return s
}

func seedCase(t *testing.T, s *models.MemoryStore) *models.Case {
	t.Helper()
	c := &models.Case{
		OrganizationId: "12345678901234",
		BeneficiaryId:  "ben-1",
		ConsultantId:   "cons-1",
		Status:         models.CaseStatusAwaiting,
		StartDate:      fixedNow,
	}
	require.NoError(t, s.CreateCase(context.Background(), c))
	return c
}

func TestMemoryStore_CaseCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	c := seedCase(t, s)
	require.Equal(t, 1, c.Version)

	a, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	b, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)

	a.Status = models.CaseStatusPreliminary
	require.NoError(t, s.UpdateCase(ctx, a, 1))
	assert.Equal(t, 2, a.Version)

	b.Status = models.CaseStatusAbandoned
	err = s.UpdateCase(ctx, b, 1)
	require.ErrorIs(t, err, models.ErrConcurrentModification)

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusPreliminary, got.Status)

	err = s.UpdateCase(ctx, &models.Case{ID: "missing"}, 1)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	c := seedCase(t, s)

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	got.Status = models.CaseStatusCompleted

	again, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusAwaiting, again.Status)
}

func TestMemoryStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	c := seedCase(t, s)
	boom := errors.New("boom")

	err := s.WithinTransaction(ctx, func(tx models.Store) error {
		got, err := tx.GetCase(ctx, c.ID)
		if err != nil {
			return err
		}
		got.Status = models.CaseStatusPreliminary
		if err := tx.UpdateCase(ctx, got, got.Version); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, &models.Activity{CaseId: c.ID, Kind: models.ActivityKindPhase, Description: "advanced"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusAwaiting, got.Status)
	assert.Equal(t, 1, got.Version)
	activities, err := s.ListActivities(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, activities)
}

func TestMemoryStore_DocumentNumbersAreUnique(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	c := seedCase(t, s)

	doc := func() *models.ComplianceDocument {
		return &models.ComplianceDocument{
			CaseId:         c.ID,
			Kind:           models.DocumentKindSynthesis,
			Status:         models.DocumentStatusDraft,
			DocumentNumber: "SYNTH-12345678901234-2026-0001",
			Payload:        &models.SynthesisPayload{Narrative: "A narrative that is long enough."},
		}
	}
	first := doc()
	require.NoError(t, s.CreateDocument(ctx, first))
	err := s.CreateDocument(ctx, doc())
	require.ErrorIs(t, err, models.ErrDuplicateDocumentNumber)

	docs, err := s.ListDocuments(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	synth, ok := docs[0].Payload.(*models.SynthesisPayload)
	require.True(t, ok)
	assert.Equal(t, "A narrative that is long enough.", synth.Narrative)
}

func TestMemoryStore_OncePerCaseKinds(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	c := seedCase(t, s)
	other := seedCase(t, s)

	cert := func(caseID, number string) *models.ComplianceDocument {
		return &models.ComplianceDocument{
			CaseId:         caseID,
			Kind:           models.DocumentKindCertificate,
			Status:         models.DocumentStatusValid,
			DocumentNumber: number,
			Payload:        &models.CertificatePayload{BeneficiaryName: "Camille Martin"},
		}
	}
	require.NoError(t, s.CreateDocument(ctx, cert(c.ID, "CERT-12345678901234-2026-0001")))
	err := s.CreateDocument(ctx, cert(c.ID, "CERT-12345678901234-2026-0002"))
	require.ErrorIs(t, err, models.ErrDuplicateCaseDocument)
	require.NoError(t, s.CreateDocument(ctx, cert(other.ID, "CERT-12345678901234-2026-0003")))

	for _, n := range []string{"EMARG-12345678901234-2026-0001", "EMARG-12345678901234-2026-0002"} {
		require.NoError(t, s.CreateDocument(ctx, &models.ComplianceDocument{
			CaseId:         c.ID,
			Kind:           models.DocumentKindAttendanceSheet,
			Status:         models.DocumentStatusDraft,
			DocumentNumber: n,
			Payload:        &models.AttendanceSheetPayload{Topic: "Interests inventory"},
		}))
	}
}

func TestMemoryStore_DocumentVersionHistory(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	c := seedCase(t, s)

	d := &models.ComplianceDocument{
		CaseId:         c.ID,
		Kind:           models.DocumentKindConvention,
		Status:         models.DocumentStatusDraft,
		DocumentNumber: "CONV-12345678901234-2026-0001",
		Payload:        &models.ConventionPayload{FinancerType: models.FinancerTypeCPF},
	}
	require.NoError(t, s.CreateDocument(ctx, d))
	d.Status = models.DocumentStatusValid
	require.NoError(t, s.UpdateDocument(ctx, d, 1))
	d.Signatures = models.PartySignatures{models.PartyBeneficiary: fixedNow}
	require.NoError(t, s.UpdateDocument(ctx, d, 2))

	err := s.UpdateDocument(ctx, d, 2)
	require.ErrorIs(t, err, models.ErrConcurrentModification)

	versions, err := s.ListDocumentVersions(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{versions[0].Version, versions[1].Version, versions[2].Version})
	assert.Equal(t, models.DocumentStatusValid, versions[2].Status)

	got, err := s.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Signatures, models.PartyBeneficiary)
}

func TestMemoryStore_ActivitiesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	c := seedCase(t, s)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendActivity(ctx, &models.Activity{
			CaseId:      c.ID,
			Kind:        models.ActivityKindSession,
			Description: "session",
			OccurredAt:  fixedNow.AddDate(0, 0, -i),
		}))
	}
	latest, err := s.ListActivities(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, fixedNow, latest[0].OccurredAt)
	assert.Equal(t, fixedNow.AddDate(0, 0, -1), latest[1].OccurredAt)

	key := "case|TASK|t"
	require.NoError(t, s.AppendActivity(ctx, &models.Activity{CaseId: c.ID, Kind: models.ActivityKindAutomation, Description: "x", ActionKey: &key}))
	err = s.AppendActivity(ctx, &models.Activity{CaseId: c.ID, Kind: models.ActivityKindAutomation, Description: "x", ActionKey: &key})
	require.ErrorIs(t, err, models.ErrPersistence)
}

func TestMemoryStore_Idempotency(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	skip, err := s.BeginIdempotency(ctx, "case-1", "automation", "k")
	require.NoError(t, err)
	assert.False(t, skip)

	_, err = s.BeginIdempotency(ctx, "case-1", "automation", "k")
	require.ErrorIs(t, err, models.ErrIdempotencyInProgress)

	require.NoError(t, s.MarkIdempotencyFailed(ctx, "case-1", "automation", "k", errors.New("down")))
	skip, err = s.BeginIdempotency(ctx, "case-1", "automation", "k")
	require.NoError(t, err)
	assert.False(t, skip)

	require.NoError(t, s.MarkIdempotencySucceeded(ctx, "case-1", "automation", "k"))
	skip, err = s.BeginIdempotency(ctx, "case-1", "automation", "k")
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestMemoryStore_StaleStartedKeyIsReclaimed(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	s := models.NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	_, err := s.BeginIdempotency(ctx, "case-1", "automation", "k")
	require.NoError(t, err)
	now = now.Add(models.IdempotencyStaleAfter + time.Second)
	skip, err := s.BeginIdempotency(ctx, "case-1", "automation", "k")
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestMemoryStore_ListCasesFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	open := seedCase(t, s)
	closed := seedCase(t, s)
	closed.Status = models.CaseStatusAbandoned
	require.NoError(t, s.UpdateCase(ctx, closed, closed.Version))

	got, err := s.ListCases(ctx, models.CaseFilter{Statuses: []models.CaseStatus{models.CaseStatusAwaiting}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, open.ID, got[0].ID)

	got, err = s.ListCases(ctx, models.CaseFilter{OrganizationId: "00000000000000"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
