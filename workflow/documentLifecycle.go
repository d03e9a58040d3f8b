package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/mmdatafocus/bilan_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DocumentManager creates, signs and finalizes compliance documents.
type DocumentManager struct {
	store    models.Store
	tracker  *PhaseTracker
	archiver Archiver
	textGen  TextGenerator
	logger   *logrus.Logger
	now      func() time.Time
	suffix   func() int
}

func NewDocumentManager(store models.Store, tracker *PhaseTracker, logger *logrus.Logger) *DocumentManager {
	return &DocumentManager{
		store:   store,
		tracker: tracker,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		suffix:  randomSuffix(),
	}
}

func (m *DocumentManager) WithArchiver(a Archiver) *DocumentManager {
	m.archiver = a
	return m
}

func (m *DocumentManager) WithTextGenerator(g TextGenerator) *DocumentManager {
	m.textGen = g
	return m
}

func (m *DocumentManager) WithClock(now func() time.Time) *DocumentManager {
	m.now = now
	return m
}

// WithNumberSuffix replaces the random suffix source of document numbers.
func (m *DocumentManager) WithNumberSuffix(suffix func() int) *DocumentManager {
	m.suffix = suffix
	return m
}

// SignatureInput is one attendance marker.
type SignatureInput struct {
	Party       models.Party          `json:"party" binding:"required"`
	Event       models.SignatureEvent `json:"event" binding:"required"`
	ImageBase64 string                `json:"image_base64"`
}

type IntegrityReport struct {
	DocumentId     string `json:"document_id"`
	DocumentNumber string `json:"document_number"`
	StoredHash     string `json:"stored_hash"`
	ComputedHash   string `json:"computed_hash"`
	Valid          bool   `json:"valid"`
}

// CreateDocument validates the payload, assigns a unique number and stores the document.
// Nothing is persisted when any step fails.
func (m *DocumentManager) CreateDocument(ctx context.Context, input models.NewComplianceDocument) (doc *models.ComplianceDocument, err error) {
	ctx, span := tracer.Start(ctx, "DocumentManager.CreateDocument", trace.WithAttributes(
		attribute.String("case.id", input.CaseId),
		attribute.String("document.kind", string(input.Kind)),
	))
	defer func() { endSpan(span, err) }()

	if !input.Kind.IsValid() {
		return nil, models.NewValidationError("unknown document kind "+string(input.Kind), map[string]string{"Kind": "oneof"})
	}
	payload, err := models.DecodePayload(input.Kind, input.Payload)
	if err != nil {
		return nil, err
	}
	sessionID := utils.NilIfEmpty(strings.TrimSpace(utils.DereferencePtr(input.SessionId)))
	return m.create(ctx, input.CaseId, input.Kind, sessionID, payload)
}

func (m *DocumentManager) create(ctx context.Context, caseID string, kind models.DocumentKind, sessionID *string, payload models.DocumentPayload) (*models.ComplianceDocument, error) {
	if err := models.ValidatePayload(payload); err != nil {
		return nil, err
	}

	// The case lock covers the uniqueness checks and the insert; the store's once-per-case index
	// still holds when the lock is unavailable.
	unlock, err := m.tracker.locker.Lock(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := m.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := m.checkCaseAccepts(ctx, c, kind, sessionID); err != nil {
		return nil, err
	}

	now := m.now()
	doc := &models.ComplianceDocument{
		CaseId:  c.ID,
		Kind:    kind,
		Status:  models.DocumentStatusDraft,
		Payload: payload,
	}
	switch kind {
	case models.DocumentKindAttendanceSheet:
		sid := strings.TrimSpace(*sessionID)
		doc.SessionId = &sid
		// Markers are only ever set through RecordSignature.
		payload.(*models.AttendanceSheetPayload).Signatures = models.SignatureRecord{}
	case models.DocumentKindAttestation:
		doc.Status = models.DocumentStatusValid
	case models.DocumentKindCertificate:
		doc.Status = models.DocumentStatusValid
		issuedAt := now.Truncate(time.Second)
		doc.IssuedAt = &issuedAt
	}

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		doc.ID = ""
		doc.Version = 0
		doc.DocumentNumber = DocumentNumber(kind, c.OrganizationId, now.Year(), m.suffix())
		if kind == models.DocumentKindCertificate {
			doc.IntegrityHash = CertificateIntegrityHash(doc.DocumentNumber, c.ID, c.BeneficiaryId, *doc.IssuedAt)
		}
		err := m.store.CreateDocument(ctx, doc)
		if err == nil {
			return doc, nil
		}
		if errors.Is(err, models.ErrDuplicateCaseDocument) {
			return nil, models.NewInvalidTransition("case %s already has a %s", c.ID, kind)
		}
		if !errors.Is(err, models.ErrDuplicateDocumentNumber) {
			config.LogError(m.logger, "workflow", "CreateDocument", "storing document", doc.DocumentNumber, err)
			return nil, models.AsDomainError(err, "create document")
		}
		config.LogWarn(m.logger, "workflow", "CreateDocument", "document number collision", doc.DocumentNumber,
			fmt.Sprintf("attempt %d of %d", attempt, maxNumberAttempts))
	}
	return nil, models.NewNumberingExhausted("no free %s number after %d attempts", kind, maxNumberAttempts)
}

func (m *DocumentManager) checkCaseAccepts(ctx context.Context, c *models.Case, kind models.DocumentKind, sessionID *string) error {
	switch c.Status {
	case models.CaseStatusAbandoned:
		return models.NewInvalidTransition("case %s is abandoned", c.ID)
	case models.CaseStatusCompleted:
		if kind != models.DocumentKindAttestation && kind != models.DocumentKindCertificate {
			return models.NewInvalidTransition("case %s is completed; only closing documents can be issued", c.ID)
		}
	}
	if kind == models.DocumentKindAttestation || kind == models.DocumentKindCertificate {
		if c.Status != models.CaseStatusConclusion && c.Status != models.CaseStatusCompleted {
			return models.NewPreconditionNotMet(fmt.Sprintf("%s requires a case in its conclusion phase", kind),
				map[string]string{"status": string(c.Status)})
		}
	}
	if kind == models.DocumentKindAttendanceSheet && (sessionID == nil || strings.TrimSpace(*sessionID) == "") {
		return models.NewValidationError("attendance sheets require a session", map[string]string{"SessionId": "required"})
	}

	existing, err := m.store.ListDocuments(ctx, c.ID)
	if err != nil {
		return models.AsDomainError(err, "list documents")
	}
	for _, d := range existing {
		if d.Kind != kind {
			continue
		}
		if kind.OncePerCase() {
			return models.NewInvalidTransition("case %s already has a %s (%s)", c.ID, kind, d.DocumentNumber)
		}
		if kind == models.DocumentKindAttendanceSheet && d.SessionId != nil && *d.SessionId == strings.TrimSpace(*sessionID) {
			return models.NewInvalidTransition("session %s already has an attendance sheet (%s)", *sessionID, d.DocumentNumber)
		}
	}
	return nil
}

func (m *DocumentManager) GetDocument(ctx context.Context, documentID string) (*models.ComplianceDocument, error) {
	return m.store.GetDocument(ctx, documentID)
}

func (m *DocumentManager) ListDocuments(ctx context.Context, caseID string) ([]*models.ComplianceDocument, error) {
	if _, err := m.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return m.store.ListDocuments(ctx, caseID)
}

func (m *DocumentManager) ListVersions(ctx context.Context, documentID string) ([]*models.DocumentVersion, error) {
	return m.store.ListDocumentVersions(ctx, documentID)
}

// RecordSignature sets one attendance marker. The sheet becomes VALID once all four are set.
func (m *DocumentManager) RecordSignature(ctx context.Context, documentID string, input SignatureInput) (doc *models.ComplianceDocument, err error) {
	ctx, span := tracer.Start(ctx, "DocumentManager.RecordSignature", trace.WithAttributes(
		attribute.String("document.id", documentID),
		attribute.String("signature.party", string(input.Party)),
		attribute.String("signature.event", string(input.Event)),
	))
	defer func() { endSpan(span, err) }()

	doc, err = m.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Kind != models.DocumentKindAttendanceSheet {
		return nil, models.NewInvalidTransition("%s documents do not take session signatures", doc.Kind)
	}
	fields := map[string]string{}
	if input.Party != models.PartyBeneficiary && input.Party != models.PartyConsultant {
		fields["Party"] = "oneof"
	}
	if !input.Event.IsValid() {
		fields["Event"] = "oneof"
	}
	if len(fields) > 0 {
		return nil, models.NewValidationError("invalid signature", fields)
	}
	if doc.Status != models.DocumentStatusDraft {
		return nil, models.NewAlreadyValidated("attendance sheet %s is %s", doc.DocumentNumber, doc.Status)
	}
	sheet, ok := doc.Payload.(*models.AttendanceSheetPayload)
	if !ok {
		return nil, models.NewPersistenceError("attendance sheet payload is missing", nil)
	}
	slot := sheet.Signatures.Slot(input.Party, input.Event)
	if slot.Signed() {
		return nil, models.NewAlreadyValidated("%s %s is already signed on %s", input.Party, input.Event, doc.DocumentNumber)
	}

	now := m.now()
	imageURL, err := m.storeSignatureImage(ctx, doc, input, now)
	if err != nil {
		return nil, err
	}
	marker := fmt.Sprintf("Signed electronically by %s on %s", strings.ToLower(string(input.Party)), now.Format(time.RFC3339))
	slot.Marker = &marker
	slot.SignedAt = &now
	slot.ImageUrl = imageURL
	if sheet.Signatures.Complete() {
		doc.Status = models.DocumentStatusValid
	}

	if err := m.store.UpdateDocument(ctx, doc, doc.Version); err != nil {
		return nil, models.AsDomainError(err, "update document")
	}
	return doc, nil
}

func (m *DocumentManager) storeSignatureImage(ctx context.Context, doc *models.ComplianceDocument, input SignatureInput, now time.Time) (string, error) {
	if strings.TrimSpace(input.ImageBase64) == "" {
		return "", nil
	}
	png, err := utils.NormalizeSignatureImage(input.ImageBase64)
	if err != nil {
		return "", models.NewValidationError(err.Error(), map[string]string{"ImageBase64": "image"})
	}
	if m.archiver == nil {
		config.LogWarn(m.logger, "workflow", "RecordSignature", "no archiver configured; signature image dropped", doc.ID, "")
		return "", nil
	}
	name := fmt.Sprintf("cases/%s/signatures/%s-%s-%s-%d.png",
		doc.CaseId, doc.DocumentNumber, strings.ToLower(string(input.Party)), strings.ToLower(string(input.Event)), now.Unix())
	url, err := m.archiver.Put(ctx, name, png, "image/png")
	if err != nil {
		config.LogError(m.logger, "workflow", "RecordSignature", "uploading signature image", name, err)
		return "", models.NewExternalServiceError("signature image upload failed", err)
	}
	return url, nil
}

// ValidateDocument moves a convention or synthesis from DRAFT to VALID.
func (m *DocumentManager) ValidateDocument(ctx context.Context, documentID string) (doc *models.ComplianceDocument, err error) {
	ctx, span := tracer.Start(ctx, "DocumentManager.ValidateDocument", trace.WithAttributes(attribute.String("document.id", documentID)))
	defer func() { endSpan(span, err) }()

	doc, err = m.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(doc.Kind.RequiredSigners()) == 0 {
		return nil, models.NewInvalidTransition("%s documents are not validated manually", doc.Kind)
	}
	if doc.Status != models.DocumentStatusDraft {
		return nil, models.NewAlreadyValidated("%s is already %s", doc.DocumentNumber, doc.Status)
	}
	if err := models.ValidatePayload(doc.Payload); err != nil {
		return nil, err
	}
	doc.Status = models.DocumentStatusValid
	if err := m.store.UpdateDocument(ctx, doc, doc.Version); err != nil {
		return nil, models.AsDomainError(err, "update document")
	}
	return doc, nil
}

// SignDocument records a party signature on a convention or synthesis. The document becomes
// SIGNED once every required party has signed.
func (m *DocumentManager) SignDocument(ctx context.Context, documentID string, party models.Party) (doc *models.ComplianceDocument, err error) {
	ctx, span := tracer.Start(ctx, "DocumentManager.SignDocument", trace.WithAttributes(
		attribute.String("document.id", documentID),
		attribute.String("signature.party", string(party)),
	))
	defer func() { endSpan(span, err) }()

	doc, err = m.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	required := doc.Kind.RequiredSigners()
	if len(required) == 0 {
		return nil, models.NewInvalidTransition("%s documents are not signed by parties", doc.Kind)
	}
	if !party.IsValid() {
		return nil, models.NewValidationError("invalid party", map[string]string{"Party": "oneof"})
	}
	switch doc.Status {
	case models.DocumentStatusDraft:
		return nil, models.NewInvalidTransition("%s must be validated before signing", doc.DocumentNumber)
	case models.DocumentStatusSigned, models.DocumentStatusFinalized:
		return nil, models.NewAlreadyValidated("%s is already %s", doc.DocumentNumber, doc.Status)
	}
	if _, signed := doc.Signatures[party]; signed {
		return nil, models.NewAlreadyValidated("%s already signed %s", party, doc.DocumentNumber)
	}

	if doc.Signatures == nil {
		doc.Signatures = models.PartySignatures{}
	}
	doc.Signatures[party] = m.now()
	if len(doc.Signatures.Missing(required)) == 0 {
		doc.Status = models.DocumentStatusSigned
	}
	if err := m.store.UpdateDocument(ctx, doc, doc.Version); err != nil {
		return nil, models.AsDomainError(err, "update document")
	}
	return doc, nil
}

// Finalize freezes a document. Finalizing a certificate also completes its case, in the same
// transaction.
func (m *DocumentManager) Finalize(ctx context.Context, documentID string) (doc *models.ComplianceDocument, err error) {
	ctx, span := tracer.Start(ctx, "DocumentManager.Finalize", trace.WithAttributes(attribute.String("document.id", documentID)))
	defer func() { endSpan(span, err) }()

	doc, err = m.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Kind == models.DocumentKindCertificate {
		unlock, err := m.tracker.locker.Lock(ctx, doc.CaseId)
		if err != nil {
			return nil, err
		}
		defer unlock()
		// Re-read under the case lock.
		if doc, err = m.store.GetDocument(ctx, documentID); err != nil {
			return nil, err
		}
		// Checked before archiving so a refused finalize leaves no snapshot behind.
		c, err := m.store.GetCase(ctx, doc.CaseId)
		if err != nil {
			return nil, err
		}
		if err := certificateCanComplete(c); err != nil {
			return nil, err
		}
	}

	if doc.Status == models.DocumentStatusFinalized {
		return nil, models.NewAlreadyCompleted("%s is already finalized", doc.DocumentNumber)
	}
	want := models.DocumentStatusValid
	if len(doc.Kind.RequiredSigners()) > 0 {
		want = models.DocumentStatusSigned
	}
	if doc.Status != want {
		return nil, models.NewInvalidTransition("%s must be %s to be finalized, it is %s", doc.DocumentNumber, want, doc.Status)
	}

	expected := doc.Version
	now := m.now()
	doc.Status = models.DocumentStatusFinalized
	doc.FinalizedAt = &now
	if err := m.archive(ctx, doc); err != nil {
		return nil, err
	}

	if doc.Kind != models.DocumentKindCertificate {
		if err := m.store.UpdateDocument(ctx, doc, expected); err != nil {
			return nil, models.AsDomainError(err, "update document")
		}
		return doc, nil
	}

	err = m.store.WithinTransaction(ctx, func(tx models.Store) error {
		if err := tx.UpdateDocument(ctx, doc, expected); err != nil {
			return err
		}
		return m.tracker.completeFromCertificate(ctx, tx, doc.CaseId)
	})
	if err != nil {
		doc.Version = expected
		if models.KindOf(err) == models.ErrKindPersistence {
			config.LogError(m.logger, "workflow", "Finalize", "finalizing certificate", doc.DocumentNumber, err)
		}
		return nil, models.AsDomainError(err, "finalize certificate")
	}
	return doc, nil
}

// archive uploads the finalized snapshot when an archiver is configured.
func (m *DocumentManager) archive(ctx context.Context, doc *models.ComplianceDocument) error {
	if m.archiver == nil {
		return nil
	}
	snap, err := json.Marshal(doc)
	if err != nil {
		return models.NewPersistenceError("encode snapshot", err)
	}
	name := fmt.Sprintf("cases/%s/documents/%s.json", doc.CaseId, doc.DocumentNumber)
	url, err := m.archiver.Put(ctx, name, snap, "application/json")
	if err != nil {
		config.LogError(m.logger, "workflow", "Finalize", "archiving snapshot", name, err)
		return models.NewExternalServiceError("document archive upload failed", err)
	}
	doc.ArchiveUrl = url
	return nil
}

// VerifyIntegrity recomputes a certificate's checksum and compares it with the stored one.
func (m *DocumentManager) VerifyIntegrity(ctx context.Context, documentID string) (*IntegrityReport, error) {
	doc, err := m.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Kind != models.DocumentKindCertificate || doc.IssuedAt == nil {
		return nil, models.NewValidationError("only certificates carry an integrity marker", map[string]string{"Kind": "eq=CERTIFICATE"})
	}
	c, err := m.store.GetCase(ctx, doc.CaseId)
	if err != nil {
		return nil, err
	}
	computed := CertificateIntegrityHash(doc.DocumentNumber, c.ID, c.BeneficiaryId, *doc.IssuedAt)
	return &IntegrityReport{
		DocumentId:     doc.ID,
		DocumentNumber: doc.DocumentNumber,
		StoredHash:     doc.IntegrityHash,
		ComputedHash:   computed,
		Valid:          computed == doc.IntegrityHash,
	}, nil
}
