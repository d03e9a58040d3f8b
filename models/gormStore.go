package models

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// GormStore persists cases and documents in MySQL through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func notFoundOr(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFound("%s %s", what, id)
	}
	return NewPersistenceError("load "+what, err)
}

func (s *GormStore) CreateCase(ctx context.Context, c *Case) error {
	if c.Version == 0 {
		c.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return NewPersistenceError("create case", err)
	}
	return nil
}

func (s *GormStore) GetCase(ctx context.Context, id string) (*Case, error) {
	var c Case
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFoundOr(err, "case", id)
	}
	return &c, nil
}

func (s *GormStore) ListCases(ctx context.Context, filter CaseFilter) ([]*Case, error) {
	dbCtx := s.db.WithContext(ctx).Model(&Case{})
	if filter.OrganizationId != "" {
		dbCtx = dbCtx.Where("organization_id = ?", filter.OrganizationId)
	}
	if len(filter.Statuses) > 0 {
		dbCtx = dbCtx.Where("status IN ?", filter.Statuses)
	}
	if filter.StartedFrom != nil {
		dbCtx = dbCtx.Where("start_date >= ?", *filter.StartedFrom)
	}
	if filter.StartedTo != nil {
		dbCtx = dbCtx.Where("start_date <= ?", *filter.StartedTo)
	}
	var out []*Case
	if err := dbCtx.Order("created_at, id").Find(&out).Error; err != nil {
		return nil, NewPersistenceError("list cases", err)
	}
	return out, nil
}

func (s *GormStore) UpdateCase(ctx context.Context, c *Case, expectedVersion int) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&Case{}).
		Where("id = ? AND version = ?", c.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":                     c.Status,
			"end_date":                   c.EndDate,
			"preliminary_completed_at":   c.PreliminaryCompletedAt,
			"investigation_completed_at": c.InvestigationCompletedAt,
			"conclusion_completed_at":    c.ConclusionCompletedAt,
			"objectives":                 c.Objectives,
			"objectives_validated":       c.ObjectivesValidated,
			"objectives_validated_at":    c.ObjectivesValidatedAt,
			"abandon_reason":             c.AbandonReason,
			"abandoned_at":               c.AbandonedAt,
			"version":                    expectedVersion + 1,
			"updated_at":                 now,
		})
	if res.Error != nil {
		return NewPersistenceError("update case", res.Error)
	}
	if res.RowsAffected == 0 {
		return versionConflict(s.db.WithContext(ctx), &Case{}, "case", c.ID, expectedVersion)
	}
	c.Version = expectedVersion + 1
	c.UpdatedAt = now
	return nil
}

// versionConflict tells a missing row apart from a lost compare-and-swap.
func versionConflict(db *gorm.DB, model interface{}, what, id string, expectedVersion int) error {
	var count int64
	if err := db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return NewPersistenceError("check "+what, err)
	}
	if count == 0 {
		return NewNotFound("%s %s", what, id)
	}
	return NewConcurrentModification("%s %s changed since version %d", what, id, expectedVersion)
}

func (s *GormStore) CreateDocument(ctx context.Context, d *ComplianceDocument) error {
	if d.Version == 0 {
		d.Version = 1
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		return appendDocumentVersion(tx, d)
	})
	if err == nil {
		return nil
	}
	if isDuplicateKeyErr(err) {
		if key := d.CaseSingletonKey(); key != nil {
			var count int64
			if cerr := s.db.WithContext(ctx).Model(&ComplianceDocument{}).Where("singleton_key = ?", *key).Count(&count).Error; cerr != nil {
				return NewPersistenceError("check case document", cerr)
			}
			if count > 0 {
				return ErrDuplicateCaseDocument
			}
		}
		return ErrDuplicateDocumentNumber
	}
	return AsDomainError(err, "create document")
}

func appendDocumentVersion(tx *gorm.DB, d *ComplianceDocument) error {
	snap, err := d.Snapshot()
	if err != nil {
		return NewPersistenceError("snapshot document", err)
	}
	return tx.Create(&DocumentVersion{
		DocumentId: d.ID,
		Version:    d.Version,
		Status:     d.Status,
		Snapshot:   snap,
	}).Error
}

func (s *GormStore) GetDocument(ctx context.Context, id string) (*ComplianceDocument, error) {
	var d ComplianceDocument
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFoundOr(err, "document", id)
	}
	return &d, nil
}

func (s *GormStore) ListDocuments(ctx context.Context, caseID string) ([]*ComplianceDocument, error) {
	var out []*ComplianceDocument
	if err := s.db.WithContext(ctx).Where("case_id = ?", caseID).Order("created_at, document_number").Find(&out).Error; err != nil {
		return nil, NewPersistenceError("list documents", err)
	}
	return out, nil
}

func (s *GormStore) UpdateDocument(ctx context.Context, d *ComplianceDocument, expectedVersion int) error {
	if err := d.EncodeColumns(); err != nil {
		return NewPersistenceError("encode document", err)
	}
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Session(&gorm.Session{SkipHooks: true}).Model(&ComplianceDocument{}).
			Where("id = ? AND version = ?", d.ID, expectedVersion).
			Updates(map[string]interface{}{
				"status":         d.Status,
				"payload":        d.PayloadJSON,
				"signatures":     d.SignaturesJSON,
				"integrity_hash": d.IntegrityHash,
				"issued_at":      d.IssuedAt,
				"finalized_at":   d.FinalizedAt,
				"archive_url":    d.ArchiveUrl,
				"version":        expectedVersion + 1,
				"updated_at":     now,
			})
		if res.Error != nil {
			return NewPersistenceError("update document", res.Error)
		}
		if res.RowsAffected == 0 {
			return versionConflict(tx, &ComplianceDocument{}, "document", d.ID, expectedVersion)
		}
		d.Version = expectedVersion + 1
		d.UpdatedAt = now
		return appendDocumentVersion(tx, d)
	})
	if err != nil {
		d.Version = expectedVersion
		return AsDomainError(err, "update document")
	}
	return nil
}

func (s *GormStore) ListDocumentVersions(ctx context.Context, documentID string) ([]*DocumentVersion, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	var out []*DocumentVersion
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order("version").Find(&out).Error; err != nil {
		return nil, NewPersistenceError("list document versions", err)
	}
	return out, nil
}

func (s *GormStore) ListTests(ctx context.Context, caseID string) ([]*AssessmentTest, error) {
	var out []*AssessmentTest
	if err := s.db.WithContext(ctx).Where("case_id = ?", caseID).Order("id").Find(&out).Error; err != nil {
		return nil, NewPersistenceError("list tests", err)
	}
	return out, nil
}

func (s *GormStore) SaveTest(ctx context.Context, t *AssessmentTest) error {
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return NewPersistenceError("save test", err)
	}
	return nil
}

func (s *GormStore) ListActivities(ctx context.Context, caseID string, limit int) ([]*Activity, error) {
	q := s.db.WithContext(ctx).Where("case_id = ?", caseID).Order("occurred_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*Activity
	if err := q.Find(&out).Error; err != nil {
		return nil, NewPersistenceError("list activities", err)
	}
	return out, nil
}

func (s *GormStore) AppendActivity(ctx context.Context, a *Activity) error {
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return NewPersistenceError("append activity", err)
	}
	return nil
}

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func (s *GormStore) BeginIdempotency(ctx context.Context, caseID, handlerName, actionKey string) (bool, error) {
	tx := s.db.WithContext(ctx)
	key := IdempotencyKey{
		CaseId:      caseID,
		HandlerName: handlerName,
		ActionKey:   actionKey,
		Status:      IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, NewPersistenceError("begin idempotency", err)
	}

	var existing IdempotencyKey
	if err := tx.Where("case_id = ? AND handler_name = ? AND action_key = ?", caseID, handlerName, actionKey).
		First(&existing).Error; err != nil {
		return false, NewPersistenceError("load idempotency key", err)
	}

	switch existing.Status {
	case IdempotencyStatusSucceeded:
		return true, nil
	case IdempotencyStatusStarted:
		// Another executor owns it unless it went stale.
		if time.Since(existing.UpdatedAt) < IdempotencyStaleAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	if err := tx.Model(&IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": IdempotencyStatusStarted, "last_error": nil}).Error; err != nil {
		return false, NewPersistenceError("restart idempotency key", err)
	}
	return false, nil
}

func (s *GormStore) MarkIdempotencySucceeded(ctx context.Context, caseID, handlerName, actionKey string) error {
	err := s.db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("case_id = ? AND handler_name = ? AND action_key = ?", caseID, handlerName, actionKey).
		Updates(map[string]interface{}{"status": IdempotencyStatusSucceeded, "last_error": nil}).Error
	if err != nil {
		return NewPersistenceError("mark idempotency succeeded", err)
	}
	return nil
}

func (s *GormStore) MarkIdempotencyFailed(ctx context.Context, caseID, handlerName, actionKey string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := s.db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("case_id = ? AND handler_name = ? AND action_key = ?", caseID, handlerName, actionKey).
		Updates(map[string]interface{}{"status": IdempotencyStatusFailed, "last_error": &msg}).Error
	if err != nil {
		return NewPersistenceError("mark idempotency failed", err)
	}
	return nil
}

func (s *GormStore) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}
