package models

import (
	"context"
	"errors"
	"time"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

type CaseFilter struct {
	OrganizationId string
	Statuses       []CaseStatus
	StartedFrom    *time.Time
	StartedTo      *time.Time
}

// Store is the transactional persistence boundary. Every method is atomic on its own;
// WithinTransaction groups several calls into one unit.
//
// Update methods are compare-and-swap on Version: they fail with ConcurrentModification when the
// stored version differs from expectedVersion, and bump Version on the passed value on success.
type Store interface {
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id string) (*Case, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]*Case, error)
	UpdateCase(ctx context.Context, c *Case, expectedVersion int) error

	// CreateDocument returns ErrDuplicateDocumentNumber when the number is taken.
	CreateDocument(ctx context.Context, d *ComplianceDocument) error
	GetDocument(ctx context.Context, id string) (*ComplianceDocument, error)
	ListDocuments(ctx context.Context, caseID string) ([]*ComplianceDocument, error)
	// UpdateDocument also appends the new version to the document history.
	UpdateDocument(ctx context.Context, d *ComplianceDocument, expectedVersion int) error
	ListDocumentVersions(ctx context.Context, documentID string) ([]*DocumentVersion, error)

	ListTests(ctx context.Context, caseID string) ([]*AssessmentTest, error)
	SaveTest(ctx context.Context, t *AssessmentTest) error
	// ListActivities returns newest first; limit <= 0 returns everything.
	ListActivities(ctx context.Context, caseID string, limit int) ([]*Activity, error)
	AppendActivity(ctx context.Context, a *Activity) error

	// BeginIdempotency returns skip=true when the key already SUCCEEDED.
	BeginIdempotency(ctx context.Context, caseID, handlerName, actionKey string) (skip bool, err error)
	MarkIdempotencySucceeded(ctx context.Context, caseID, handlerName, actionKey string) error
	MarkIdempotencyFailed(ctx context.Context, caseID, handlerName, actionKey string, cause error) error

	WithinTransaction(ctx context.Context, fn func(tx Store) error) error
}
