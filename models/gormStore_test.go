package models

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormStore(db), mock
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, isDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.True(t, isDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.False(t, isDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1213}))
	assert.False(t, isDuplicateKeyErr(errors.New("boom")))
}

func TestGormStore_GetCaseNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM `cases` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetCase(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetCaseDriverFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM `cases` WHERE id = \\?").WillReturnError(sql.ErrConnDone)

	_, err := store.GetCase(context.Background(), "case-1")
	require.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestGormStore_UpdateCaseCompareAndSwap(t *testing.T) {
	ctx := context.Background()

	t.Run("applied", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("UPDATE `cases` SET .* WHERE id = \\? AND version = \\?").
			WillReturnResult(sqlmock.NewResult(0, 1))

		c := &Case{ID: "case-1", Status: CaseStatusPreliminary, Version: 3}
		require.NoError(t, store.UpdateCase(ctx, c, 3))
		assert.Equal(t, 4, c.Version)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("UPDATE `cases` SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `cases` WHERE id = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		c := &Case{ID: "case-1", Status: CaseStatusInvestigation, Version: 3}
		err := store.UpdateCase(ctx, c, 3)
		require.ErrorIs(t, err, ErrConcurrentModification)
		assert.Equal(t, 3, c.Version)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("UPDATE `cases` SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `cases`").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		err := store.UpdateCase(ctx, &Case{ID: "gone"}, 1)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGormStore_CreateDocumentDuplicateNumber(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `compliance_documents`").
		WillReturnError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry for key 'document_number'"})
	mock.ExpectRollback()

	doc := &ComplianceDocument{
		CaseId:         "case-1",
		Kind:           DocumentKindSynthesis,
		Status:         DocumentStatusDraft,
		DocumentNumber: "SYNTH-12345678901234-2026-0001",
		Payload:        &SynthesisPayload{Narrative: "A narrative that is long enough."},
	}
	err := store.CreateDocument(context.Background(), doc)
	require.ErrorIs(t, err, ErrDuplicateDocumentNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_CreateDocumentOncePerCase(t *testing.T) {
	newCertificate := func() *ComplianceDocument {
		return &ComplianceDocument{
			CaseId:         "case-1",
			Kind:           DocumentKindCertificate,
			Status:         DocumentStatusValid,
			DocumentNumber: "CERT-12345678901234-2026-0002",
			Payload:        &CertificatePayload{BeneficiaryName: "Camille Martin"},
		}
	}

	t.Run("case already has one", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO `compliance_documents`").
			WillReturnError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry for key 'singleton_key'"})
		mock.ExpectRollback()
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `compliance_documents` WHERE singleton_key = \\?").
			WithArgs("case-1|CERTIFICATE").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		doc := newCertificate()
		err := store.CreateDocument(context.Background(), doc)
		require.ErrorIs(t, err, ErrDuplicateCaseDocument)
		require.NotNil(t, doc.SingletonKey)
		assert.Equal(t, "case-1|CERTIFICATE", *doc.SingletonKey)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("number collision", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO `compliance_documents`").
			WillReturnError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry for key 'document_number'"})
		mock.ExpectRollback()
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `compliance_documents` WHERE singleton_key = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		err := store.CreateDocument(context.Background(), newCertificate())
		require.ErrorIs(t, err, ErrDuplicateDocumentNumber)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormStore_BeginIdempotency(t *testing.T) {
	ctx := context.Background()

	t.Run("first attempt", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO `idempotency_keys`").WillReturnResult(sqlmock.NewResult(1, 1))

		skip, err := store.BeginIdempotency(ctx, "case-1", "automation", "case-1|TASK|t")
		require.NoError(t, err)
		assert.False(t, skip)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already succeeded", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO `idempotency_keys`").
			WillReturnError(&mysqlDriver.MySQLError{Number: 1062})
		mock.ExpectQuery("SELECT \\* FROM `idempotency_keys` WHERE case_id = \\? AND handler_name = \\? AND action_key = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"id", "case_id", "handler_name", "action_key", "status"}).
				AddRow(7, "case-1", "automation", "case-1|TASK|t", "SUCCEEDED"))

		skip, err := store.BeginIdempotency(ctx, "case-1", "automation", "case-1|TASK|t")
		require.NoError(t, err)
		assert.True(t, skip)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed earlier is restarted", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO `idempotency_keys`").
			WillReturnError(&mysqlDriver.MySQLError{Number: 1062})
		mock.ExpectQuery("SELECT \\* FROM `idempotency_keys`").
			WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(7, "FAILED"))
		mock.ExpectExec("UPDATE `idempotency_keys` SET").WillReturnResult(sqlmock.NewResult(0, 1))

		skip, err := store.BeginIdempotency(ctx, "case-1", "automation", "case-1|TASK|t")
		require.NoError(t, err)
		assert.False(t, skip)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
