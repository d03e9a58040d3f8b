package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorKind string

const (
	ErrKindNotFound               ErrorKind = "NOT_FOUND"
	ErrKindInvalidTransition      ErrorKind = "INVALID_TRANSITION"
	ErrKindPreconditionNotMet     ErrorKind = "PRECONDITION_NOT_MET"
	ErrKindValidation             ErrorKind = "VALIDATION_ERROR"
	ErrKindAlreadyValidated       ErrorKind = "ALREADY_VALIDATED"
	ErrKindAlreadyCompleted       ErrorKind = "ALREADY_COMPLETED"
	ErrKindConcurrentModification ErrorKind = "CONCURRENT_MODIFICATION"
	ErrKindNumberingExhausted     ErrorKind = "NUMBERING_EXHAUSTED"
	ErrKindPersistence            ErrorKind = "PERSISTENCE_ERROR"
	ErrKindExternalService        ErrorKind = "EXTERNAL_SERVICE_ERROR"
)

// DomainError is the only error type crossing component boundaries.
// errors.Is matches on Kind, so callers compare against the sentinels below.
type DomainError struct {
	Kind    ErrorKind
	Message string
	// Fields carries per-field validation tags, or the unmet requirements of a precondition.
	Fields map[string]string
	Err    error
}

func (e *DomainError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.Fields[k])
		}
		msg += " [" + strings.Join(parts, ", ") + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DomainError) Unwrap() error { return e.Err }

func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound               = &DomainError{Kind: ErrKindNotFound}
	ErrInvalidTransition      = &DomainError{Kind: ErrKindInvalidTransition}
	ErrPreconditionNotMet     = &DomainError{Kind: ErrKindPreconditionNotMet}
	ErrValidation             = &DomainError{Kind: ErrKindValidation}
	ErrAlreadyValidated       = &DomainError{Kind: ErrKindAlreadyValidated}
	ErrAlreadyCompleted       = &DomainError{Kind: ErrKindAlreadyCompleted}
	ErrConcurrentModification = &DomainError{Kind: ErrKindConcurrentModification}
	ErrNumberingExhausted     = &DomainError{Kind: ErrKindNumberingExhausted}
	ErrPersistence            = &DomainError{Kind: ErrKindPersistence}
	ErrExternalService        = &DomainError{Kind: ErrKindExternalService}
)

// ErrDuplicateDocumentNumber is returned by a Store when the unique number index rejects an insert.
// It never leaves the document manager, which retries with a fresh number.
var ErrDuplicateDocumentNumber = errors.New("duplicate document number")

// ErrDuplicateCaseDocument is returned by a Store when a case already holds its one document of a
// once-per-case kind.
var ErrDuplicateCaseDocument = errors.New("case already holds a document of this kind")

func NewNotFound(format string, args ...any) error {
	return &DomainError{Kind: ErrKindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidTransition(format string, args ...any) error {
	return &DomainError{Kind: ErrKindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

func NewPreconditionNotMet(message string, missing map[string]string) error {
	return &DomainError{Kind: ErrKindPreconditionNotMet, Message: message, Fields: missing}
}

func NewValidationError(message string, fields map[string]string) error {
	return &DomainError{Kind: ErrKindValidation, Message: message, Fields: fields}
}

func NewAlreadyValidated(format string, args ...any) error {
	return &DomainError{Kind: ErrKindAlreadyValidated, Message: fmt.Sprintf(format, args...)}
}

func NewAlreadyCompleted(format string, args ...any) error {
	return &DomainError{Kind: ErrKindAlreadyCompleted, Message: fmt.Sprintf(format, args...)}
}

func NewConcurrentModification(format string, args ...any) error {
	return &DomainError{Kind: ErrKindConcurrentModification, Message: fmt.Sprintf(format, args...)}
}

func NewNumberingExhausted(format string, args ...any) error {
	return &DomainError{Kind: ErrKindNumberingExhausted, Message: fmt.Sprintf(format, args...)}
}

func NewPersistenceError(message string, err error) error {
	return &DomainError{Kind: ErrKindPersistence, Message: message, Err: err}
}

func NewExternalServiceError(message string, err error) error {
	return &DomainError{Kind: ErrKindExternalService, Message: message, Err: err}
}

// AsDomainError wraps anything that is not already a DomainError as a persistence failure.
func AsDomainError(err error, message string) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return NewPersistenceError(message, err)
}

// KindOf returns the kind of a DomainError, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
