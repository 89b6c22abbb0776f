package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates a transition the current state does not allow.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyConverted matches conflicts raised by a repeated proforma conversion.
	ErrAlreadyConverted = errors.New("proforma already converted")
	// ErrRetryAllocation matches conflicts the caller may resolve by retrying.
	ErrRetryAllocation = errors.New("retry allocation")
	// ErrConsistency matches every *ConsistencyError.
	ErrConsistency = errors.New("consistency violation")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError is returned before any persistence when inputs are out of range.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Reason: reason}}}
}

// Add appends a field failure.
func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns e when it holds failures and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictCode classifies a ConflictError.
type ConflictCode string

const (
	// ConflictAlreadyConverted means a validation record already exists.
	ConflictAlreadyConverted ConflictCode = "AlreadyConverted"
	// ConflictRetryAllocation means the store stayed contended past the retry budget.
	ConflictRetryAllocation ConflictCode = "RetryAllocation"
	// ConflictDuplicateNumber means a document number collided in its namespace.
	ConflictDuplicateNumber ConflictCode = "DuplicateNumber"
)

// ConflictError reports a sequence collision or duplicate conversion.
type ConflictError struct {
	Code ConflictCode
	Key  string
	Err  error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("conflict %s", e.Code)
	if e.Key != "" {
		msg += " (" + e.Key + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func (e *ConflictError) Is(target error) bool {
	switch target {
	case ErrAlreadyConverted:
		return e.Code == ConflictAlreadyConverted
	case ErrRetryAllocation:
		return e.Code == ConflictRetryAllocation || e.Code == ConflictDuplicateNumber
	}
	return false
}

// Retryable reports whether resubmitting the same request may succeed.
func (e *ConflictError) Retryable() bool {
	return e.Code != ConflictAlreadyConverted
}

// ConsistencyKind names a reconciliation finding.
type ConsistencyKind string

const (
	// OrphanSalesInvoice is a sales invoice sourced from a proforma with no validation record.
	OrphanSalesInvoice ConsistencyKind = "orphan_sales_invoice"
	// OrphanValidationRecord is a validation record whose sales invoice is missing.
	OrphanValidationRecord ConsistencyKind = "orphan_validation_record"
	// MismatchedValidationRecord points at a document that is not a live sales invoice for the proforma.
	MismatchedValidationRecord ConsistencyKind = "mismatched_validation_record"
	// TotalsDrift is a stored total that no longer matches its lines.
	TotalsDrift ConsistencyKind = "totals_drift"
)

// ConsistencyError is surfaced for manual reconciliation and never repaired automatically.
type ConsistencyError struct {
	Kind           ConsistencyKind
	ProformaID     int64
	SalesInvoiceID int64
	Detail         string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency %s: proforma=%d sales_invoice=%d: %s", e.Kind, e.ProformaID, e.SalesInvoiceID, e.Detail)
}

func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistency
}
