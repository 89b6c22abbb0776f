// Package proforma converts a draft proforma invoice into a committed sales
// invoice at most once.
package proforma

import (
	"fmt"
	"time"

	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/shared"
)

// State is the conversion state of a proforma.
type State string

const (
	StateDraft      State = "DRAFT"
	StateConverting State = "CONVERTING"
	StateConverted  State = "CONVERTED"
)

// Machine holds the conversion state of one proforma and rejects invalid transitions.
type Machine struct {
	ProformaID int64
	state      State
}

// NewMachine starts a machine in state.
func NewMachine(proformaID int64, state State) *Machine {
	return &Machine{ProformaID: proformaID, state: state}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Begin moves Draft to Converting.
func (m *Machine) Begin() error {
	switch m.state {
	case StateDraft:
		m.state = StateConverting
		return nil
	case StateConverted:
		return alreadyConverted(m.ProformaID, nil)
	}
	return m.invalid("begin")
}

// Complete moves Converting to Converted.
func (m *Machine) Complete() error {
	if m.state != StateConverting {
		return m.invalid("complete")
	}
	m.state = StateConverted
	return nil
}

// Abort moves Converting back to Draft.
func (m *Machine) Abort() error {
	if m.state != StateConverting {
		return m.invalid("abort")
	}
	m.state = StateDraft
	return nil
}

func (m *Machine) invalid(op string) error {
	return fmt.Errorf("proforma %d: %s from %s: %w", m.ProformaID, op, m.state, shared.ErrInvalidState)
}

func alreadyConverted(proformaID int64, cause error) error {
	return &shared.ConflictError{
		Code: shared.ConflictAlreadyConverted,
		Key:  fmt.Sprintf("proforma:%d", proformaID),
		Err:  cause,
	}
}

// ValidationRecord states that a proforma became a sales invoice. Its
// existence is the only evidence of conversion.
type ValidationRecord struct {
	ID             int64     `json:"id"`
	ProformaID     int64     `json:"proforma_id"`
	SalesInvoiceID int64     `json:"sales_invoice_id"`
	ValidatedAt    time.Time `json:"validated_at"`
	ValidatedBy    string    `json:"validated_by,omitempty"`
}

// ConvertInput carries the header of the sales invoice to create.
type ConvertInput struct {
	Prefix      string    `json:"prefix" validate:"max=20"`
	BillDate    time.Time `json:"bill_date"`
	PartyGSTIN  string    `json:"party_gstin" validate:"omitempty,len=15"`
	ValidatedBy string    `json:"validated_by" validate:"max=120"`
}

// ConvertResult is the sales invoice, its validation record and posting.
type ConvertResult struct {
	Sales   *invoice.Document `json:"sales"`
	Record  ValidationRecord  `json:"record"`
	Posting ledger.Posting    `json:"posting"`
}

// RecordFilter narrows validation record listings.
type RecordFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// Link joins a validation record with the sales invoice it points at, or a
// proforma-sourced sales invoice with no record.
type Link struct {
	HasRecord        bool
	RecordID         int64
	ProformaID       int64
	SalesInvoiceID   int64
	HasInvoice       bool
	InvoiceID        int64
	InvoiceKind      invoice.DocumentKind
	InvoiceStatus    invoice.Status
	SourceProformaID *int64
}
