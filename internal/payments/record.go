// Package payments holds payment records tied to scheduled sessions and
// clinical records, including forecast payments created ahead of attendance.
package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no payment matches the lookup.
	ErrNotFound = errors.New("payments: not found")

	// ErrNegativeAmount is returned when the discount exceeds the amount.
	ErrNegativeAmount = errors.New("payments: discount exceeds amount")

	// ErrInvalidAmount is returned for negative amounts or discounts.
	ErrInvalidAmount = errors.New("payments: amount and discount must not be negative")
)

// Record is one payment row. A forecast record points at a scheduled session;
// an actual record points at a clinical record.
type Record struct {
	ID               uuid.UUID  `json:"id"`
	AccountID        string     `json:"account_id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	AmountCents      int64      `json:"amount_cents"`
	DiscountCents    int64      `json:"discount_cents"`
	FinalAmountCents int64      `json:"final_amount_cents"`
	Paid             bool       `json:"paid"`
	Forecast         bool       `json:"forecast"`
	Attended         *bool      `json:"attended,omitempty"`
	SessionID        *uuid.UUID `json:"session_id,omitempty"`
	ClinicalRecordID *uuid.UUID `json:"clinical_record_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// FinalAmount returns amount minus discount, rejecting negative results.
func FinalAmount(amountCents, discountCents int64) (int64, error) {
	if amountCents < 0 || discountCents < 0 {
		return 0, ErrInvalidAmount
	}
	final := amountCents - discountCents
	if final < 0 {
		return 0, fmt.Errorf("%w: amount=%s discount=%s", ErrNegativeAmount, FormatCents(amountCents), FormatCents(discountCents))
	}
	return final, nil
}

// FormatCents renders cents as a decimal string such as "70.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// NewForecast builds an unpaid forecast payment for a scheduled session.
func NewForecast(accountID string, patientID, sessionID uuid.UUID, amountCents int64) Record {
	sid := sessionID
	return Record{
		AccountID:   accountID,
		PatientID:   patientID,
		AmountCents: amountCents,
		Forecast:    true,
		SessionID:   &sid,
	}
}

// NewActual builds an unpaid payment for an attended session's clinical record.
func NewActual(accountID string, patientID, clinicalRecordID uuid.UUID, amountCents int64) Record {
	cid := clinicalRecordID
	attended := true
	return Record{
		AccountID:        accountID,
		PatientID:        patientID,
		AmountCents:      amountCents,
		Attended:         &attended,
		ClinicalRecordID: &cid,
	}
}
