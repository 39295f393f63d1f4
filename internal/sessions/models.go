// Package sessions manages scheduled sessions, recurring series and the
// attendance lifecycle that turns forecast payments into actual ones.
package sessions

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/practice-platform/internal/recurrence"
)

var (
	// ErrNotFound is returned when a session or series does not exist for the account.
	ErrNotFound = errors.New("sessions: not found")

	// ErrAlreadyResolved is returned when attendance was already resolved to a different outcome.
	ErrAlreadyResolved = errors.New("sessions: attendance already resolved")

	// ErrInvalidToken is returned when a confirmation token does not match.
	ErrInvalidToken = errors.New("sessions: invalid confirmation token")

	// ErrNotifierDisabled is returned when no confirmation webhook is configured.
	ErrNotifierDisabled = errors.New("sessions: confirmation webhook not configured")

	// ErrInvalidTime is returned for a time of day outside HH:MM.
	ErrInvalidTime = errors.New("sessions: time of day must be HH:MM")
)

// Attendance is the resolution state of a scheduled session.
type Attendance string

const (
	AttendanceUnset    Attendance = "unset"
	AttendanceAttended Attendance = "attended"
	AttendanceMissed   Attendance = "missed"
)

// AttendanceFor maps the attended flag to its stored value.
func AttendanceFor(attended bool) Attendance {
	if attended {
		return AttendanceAttended
	}
	return AttendanceMissed
}

// Modality is how a session takes place.
type Modality string

const (
	ModalityInPerson Modality = "in_person"
	ModalityRemote   Modality = "remote"
)

// Series groups the sessions generated from one recurrence request.
type Series struct {
	ID        uuid.UUID          `json:"id"`
	AccountID string             `json:"account_id"`
	PatientID uuid.UUID          `json:"patient_id"`
	StartDate time.Time          `json:"start_date"`
	EndDate   time.Time          `json:"end_date"`
	Cadence   recurrence.Cadence `json:"cadence"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"created_at"`
}

// Session is one scheduled appointment.
type Session struct {
	ID                 uuid.UUID  `json:"id"`
	AccountID          string     `json:"account_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	Date               time.Time  `json:"session_date"`
	Time               string     `json:"session_time"`
	Attendance         Attendance `json:"attendance"`
	Notes              string     `json:"notes,omitempty"`
	SeriesID           *uuid.UUID `json:"series_id,omitempty"`
	Modality           Modality   `json:"modality"`
	MeetingLink        string     `json:"meeting_link,omitempty"`
	PatientConfirmed   bool       `json:"patient_confirmed"`
	PatientConfirmedAt *time.Time `json:"patient_confirmed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// ClinicalRecord documents an attended session.
type ClinicalRecord struct {
	ID         uuid.UUID  `json:"id"`
	AccountID  string     `json:"account_id"`
	PatientID  uuid.UUID  `json:"patient_id"`
	SessionID  *uuid.UUID `json:"session_id,omitempty"`
	RecordDate time.Time  `json:"record_date"`
	RecordTime string     `json:"record_time"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ValidateTimeOfDay checks an HH:MM 24h time.
func ValidateTimeOfDay(v string) error {
	if _, err := time.Parse("15:04", v); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTime, v)
	}
	return nil
}
