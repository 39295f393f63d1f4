// Package connection tracks each account's messaging channel instance and
// reconciles it against the gateway's live state.
package connection

import (
	"errors"
	"strconv"
	"time"

	"github.com/wolfman30/practice-platform/internal/gateway"
)

var (
	// ErrNotFound is returned when the account has no instance.
	ErrNotFound = errors.New("connection: instance not found")

	// ErrNotConnected is returned when sending through an instance that is not connected.
	ErrNotConnected = errors.New("connection: instance is not connected")
)

// Status is the locally held connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Live reports whether the channel is up or coming up.
func (s Status) Live() bool {
	return s == StatusConnected || s == StatusConnecting
}

// Down reports whether the channel is disconnected or failed.
func (s Status) Down() bool {
	return s == StatusDisconnected || s == StatusError
}

// ParseStatus maps a stored value to a Status; unknown values are StatusError.
func ParseStatus(raw string) Status {
	switch s := Status(raw); s {
	case StatusDisconnected, StatusConnecting, StatusConnected, StatusError:
		return s
	default:
		return StatusError
	}
}

// Instance is the single channel instance of an account.
type Instance struct {
	AccountID        string     `json:"account_id"`
	InstanceName     string     `json:"instance_name"`
	Status           Status     `json:"status"`
	PhoneIdentifier  string     `json:"phone_identifier,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	PairingArtifact  string     `json:"pairing_artifact,omitempty"`
	PairingExpiresAt *time.Time `json:"pairing_expires_at,omitempty"`
	LastCheckedAt    time.Time  `json:"last_checked_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Stale reports whether the instance has held its current status for more
// than maxAge. UpdatedAt only moves on a status change, so periodic checks of
// a dead channel do not keep it fresh.
func (i Instance) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(i.UpdatedAt) > maxAge
}

// PairingValid reports whether the stored pairing artifact is still usable.
func (i Instance) PairingValid(now time.Time) bool {
	return i.PairingArtifact != "" && i.PairingExpiresAt != nil && now.Before(*i.PairingExpiresAt)
}

// InstanceName derives the gateway instance name for an account.
func InstanceName(accountID string) string {
	return "practice-" + accountID
}

// Reconcile computes the next stored instance from the current row and one
// gateway observation. It is pure so the poller and the change feed can both
// apply it and persist the result with a last-write-wins upsert.
func Reconcile(current Instance, obs gateway.Observation, now time.Time) Instance {
	next := current
	next.Status = Status(obs.State)
	if next.Status != StatusConnected && next.Status != StatusConnecting &&
		next.Status != StatusDisconnected && next.Status != StatusError {
		next.Status = StatusError
	}
	next.LastCheckedAt = now

	switch next.Status {
	case StatusConnected:
		if obs.PhoneIdentifier != "" {
			next.PhoneIdentifier = obs.PhoneIdentifier
		}
		next.LastError = ""
		next.PairingArtifact = ""
		next.PairingExpiresAt = nil
	case StatusConnecting:
		next.LastError = ""
		if !next.PairingValid(now) {
			next.PairingArtifact = ""
			next.PairingExpiresAt = nil
		}
	case StatusDisconnected:
		next.LastError = ""
		next.PairingArtifact = ""
		next.PairingExpiresAt = nil
	case StatusError:
		next.LastError = "gateway reported state " + strconv.Quote(obs.Detail)
		next.PairingArtifact = ""
		next.PairingExpiresAt = nil
	}

	if next.Status != current.Status {
		next.UpdatedAt = now
	}
	return next
}

// WentDown reports whether a transition moved the channel into a down state.
func WentDown(prev, next Status) bool {
	return next.Down() && prev != next
}

