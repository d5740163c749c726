package model

import (
	"github.com/ppdb-id/ppdb-backend/internal/apperr"
)

type RegistrationStatus string

const (
	StatusDraft     RegistrationStatus = "draft"
	StatusSubmitted RegistrationStatus = "submitted"
	StatusVerified  RegistrationStatus = "verified"
	StatusRejected  RegistrationStatus = "rejected"
	StatusAccepted  RegistrationStatus = "accepted"
	StatusEnrolled  RegistrationStatus = "enrolled"
	StatusExpired   RegistrationStatus = "expired"
)

// Terminal reports whether no further transition can leave the status.
func (s RegistrationStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusEnrolled, StatusExpired:
		return true
	}
	return false
}

type Event string

const (
	EventSubmit Event = "submit"
	EventVerify Event = "verify"
	EventReject Event = "reject"
	EventAccept Event = "accept"
	EventEnroll Event = "enroll"
	EventExpire Event = "expire"
)

// Transition is the single gate for registration status changes. Every
// mutation that moves a registration between states goes through it; ad-hoc
// status writes are forbidden.
func Transition(from RegistrationStatus, ev Event) (RegistrationStatus, error) {
	switch ev {
	case EventSubmit:
		if from == StatusDraft {
			return StatusSubmitted, nil
		}
	case EventVerify:
		if from == StatusSubmitted {
			return StatusVerified, nil
		}
	case EventReject:
		// Admin review rejects submitted registrations; selection rejects
		// verified ones that fall outside the quota.
		if from == StatusSubmitted || from == StatusVerified {
			return StatusRejected, nil
		}
	case EventAccept:
		if from == StatusVerified {
			return StatusAccepted, nil
		}
	case EventEnroll:
		if from == StatusAccepted {
			return StatusEnrolled, nil
		}
	case EventExpire:
		if from == StatusAccepted {
			return StatusExpired, nil
		}
	}
	return from, apperr.Newf(apperr.KindConflict, "status_changed: cannot %s a %s registration", ev, from)
}
