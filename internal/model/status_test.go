package model

import (
	"testing"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
)

func TestTransitionAllowed(t *testing.T) {
	cases := []struct {
		from RegistrationStatus
		ev   Event
		want RegistrationStatus
	}{
		{StatusDraft, EventSubmit, StatusSubmitted},
		{StatusSubmitted, EventVerify, StatusVerified},
		{StatusSubmitted, EventReject, StatusRejected},
		{StatusVerified, EventReject, StatusRejected},
		{StatusVerified, EventAccept, StatusAccepted},
		{StatusAccepted, EventEnroll, StatusEnrolled},
		{StatusAccepted, EventExpire, StatusExpired},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.ev)
		if err != nil {
			t.Errorf("Transition(%s, %s): unexpected error %v", tc.from, tc.ev, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Transition(%s, %s) = %s, want %s", tc.from, tc.ev, got, tc.want)
		}
	}
}

func TestTransitionForbidden(t *testing.T) {
	cases := []struct {
		from RegistrationStatus
		ev   Event
	}{
		{StatusDraft, EventVerify},
		{StatusDraft, EventAccept},
		{StatusSubmitted, EventSubmit},
		{StatusSubmitted, EventAccept},
		{StatusVerified, EventVerify},
		{StatusAccepted, EventAccept},
		{StatusRejected, EventVerify},
		{StatusRejected, EventAccept},
		{StatusEnrolled, EventExpire},
		{StatusExpired, EventEnroll},
	}
	for _, tc := range cases {
		_, err := Transition(tc.from, tc.ev)
		if err == nil {
			t.Errorf("Transition(%s, %s): expected error", tc.from, tc.ev)
			continue
		}
		if !apperr.IsKind(err, apperr.KindConflict) {
			t.Errorf("Transition(%s, %s): kind = %v, want Conflict", tc.from, tc.ev, apperr.KindOf(err))
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[RegistrationStatus]bool{
		StatusRejected: true, StatusEnrolled: true, StatusExpired: true,
	}
	all := []RegistrationStatus{
		StatusDraft, StatusSubmitted, StatusVerified,
		StatusRejected, StatusAccepted, StatusEnrolled, StatusExpired,
	}
	for _, s := range all {
		if s.Terminal() != terminal[s] {
			t.Errorf("%s.Terminal() = %v, want %v", s, s.Terminal(), terminal[s])
		}
	}
}
