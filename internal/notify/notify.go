// Package notify decouples workflow milestones from their delivery channel.
// The core ships a log sink; mail or SMS delivery plugs in behind the same
// interface.
package notify

import (
	"context"
	"log/slog"
)

type Kind string

const (
	KindSubmissionReceived   Kind = "submission_received"
	KindRegistrationVerified Kind = "registration_verified"
	KindRegistrationRejected Kind = "registration_rejected"
	KindResultAnnounced      Kind = "result_announced"
	KindEmailVerification    Kind = "email_verification"
	KindPasswordReset        Kind = "password_reset"
)

// Notification is one message to one recipient.
type Notification struct {
	Kind      Kind
	Recipient string // email address
	Subject   string
	Body      string
}

type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the structured log. Delivery failures are
// impossible here, which also makes it the test double of choice.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Send(_ context.Context, n Notification) error {
	s.log.Info("notification",
		"kind", string(n.Kind), "recipient", n.Recipient, "subject", n.Subject)
	return nil
}
