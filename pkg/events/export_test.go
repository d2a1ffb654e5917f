package events

import "log/slog"

// NewWithStream builds a Publisher over js without a NATS connection.
func NewWithStream(js streamPublisher, subject string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{js: js, subject: subject, logger: logger}
}
