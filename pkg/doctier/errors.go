package doctier

import (
	"errors"
	"strings"
)

// ErrNoStats is returned by Stats for a document the service has never seen.
var ErrNoStats = errors.New("doctier: no access stats recorded")

// RemoteError is an error reported by the service in a reply.
type RemoteError struct {
	Subject string
	Message string
}

func (e *RemoteError) Error() string {
	return "doctier: " + e.Subject + ": " + e.Message
}

// remoteError maps a reply's error text onto the package errors.
func remoteError(subject, msg string) error {
	if strings.Contains(msg, "no access stats recorded") {
		return errors.Join(ErrNoStats, &RemoteError{Subject: subject, Message: msg})
	}
	return &RemoteError{Subject: subject, Message: msg}
}
