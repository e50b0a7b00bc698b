package domain

import (
	"strings"
	"time"
)

// Code is a normalized (uppercase) pairing code identifying one live session.
type Code string

// ConnectionID identifies a single live relay connection.
type ConnectionID string

// Role identifies which side of a session a connection holds.
type Role string

const (
	RoleSource Role = "source"
	RoleViewer Role = "viewer"
)

// CodeLength is the fixed length of a pairing code.
const CodeLength = 6

// SessionTTL is the maximum age of a session before it expires.
const SessionTTL = time.Hour

// NormalizeCode maps user input to the canonical code form. Codes are
// case-insensitive on the wire and stored uppercase.
func NormalizeCode(raw string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(raw)))
}

// PairingSession binds a source connection and at most one viewer connection
// to a pairing code. ViewerConn transitions empty -> set exactly once and is
// never reassigned.
type PairingSession struct {
	Code       Code
	SourceConn ConnectionID
	ViewerConn ConnectionID
	CreatedAt  time.Time
}

// HasViewer reports whether a viewer has bound to the session.
func (s *PairingSession) HasViewer() bool {
	return s.ViewerConn != ""
}

// Expired reports whether the session's age exceeds ttl at the given time.
func (s *PairingSession) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// RoleOf returns the role a connection holds in the session, if any.
func (s *PairingSession) RoleOf(id ConnectionID) (Role, bool) {
	switch id {
	case s.SourceConn:
		return RoleSource, true
	case s.ViewerConn:
		if id != "" {
			return RoleViewer, true
		}
	}
	return "", false
}

// Counterpart returns the other participant's connection, if present.
func (s *PairingSession) Counterpart(id ConnectionID) (ConnectionID, bool) {
	switch id {
	case s.SourceConn:
		return s.ViewerConn, s.ViewerConn != ""
	case s.ViewerConn:
		return s.SourceConn, s.SourceConn != ""
	}
	return "", false
}

// RemovedSession describes the outcome of removing a session by connection:
// which role the departing connection held and who (if anyone) should be
// notified of the departure.
type RemovedSession struct {
	Session     *PairingSession
	Role        Role
	Counterpart ConnectionID
}
