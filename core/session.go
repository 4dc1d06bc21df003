package core

import "time"

// SessionID is the registry handle for one live connection.
type SessionID string

// Session is one live coordination connection.
type Session struct {
	ID         SessionID
	Identity   Identity // empty until signup succeeds
	CreatedAt  time.Time
	LastActive time.Time
}

// Authenticated reports whether the session completed signup.
func (s Session) Authenticated() bool {
	return s.Identity != ""
}

// ValidationJob is a dispatched request awaiting a validator reply.
type ValidationJob struct {
	CorrelationID string
	PlaceID       string
	PlaceName     string
	Coordinates   Coordinates
	CreatedAt     time.Time
	Session       SessionID // session the job was sent to
	Validator     Identity  // identity the job was addressed to
}
