// Package sessions is the authoritative record of the single active login
// per user. Creating a session for a user who already has one supersedes
// the old session unconditionally.
package sessions

import "time"

// Session is the server's record of the one currently-valid login for a user.
type Session struct {
	ID               string    // Opaque random identifier generated at login
	UserID           string    // Owner of the session
	LoginTime        time.Time // When the session was created
	LastActivityTime time.Time // Updated on each verified request
	IPAddress        string    // Optional client metadata
	UserAgent        string    // Optional client metadata
}

// SupersededEvent is emitted when a new login replaces an existing session.
type SupersededEvent struct {
	UserID       string
	OldSessionID string
}
