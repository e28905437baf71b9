package model

type Session struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
	CreatedAt int64  `json:"created_at"`
}

// SessionWithUser is a session joined to the current state of its user.
type SessionWithUser struct {
	Session *Session     `json:"session"`
	User    *SessionUser `json:"user"`
}
