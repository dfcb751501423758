package chat

import "time"

// Session captures a transient anonymous conversation.
type Session struct {
	ID           string    `json:"id"`
	PersonaID    string    `json:"personaId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// Expired reports whether the session has been idle for longer than ttl.
// A non-positive ttl never expires.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastActiveAt) > ttl
}
