package models

import "time"

// Role of an authenticated caller
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the resolved caller of a core operation
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the caller may run instrument-wide operations
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// WatchlistEntry is a ticker a user follows
type WatchlistEntry struct {
	UserID  string    `json:"userId" db:"user_id"`
	Ticker  string    `json:"ticker" db:"ticker"`
	AddedAt time.Time `json:"addedAt" db:"added_at"`
}
