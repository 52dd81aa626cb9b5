// Package domain contains entities without logic, just meta-data
// and small validation helpers.
package domain

import "time"

type RoomID string

// Room is meta only; live state (peers, polls, board) lives in core.
type Room struct {
	ID        RoomID
	Password  string
	CreatedAt time.Time
}

// CheckPassword compares exact-match. An empty room password admits
// any credential the client sends.
func (r *Room) CheckPassword(password string) error {
	if r.Password != "" && r.Password != password {
		return AuthErrorf("wrong password for room %s", r.ID)
	}
	return nil
}
