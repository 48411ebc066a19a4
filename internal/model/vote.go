package model

import "time"

// Vote values. A device holds at most one Vote per code.
const (
	Upvote   = 1
	Downvote = -1
)

// Vote is one device's stance on one code.
type Vote struct {
	ID        string    `json:"id" db:"id"`
	CodeID    string    `json:"codeId" db:"code_id"`
	DeviceID  string    `json:"deviceId" db:"device_id"`
	Value     int       `json:"value" db:"value"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ValidVoteValue reports whether v is an upvote or a downvote.
func ValidVoteValue(v int) bool {
	return v == Upvote || v == Downvote
}
