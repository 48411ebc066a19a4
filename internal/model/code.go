// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data. Struct tags tell encoding/json
// (`json:"..."`) and sqlx (`db:"..."`) how to map fields.
package model

import (
	"time"

	"github.com/sakif/stallcode/internal/geo"
)

// Field limits for a submitted code.
const (
	MaxCodeLength        = 10
	MaxDescriptionLength = 200
)

// Code is a community-submitted access code tied to a place, e.g. the keypad
// code of a café toilet.
//
// DERIVED FIELDS:
// Distance is filled in at query time relative to the query centre and is
// never written to the store. A nil pointer means "not computed", which is
// different from 0 m (standing right on it).
type Code struct {
	ID          string    `json:"id" db:"id"`
	Code        string    `json:"code" db:"code"`
	Description string    `json:"description,omitempty" db:"description"`
	Latitude    float64   `json:"latitude" db:"latitude"`
	Longitude   float64   `json:"longitude" db:"longitude"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	VoteScore   int       `json:"voteScore" db:"vote_score"`
	DeviceID    string    `json:"deviceId" db:"device_id"`
	Distance    *float64  `json:"distance,omitempty" db:"-"`
}

// Point returns the location of the code.
func (c *Code) Point() geo.Point {
	return geo.Point{Lat: c.Latitude, Lon: c.Longitude}
}

// WithDistanceFrom sets Distance relative to center.
func (c *Code) WithDistanceFrom(center geo.Point) {
	d := geo.Distance(center, c.Point())
	c.Distance = &d
}

// NewCode is what a user submits from their current location. The store
// assigns everything else.
type NewCode struct {
	Code        string  `json:"code" validate:"required,max=10"`
	Description string  `json:"description" validate:"max=200"`
	Latitude    float64 `json:"latitude" validate:"latitude"`
	Longitude   float64 `json:"longitude" validate:"longitude"`
}

// Point returns the submission location.
func (n NewCode) Point() geo.Point {
	return geo.Point{Lat: n.Latitude, Lon: n.Longitude}
}
