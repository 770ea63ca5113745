package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a task identifier. ULIDs embed
// a millisecond timestamp plus monotonic entropy, so ids minted within the
// same clock tick remain unique and tasks sort by creation time.
func NewID() string {
	return ulid.Make().String()
}
