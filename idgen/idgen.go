// Package idgen makes the ids of journal rows and HTTP requests.
package idgen

import "github.com/google/uuid"

// Generator returns a new unique id on each call.
type Generator func() string

// UUIDv7 generates RFC 9562 version 7 UUIDs. They sort by creation time,
// which keeps rows written in the same millisecond in order.
func UUIDv7() Generator {
	return func() string { return uuid.Must(uuid.NewV7()).String() }
}

// Prefixed tags every id of gen with prefix, such as "lev_" or "req_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Default is the generator used when none is configured.
var Default = UUIDv7()
