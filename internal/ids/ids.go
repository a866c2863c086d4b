// Package ids generates and validates the prefixed identifiers used across
// the fleet: "<prefix>-<nanoid>". The prefix set is closed; the suffix is a
// collision-resistant random string from a URL-safe alphabet. Call sites never
// type prefixes as literals; they go through this package.
package ids

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefix names the id space an identifier belongs to.
type Prefix string

const (
	PrefixCallsign    Prefix = "callsign"
	PrefixSortie      Prefix = "sortie"
	PrefixMission     Prefix = "mission"
	PrefixWorkOrder   Prefix = "workorder"
	PrefixCheckpoint  Prefix = "checkpoint"
	PrefixThread      Prefix = "thread"
	PrefixMessage     Prefix = "message"
	PrefixEvent       Prefix = "event"
	PrefixReservation Prefix = "reservation"
	PrefixLock        Prefix = "lock"
	PrefixCursor      Prefix = "cursor"
	PrefixSession     Prefix = "session"
)

// alphabet is the URL-safe nanoid alphabet. Note it includes '-', so suffixes
// may themselves contain dashes; parsing splits on the first dash only.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// suffixLength is the generated suffix size. Validation accepts any non-empty
// suffix so that short, human-chosen ids remain usable in tests and tooling.
const suffixLength = 21

var prefixes = map[Prefix]bool{
	PrefixCallsign:    true,
	PrefixSortie:      true,
	PrefixMission:     true,
	PrefixWorkOrder:   true,
	PrefixCheckpoint:  true,
	PrefixThread:      true,
	PrefixMessage:     true,
	PrefixEvent:       true,
	PrefixReservation: true,
	PrefixLock:        true,
	PrefixCursor:      true,
	PrefixSession:     true,
}

// KnownPrefix reports whether p belongs to the closed prefix set.
func KnownPrefix(p Prefix) bool {
	return prefixes[p]
}

// New mints a fresh identifier in p's id space.
func New(p Prefix) string {
	return string(p) + "-" + gonanoid.MustGenerate(alphabet, suffixLength)
}

// Parse splits an identifier into prefix and suffix, rejecting unknown
// prefixes and empty suffixes.
func Parse(id string) (Prefix, string, error) {
	idx := strings.Index(id, "-")
	if idx <= 0 {
		return "", "", fmt.Errorf("malformed id %q: missing prefix separator", id)
	}
	prefix := Prefix(id[:idx])
	suffix := id[idx+1:]
	if !KnownPrefix(prefix) {
		return "", "", fmt.Errorf("malformed id %q: unknown prefix %q", id, prefix)
	}
	if suffix == "" {
		return "", "", fmt.Errorf("malformed id %q: empty suffix", id)
	}
	return prefix, suffix, nil
}

// Valid reports whether id parses cleanly.
func Valid(id string) bool {
	_, _, err := Parse(id)
	return err == nil
}

// Is reports whether id belongs to p's id space.
func Is(id string, p Prefix) bool {
	prefix, _, err := Parse(id)
	return err == nil && prefix == p
}
