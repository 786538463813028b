// Package convid computes and checks canonical two-party conversation ids.
//
// The id of the conversation between a and b is min(a,b) + "_" + max(a,b),
// so either participant can derive it without a lookup.
package convid

import (
	"fmt"
	"strings"
)

const separator = "_"

var ErrMalformed = fmt.Errorf("malformed conversation id")

// New returns the canonical id for the unordered pair {a, b}.
func New(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + separator + b
}

// Parse splits an id into its two participants.
// Ids whose halves are empty, equal, or out of canonical order are rejected.
func Parse(id string) ([2]string, error) {
	parts := strings.Split(id, separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return [2]string{}, fmt.Errorf("%w: %q", ErrMalformed, id)
	}
	if parts[0] >= parts[1] {
		return [2]string{}, fmt.Errorf("%w: %q is not canonical", ErrMalformed, id)
	}
	return [2]string{parts[0], parts[1]}, nil
}

// Peer returns the other participant of id as seen by self.
// ok is false when id is malformed or self is not one of its participants.
func Peer(id, self string) (peer string, ok bool) {
	participants, err := Parse(id)
	if err != nil {
		return "", false
	}
	switch self {
	case participants[0]:
		return participants[1], true
	case participants[1]:
		return participants[0], true
	}
	return "", false
}
