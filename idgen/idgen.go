// Package idgen generates identifiers for batches and requests.
//
// Constructors that need IDs accept a Generator, so tests can swap in a
// deterministic Sequence.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings. They sort by
// creation time.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix to every ID of gen, e.g. "batch_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns prefix1, prefix2, ... It is safe for concurrent use.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + strconv.FormatInt(n.Add(1), 10)
	}
}

// Batch is the generator for batch IDs.
var Batch Generator = Prefixed("batch_", UUIDv7())

// Trace is the generator for request trace IDs.
var Trace Generator = Prefixed("trc_", UUIDv7())

// Parse validates a bare UUID string and returns its canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return u.String(), nil
}
