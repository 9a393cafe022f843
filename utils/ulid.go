// Package utils holds small generation helpers shared across the table and
// catalog packages.
package utils

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyLock sync.Mutex
	entropy     = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// GenerateULID returns a new monotonic ULID, safe for concurrent callers.
func GenerateULID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// GenerateULIDString returns a new ULID rendered as its canonical string.
func GenerateULIDString() string {
	return GenerateULID().String()
}

// GenerateULIDWithTime returns a ULID whose timestamp component is t,
// used by tests that need deterministic, time-ordered file-name suffixes.
func GenerateULIDWithTime(t time.Time) ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy)
}

// ParseULID parses a ULID string.
func ParseULID(s string) (ulid.ULID, error) {
	return ulid.Parse(s)
}

// MustParseULID parses a ULID string, panics on error.
func MustParseULID(s string) ulid.ULID {
	return ulid.MustParse(s)
}
