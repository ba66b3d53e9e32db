package id

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New generates a ULID for the current instant. Audit entries and sweep
// reports use it so their keys sort by creation time.
func New() string {
	return At(time.Now())
}

// At generates a ULID whose timestamp component is t.
func At(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
