package bridge

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewCallID returns a fresh correlation id. Random UUIDs are preferred; when
// the system random source fails a monotonic ULID is used instead.
func NewCallID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return fallbackCallID()
}

func fallbackCallID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
