package receiver

import (
	"math/rand"
	"strconv"

	"github.com/google/uuid"
)

// randomUUID is the entropy backed id source, replaced in tests.
var randomUUID = uuid.NewRandom

// newConnectionID returns a random token identifying one connection attempt.
// When the system entropy source fails a pseudo-random token is used so that
// connecting never blocks on entropy.
func newConnectionID() string {
	id, err := randomUUID()
	if err != nil {
		return fallbackConnectionID()
	}
	return id.String()
}

func fallbackConnectionID() string {
	return "fallback" + strconv.FormatInt(rand.Int63(), 36)
}
