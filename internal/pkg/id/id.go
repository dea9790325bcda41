package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. Used for subject ids (DynamoDB partition
// keys) and token ids; ULIDs sort by creation time.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
