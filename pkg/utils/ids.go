package utils

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID returns a random v4 UUID.
func NewSessionID() string {
	return uuid.NewString()
}

// NewShortID returns a prefixed 12 char id, e.g. "wrk_3k9x0c1m2p4q".
func NewShortID(prefix string) string {
	id, err := gonanoid.Generate(idAlphabet, 12)
	if err != nil {
		id = uuid.NewString()[:12]
	}
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
