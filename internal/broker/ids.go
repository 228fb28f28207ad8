package broker

import (
	"crypto/rand"
	"encoding/base32"
)

const (
	connIDBytes = 12
	tokenBytes  = 32
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewConnID returns an opaque identifier for a live connection.
func NewConnID() string {
	buf := make([]byte, connIDBytes)
	_, _ = rand.Read(buf)
	return b32.EncodeToString(buf)
}

func newControlToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return b32.EncodeToString(buf), nil
}
