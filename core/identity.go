package core

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// Identity is a validator wallet public key in its canonical base58 form.
type Identity string

// ParseIdentity decodes a base58 wallet key and returns it in canonical form.
func ParseIdentity(s string) (Identity, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: key is %d bytes", ErrInvalidIdentity, len(raw))
	}
	return Identity(base58.Encode(raw)), nil
}

// PublicKey returns the raw ed25519 key, or nil when the identity does not decode.
func (i Identity) PublicKey() ed25519.PublicKey {
	raw, err := base58.Decode(string(i))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil
	}
	return ed25519.PublicKey(raw)
}

func (i Identity) String() string {
	return string(i)
}
