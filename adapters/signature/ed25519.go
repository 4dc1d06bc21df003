package signature

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/layer-3/dair/ports"
)

// Ed25519 verifies Solana wallet signatures over UTF-8 messages.
type Ed25519 struct{}

// NewEd25519 creates a new wallet signature verifier
func NewEd25519() ports.Verifier {
	return Ed25519{}
}

// Verify reports whether signature is a valid ed25519 signature of message
// by the base58 encoded publicKey.
func (Ed25519) Verify(publicKey string, message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	key, err := base58.Decode(publicKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(key), message, signature)
}

// SignupMessage is the text a validator signs to join the coordination channel.
func SignupMessage(callbackID, publicKey string) []byte {
	return []byte(fmt.Sprintf("Signed message for %s, %s", callbackID, publicKey))
}

// ReplyMessage is the text a validator signs when answering a dispatch.
func ReplyMessage(callbackID string) []byte {
	return []byte("Replying to " + callbackID)
}

// SigninPrefix is the fixed head of the HTTP sign-in message; the wallet
// appends a local timestamp.
func SigninPrefix(publicKey string) string {
	return "Sign into Dair with " + publicKey + " at "
}

// IsSigninMessage reports whether message is a sign-in message for publicKey.
func IsSigninMessage(publicKey, message string) bool {
	prefix := SigninPrefix(publicKey)
	return strings.HasPrefix(message, prefix) && len(message) > len(prefix)
}
