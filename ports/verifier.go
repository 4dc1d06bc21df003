package ports

// Verifier checks a detached wallet signature. Implementations must fail
// closed: any malformed input yields false.
type Verifier interface {
	Verify(publicKey string, message, signature []byte) bool
}
