package core

import "time"

// Challenge is a one-shot signup proof request on the coordination channel
type Challenge struct {
	CorrelationID string    // Client supplied callback id the wallet signed over
	Message       []byte    // Exact bytes the wallet must have signed
	IssuedAt      time.Time // When the signup attempt arrived
}

// Grant represents an authenticated HTTP session backed by bearer tokens
type Grant struct {
	ID            string    // Unique grant identifier
	Identity      Identity  // Wallet that signed in
	IssuedAt      time.Time // When the grant was created
	RefreshExpiry time.Time // When the refresh capability expires
	AccessExpiry  time.Time // When the access capability expires
	RefreshID     string    // Unique identifier for the refresh token
}
