package core

import "errors"

var (
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrAlreadyAuthenticated  = errors.New("session already authenticated")
	ErrDuplicateCorrelation  = errors.New("duplicate correlation id")
	ErrIdentityMismatch      = errors.New("reply signed by a different identity")
	ErrNotFound              = errors.New("not found")
	ErrTimeout               = errors.New("validation job timed out")
	ErrPlaceBusy             = errors.New("place already has an outstanding job")
	ErrNoValidator           = errors.New("no authenticated validator available")
	ErrSessionNotFound       = errors.New("session not found")
	ErrNotAuthenticated      = errors.New("session is not authenticated")
	ErrValidatorGone         = errors.New("validator disconnected")
	ErrJobLost               = errors.New("processing place has no outstanding job")
	ErrChallengeReused       = errors.New("challenge already consumed")
	ErrMalformedMessage      = errors.New("malformed message")
	ErrIncompleteMeasurement = errors.New("measurement is incomplete")
	ErrPlaceNotDispatchable  = errors.New("place is not awaiting a validator")
	ErrInvalidIdentity       = errors.New("invalid wallet public key")
	ErrInvalidPlace          = errors.New("invalid place")

	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidToken     = errors.New("invalid token")
	ErrSigninReplayed   = errors.New("sign-in signature already used")
)
