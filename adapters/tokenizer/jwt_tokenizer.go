package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/ports"
)

const (
	AudienceAccess  = "dair:access"
	AudienceRefresh = "dair:refresh"
)

// walletClaims name the signed-in wallet as the subject. Access tokens also
// carry the refresh id they were minted with, so revoking that refresh id
// revokes them too.
type walletClaims struct {
	jwt.RegisteredClaims
	Refresh string `json:"dair_rid,omitempty"`
}

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.Tokenizer {
	return &JWTTokenizer{signKey: signKey}
}

// GrantToAccessToken converts a Grant to an access JWT token
func (j *JWTTokenizer) GrantToAccessToken(grant *core.Grant) (string, error) {
	claims := walletClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(grant.Identity),
			ID:        grant.ID,
			ExpiresAt: jwt.NewNumericDate(grant.AccessExpiry),
			IssuedAt:  jwt.NewNumericDate(grant.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		Refresh: grant.RefreshID,
	}

	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signedToken, nil
}

// GrantToRefreshToken converts a Grant to a refresh JWT token
func (j *JWTTokenizer) GrantToRefreshToken(grant *core.Grant) (string, error) {
	claims := walletClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(grant.Identity),
			ID:        grant.RefreshID,
			ExpiresAt: jwt.NewNumericDate(grant.RefreshExpiry),
			IssuedAt:  jwt.NewNumericDate(grant.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceRefresh},
		},
	}

	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signedToken, nil
}

// AccessTokenToGrant parses an access token and returns the associated grant
func (j *JWTTokenizer) AccessTokenToGrant(tokenStr string) (*core.Grant, error) {
	claims := &walletClaims{}
	if err := j.parse(tokenStr, claims, AudienceAccess); err != nil {
		return nil, err
	}
	return &core.Grant{
		ID:           claims.ID,
		Identity:     core.Identity(claims.Subject),
		IssuedAt:     claims.IssuedAt.Time,
		AccessExpiry: claims.ExpiresAt.Time,
		RefreshID:    claims.Refresh,
	}, nil
}

// RefreshTokenToGrant parses a refresh token. Only the refresh half of the
// grant is populated.
func (j *JWTTokenizer) RefreshTokenToGrant(tokenStr string) (*core.Grant, error) {
	claims := &walletClaims{}
	if err := j.parse(tokenStr, claims, AudienceRefresh); err != nil {
		return nil, err
	}
	return &core.Grant{
		Identity:      core.Identity(claims.Subject),
		IssuedAt:      claims.IssuedAt.Time,
		RefreshExpiry: claims.ExpiresAt.Time,
		RefreshID:     claims.ID,
	}, nil
}

func (j *JWTTokenizer) parse(tokenStr string, claims *walletClaims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(audience), jwt.WithExpirationRequired(), jwt.WithIssuedAt())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return core.ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}
	if !token.Valid {
		return core.ErrInvalidToken
	}
	return nil
}
