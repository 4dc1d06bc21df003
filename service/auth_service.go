package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/dair/adapters/signature"
	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/ports"
)

// AuthService handles wallet sign-in and bearer token lifecycle
type AuthService struct {
	tokenizer   ports.Tokenizer
	revocations ports.RevocationStore
	eventPub    ports.EventPublisher
	verifier    ports.Verifier
	logger      *zap.Logger

	replayWindow time.Duration
	accessTTL    time.Duration
	refreshTTL   time.Duration
	now          func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	revocations ports.RevocationStore,
	eventPub ports.EventPublisher,
	verifier ports.Verifier,
	logger *zap.Logger,
	replayWindow time.Duration,
) *AuthService {
	return &AuthService{
		tokenizer:    tokenizer,
		revocations:  revocations,
		eventPub:     eventPub,
		verifier:     verifier,
		logger:       logger.Named("auth"),
		replayWindow: replayWindow,
		accessTTL:    5 * time.Minute,
		refreshTTL:   5 * 24 * time.Hour, // 5 days
		now:          time.Now,
	}
}

// Login authenticates a wallet by its signature over the sign-in message
func (s *AuthService) Login(ctx context.Context, publicKey, message string, sig []byte) (string, string, error) {
	identity, err := core.ParseIdentity(publicKey)
	if err != nil {
		return "", "", err
	}
	if !signature.IsSigninMessage(publicKey, message) {
		return "", "", fmt.Errorf("%w: unexpected sign-in message", core.ErrInvalidSignature)
	}
	if !s.verifier.Verify(publicKey, []byte(message), sig) {
		return "", "", core.ErrInvalidSignature
	}

	// A signature opens at most one grant within the replay window
	sum := sha256.Sum256(sig)
	replayKey := "signin:" + hex.EncodeToString(sum[:])
	fresh, err := s.revocations.Revoke(ctx, replayKey, s.replayWindow)
	if err != nil {
		return "", "", fmt.Errorf("failed to record sign-in: %w", err)
	}
	if !fresh {
		return "", "", core.ErrSigninReplayed
	}

	access, refresh, err := s.issue(identity)
	if err != nil {
		return "", "", err
	}
	s.logger.Info("wallet signed in", zap.Stringer("identity", identity))
	return access, refresh, nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *AuthService) Refresh(ctx context.Context, refreshTokenStr string) (string, string, error) {
	grant, err := s.tokenizer.RefreshTokenToGrant(refreshTokenStr)
	if err != nil {
		return "", "", err
	}

	if s.now().After(grant.RefreshExpiry) {
		return "", "", core.ErrTokenExpired
	}

	// The old refresh token stays revoked for the rest of its lifetime and
	// only the first of two concurrent refreshes wins
	fresh, err := s.revocations.Revoke(ctx, grant.RefreshID, grant.RefreshExpiry.Sub(s.now()))
	if err != nil {
		return "", "", fmt.Errorf("failed to revoke old token: %w", err)
	}
	if !fresh {
		return "", "", core.ErrTokenInvalidated
	}

	return s.issue(grant.Identity)
}

// Logout invalidates a refresh token and every access token derived from it
func (s *AuthService) Logout(ctx context.Context, refreshTokenStr string) error {
	grant, err := s.tokenizer.RefreshTokenToGrant(refreshTokenStr)
	if err != nil {
		return err
	}

	remaining := grant.RefreshExpiry.Sub(s.now())
	if remaining <= 0 {
		remaining = time.Hour
	}
	if _, err := s.revocations.Revoke(ctx, grant.RefreshID, remaining); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	if err := s.eventPub.PublishLogout(ctx, grant.Identity, grant.RefreshID); err != nil {
		s.logger.Warn("failed to publish logout event", zap.Stringer("identity", grant.Identity), zap.Error(err))
	}
	return nil
}

// ValidateAccessToken returns the grant behind a live access token
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Grant, error) {
	grant, err := s.tokenizer.AccessTokenToGrant(accessToken)
	if err != nil {
		return nil, err
	}

	if s.now().After(grant.AccessExpiry) {
		return nil, core.ErrTokenExpired
	}

	if grant.RefreshID != "" {
		revoked, err := s.revocations.IsRevoked(ctx, grant.RefreshID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token revocation: %w", err)
		}
		if revoked {
			return nil, core.ErrTokenInvalidated
		}
	}

	return grant, nil
}

// AccessTTL is the lifetime of issued access tokens
func (s *AuthService) AccessTTL() time.Duration {
	return s.accessTTL
}

func (s *AuthService) issue(identity core.Identity) (string, string, error) {
	now := s.now()
	grant := &core.Grant{
		ID:            uuid.New().String(),
		Identity:      identity,
		IssuedAt:      now,
		RefreshExpiry: now.Add(s.refreshTTL),
		AccessExpiry:  now.Add(s.accessTTL),
		RefreshID:     uuid.New().String(),
	}

	accessToken, err := s.tokenizer.GrantToAccessToken(grant)
	if err != nil {
		return "", "", fmt.Errorf("failed to create access token: %w", err)
	}
	refreshToken, err := s.tokenizer.GrantToRefreshToken(grant)
	if err != nil {
		return "", "", fmt.Errorf("failed to create refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}
